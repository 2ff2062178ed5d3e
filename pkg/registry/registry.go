// Package registry maps node kinds to the handlers that execute them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/validation"
)

var (
	ErrHandlerNotFound = errors.New("no handler registered for node kind")
	ErrHandlerMismatch = errors.New("handler cannot handle the kind it reports")
)

// Registry is built once at startup and only read afterwards.
type Registry struct {
	logger   *slog.Logger
	handlers map[models.NodeKind]protocol.Handler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log,
		handlers: make(map[models.NodeKind]protocol.Handler),
	}
}

// Register adds handler under its Kind. A handler whose CanHandle rejects that kind is refused.
func (r *Registry) Register(handler protocol.Handler) error {
	kind := handler.Kind()
	if !handler.CanHandle(kind) {
		return fmt.Errorf("%w: %s", ErrHandlerMismatch, kind)
	}

	if _, exists := r.handlers[kind]; exists {
		r.logger.Warn("Replacing node handler", slog.String("kind", string(kind)))
	}

	r.handlers[kind] = handler

	return nil
}

func (r *Registry) Handler(kind models.NodeKind) (protocol.Handler, error) {
	handler, ok := r.handlers[kind]
	if !ok || !handler.CanHandle(kind) {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, kind)
	}

	return handler, nil
}

// Handlers returns the registered handlers ordered by kind.
func (r *Registry) Handlers() []protocol.Handler {
	kinds := make([]models.NodeKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}

	slices.Sort(kinds)

	out := make([]protocol.Handler, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, r.handlers[kind])
	}

	return out
}

// ValidateNodes runs each node's handler validation. Nodes of an unregistered
// kind are reported as errors.
func (r *Registry) ValidateNodes(nodes map[string]models.Node) validation.Result {
	result := validation.Valid()

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	for _, id := range ids {
		node := nodes[id]

		handler, err := r.Handler(node.Kind())
		if err != nil {
			result.AddError(id, err.Error())

			continue
		}

		result.Merge(handler.Validate(node))
	}

	return result
}
