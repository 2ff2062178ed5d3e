// Package operations is the catalogue of named host operations that action nodes invoke.
package operations

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/protocol"
)

// Func performs one operation for a tenant. Returning a protocol.BranchResult selects the
// outgoing branch of the action node.
type Func func(ctx context.Context, tenant models.Tenant, params map[string]any) (any, error)

type operation struct {
	fn         Func
	idempotent bool
}

// Registry implements protocol.OperationInvoker.
type Registry struct {
	logger *slog.Logger

	mu         sync.RWMutex
	operations map[string]operation
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:     logger.With("module", "operations"),
		operations: make(map[string]operation),
	}
}

// Register adds fn under name. Idempotent operations may be retried by the caller after a failure.
func (r *Registry) Register(name string, fn Func, idempotent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[name]; exists {
		r.logger.Warn("Replacing registered operation", "operation", name)
	}

	r.operations[name] = operation{fn: fn, idempotent: idempotent}
}

func (r *Registry) Invoke(ctx context.Context, tenant models.Tenant, name string, params map[string]any) (any, error) {
	r.mu.RLock()
	op, ok := r.operations[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownOperation, name)
	}

	r.logger.DebugContext(ctx, "Invoking operation", "operation", name, "project_id", tenant.ProjectID)

	return op.fn(ctx, tenant, params)
}

func (r *Registry) Idempotent(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.operations[name].idempotent
}

// Names returns the registered operation names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.operations))
	for name := range r.operations {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
