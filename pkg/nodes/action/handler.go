// Package action implements the node that invokes a named host operation.
package action

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/template"
	"github.com/dukex/convoflow/pkg/validation"
)

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 200 * time.Millisecond
)

type Handler struct {
	invoker         protocol.OperationInvoker
	maxAttempts     uint64
	initialInterval time.Duration
}

type Option func(*Handler)

// WithRetry bounds the attempts made for idempotent operations.
func WithRetry(maxAttempts uint64, initialInterval time.Duration) Option {
	return func(h *Handler) {
		h.maxAttempts = max(maxAttempts, 1)
		h.initialInterval = initialInterval
	}
}

func NewHandler(invoker protocol.OperationInvoker, opts ...Option) *Handler {
	h := &Handler{
		invoker:         invoker,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: DefaultInitialInterval,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Handler) Kind() models.NodeKind { return models.KindAction }

func (h *Handler) CanHandle(kind models.NodeKind) bool { return kind == models.KindAction }

func (h *Handler) Name() string { return "Action" }

func (h *Handler) Description() string {
	return "Invokes a named operation and stores its result in a variable."
}

func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"get_balance", "add_points"},
			},
			"params": map[string]any{
				"type":        "object",
				"description": "Operation parameters. String values support {{variable.path}} placeholders.",
			},
			"result_variable": map[string]any{
				"type":    "string",
				"pattern": `^[A-Za-z0-9_\-]*$`,
			},
		},
		"required": []string{"operation"},
	}
}

func (h *Handler) Validate(node models.Node) validation.Result {
	if _, ok := node.(*models.ActionNode); !ok {
		return nodes.WrongKind(node, models.KindAction)
	}

	return nodes.ValidateConfig(node, h.Schema())
}

func (h *Handler) Execute(ctx context.Context, node models.Node, exec *protocol.ExecutionContext) models.Outcome {
	n, ok := node.(*models.ActionNode)
	if !ok {
		return models.Failf(models.ErrCodeInvalidNode, node.NodeID(), false, "not an action node", nil)
	}

	params := map[string]any{}
	if n.Params != nil {
		params, _ = template.ResolveValue(ctx, n.Params, exec.Scope).(map[string]any)
	}

	var (
		result   any
		attempts int
	)

	call := func() error {
		attempts++

		value, err := h.invoker.Invoke(ctx, exec.Tenant, n.Operation, params)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownOperation) {
				return backoff.Permanent(err)
			}

			return err
		}

		result = value

		return nil
	}

	idempotent := h.invoker.Idempotent(n.Operation)

	var err error
	if idempotent {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = h.initialInterval
		policy.MaxElapsedTime = 0

		err = backoff.Retry(call, backoff.WithContext(backoff.WithMaxRetries(policy, h.maxAttempts-1), ctx))
	} else {
		err = call()
	}

	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}

		return models.Failf(models.ErrCodeOperation, n.ID, idempotent && !errors.Is(err, protocol.ErrUnknownOperation), "operation failed", map[string]any{
			"operation": n.Operation,
			"error":     err.Error(),
			"attempts":  attempts,
		})
	}

	label := ""
	if branched, ok := result.(protocol.BranchResult); ok {
		label, result = branched.Label, branched.Value
	}

	if n.ResultVariable != "" {
		exec.SetVariable(n.ResultVariable, result)
	}

	report := models.Report{
		Message: "invoked " + n.Operation,
		Data: map[string]any{
			"operation": n.Operation,
			"result":    result,
			"attempts":  attempts,
		},
	}

	if label != "" {
		return models.Branch{Report: report, Label: label}
	}

	return models.Continue{Report: report}
}
