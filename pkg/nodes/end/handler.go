// Package end implements the terminal node.
package end

import (
	"context"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/validation"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Kind() models.NodeKind { return models.KindEnd }

func (h *Handler) CanHandle(kind models.NodeKind) bool { return kind == models.KindEnd }

func (h *Handler) Name() string { return "End" }

func (h *Handler) Description() string {
	return "Finishes the conversation as completed or failed."
}

func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success": map[string]any{"type": "boolean"},
		},
	}
}

func (h *Handler) Validate(node models.Node) validation.Result {
	if _, ok := node.(*models.EndNode); !ok {
		return nodes.WrongKind(node, models.KindEnd)
	}

	return nodes.ValidateConfig(node, h.Schema())
}

func (h *Handler) Execute(_ context.Context, node models.Node, _ *protocol.ExecutionContext) models.Outcome {
	n, ok := node.(*models.EndNode)
	if !ok {
		return models.Failf(models.ErrCodeInvalidNode, node.NodeID(), false, "not an end node", nil)
	}

	message := "completed"
	if !n.Success {
		message = "ended unsuccessfully"
	}

	return models.Complete{Report: models.Report{Message: message}, Success: n.Success}
}
