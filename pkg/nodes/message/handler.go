// Package message implements the node that sends a chat message.
package message

import (
	"context"
	"errors"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/validation"
)

// Placeholder is sent when a published node has no template.
const Placeholder = "..."

type Handler struct {
	sender protocol.Sender
}

func NewHandler(sender protocol.Sender) *Handler {
	return &Handler{sender: sender}
}

func (h *Handler) Kind() models.NodeKind { return models.KindMessage }

func (h *Handler) CanHandle(kind models.NodeKind) bool { return kind == models.KindMessage }

func (h *Handler) Name() string { return "Message" }

func (h *Handler) Description() string {
	return "Sends a templated text message, optionally with inline buttons, to the conversation's chat."
}

func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Message text. Supports {{variable.path}} placeholders.",
				"examples":    []string{"Balance: {{bal}}", "Hello {{telegram.username}}!"},
			},
			"buttons": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{"type": "string", "minLength": 1},
						"data": map[string]any{"type": "string"},
						"url":  map[string]any{"type": "string"},
					},
					"required": []string{"text"},
				},
			},
		},
		"required": []string{"template"},
	}
}

func (h *Handler) Validate(node models.Node) validation.Result {
	if _, ok := node.(*models.MessageNode); !ok {
		return nodes.WrongKind(node, models.KindMessage)
	}

	return nodes.ValidateConfig(node, h.Schema())
}

func (h *Handler) Execute(ctx context.Context, node models.Node, exec *protocol.ExecutionContext) models.Outcome {
	n, ok := node.(*models.MessageNode)
	if !ok {
		return models.Failf(models.ErrCodeInvalidNode, node.NodeID(), false, "not a message node", nil)
	}

	text := Placeholder
	if strings.TrimSpace(n.Template) != "" {
		text = exec.Resolve(ctx, n.Template)
	}

	credential := exec.Credential()
	if credential == "" {
		return models.Failf(models.ErrCodeMissingCredential, n.ID, false, "bot credential is not configured", map[string]any{
			"project_id": exec.Tenant.ProjectID,
		})
	}

	buttons := make([]models.Button, 0, len(n.Buttons))
	for _, b := range n.Buttons {
		buttons = append(buttons, models.Button{
			Text: exec.Resolve(ctx, b.Text),
			Data: exec.Resolve(ctx, b.Data),
			URL:  exec.Resolve(ctx, b.URL),
		})
	}

	delivery, err := h.sender.Send(ctx, credential, protocol.OutgoingMessage{
		ChatID:  exec.Execution.ChatID,
		Text:    text,
		Buttons: buttons,
	})
	if err != nil {
		detail := map[string]any{"text": text, "error": err.Error()}

		var sendErr *protocol.SendError
		if errors.As(err, &sendErr) {
			detail["status"] = sendErr.Status
			detail["detail"] = sendErr.Detail
		}

		return models.Failf(models.ErrCodeTransport, n.ID, true, "failed to send message", detail)
	}

	return models.Continue{
		Report: models.Report{
			Message: "sent message",
			Data: map[string]any{
				"text":                text,
				"provider_message_id": delivery.ProviderMessageID,
			},
		},
	}
}
