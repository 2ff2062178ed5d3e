// Package trigger implements the trigger node: the point where a conversation starts or resumes.
package trigger

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/validation"
	"github.com/robfig/cron/v3"
)

// VariableName is where the matched event is recorded in the execution variables.
const VariableName = "trigger"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses the cron expression of a schedule trigger.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Kind() models.NodeKind { return models.KindTrigger }

func (h *Handler) CanHandle(kind models.NodeKind) bool { return kind == models.KindTrigger }

func (h *Handler) Name() string { return "Trigger" }

func (h *Handler) Description() string {
	return "Starts a conversation, or waits mid-flow, until a command, message, callback or schedule tick arrives."
}

func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subtype": map[string]any{
				"type": "string",
				"enum": []string{"command", "message", "callback", "schedule"},
			},
			"matcher": map[string]any{
				"type":        "string",
				"description": "Command text, message regexp, callback data prefix or cron expression depending on subtype.",
				"examples":    []string{"/start", "^(yes|no)$", "menu:", "0 9 * * 1"},
			},
		},
		"required": []string{"subtype"},
	}
}

func (h *Handler) Validate(node models.Node) validation.Result {
	n, ok := node.(*models.TriggerNode)
	if !ok {
		return nodes.WrongKind(node, models.KindTrigger)
	}

	result := nodes.ValidateConfig(node, h.Schema())

	switch n.Subtype {
	case models.TriggerCommand:
		if !strings.HasPrefix(n.Matcher, "/") {
			result.AddError(n.ID, "command trigger matcher must start with '/'")
		}
	case models.TriggerMessage:
		if _, err := regexp.Compile(n.Matcher); err != nil {
			result.AddError(n.ID, fmt.Sprintf("invalid message pattern: %v", err))
		}
	case models.TriggerSchedule:
		if _, err := ParseSchedule(n.Matcher); err != nil {
			result.AddError(n.ID, fmt.Sprintf("invalid schedule: %v", err))
		}
	}

	return result
}

// Matches reports whether event fires this trigger.
func (h *Handler) Matches(node models.Node, event *models.Event) bool {
	n, ok := node.(*models.TriggerNode)
	if !ok || event == nil || string(event.Type) != string(n.Subtype) {
		return false
	}

	switch n.Subtype {
	case models.TriggerCommand:
		command, _ := splitCommand(event.Text)

		return command != "" && command == n.Matcher
	case models.TriggerMessage:
		if n.Matcher == "" {
			return true
		}

		re, err := regexp.Compile(n.Matcher)

		return err == nil && re.MatchString(event.Text)
	case models.TriggerCallback:
		return strings.HasPrefix(event.Text, n.Matcher)
	case models.TriggerSchedule:
		target, _ := event.Data["trigger_id"].(string)

		return target == "" || target == n.ID
	}

	return false
}

func (h *Handler) Execute(_ context.Context, node models.Node, exec *protocol.ExecutionContext) models.Outcome {
	n, ok := node.(*models.TriggerNode)
	if !ok {
		return models.Failf(models.ErrCodeInvalidNode, node.NodeID(), false, "not a trigger node", nil)
	}

	if !h.Matches(n, exec.Event) {
		return models.Suspend{
			Report: models.Report{Message: "waiting for " + string(n.Subtype)},
			Reason: models.WaitReason{
				Type:    models.WaitType(n.Subtype),
				Payload: map[string]any{"node_id": n.ID},
			},
		}
	}

	event := exec.Event
	_, args := splitCommand(event.Text)

	exec.SetVariable(VariableName, map[string]any{
		"type":     string(event.Type),
		"text":     event.Text,
		"args":     args,
		"data":     event.Data,
		"chat_id":  event.ChatID,
		"user_id":  event.UserID,
		"username": event.Username,
	})

	if event.Type == models.EventMessage || event.Type == models.EventCommand {
		exec.SetVariable("last_message", event.Text)
	}

	return models.Continue{
		Report: models.Report{
			Message: "matched " + string(event.Type),
			Data:    map[string]any{"text": event.Text},
		},
	}
}

// splitCommand splits "/start@bot ref42" into "/start" and "ref42".
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}

	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head, "@")

	return head, strings.TrimSpace(rest)
}
