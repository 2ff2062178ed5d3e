package engine

import (
	"context"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/nodes/trigger"
	"github.com/dukex/convoflow/pkg/template"
)

// scope layers, highest precedence first: execution variables, lazily computed values,
// system values, project constants, flow defaults, project defaults. System values are
//
//	telegram.chat_id, telegram.user_id, telegram.username
//	project.id, project.<constant>
//	execution.id, execution.step
//	flow.id, flow.version
//	now
func (e *Engine) scope(state *models.ExecutionState, flow *models.FlowDefinition, tenant models.Tenant, event *models.Event) *template.Scope {
	userID, username := identity(state, event)

	system := template.Values{
		"telegram": map[string]any{
			"chat_id":  state.ChatID,
			"user_id":  userID,
			"username": username,
		},
		"project": map[string]any{"id": state.ProjectID},
		"execution": map[string]any{
			"id":   state.ID,
			"step": state.StepCount,
		},
		"flow": map[string]any{
			"id":      flow.ID,
			"version": flow.Version,
		},
	}

	computed := template.NewComputed().Set("now", func(context.Context) (any, error) {
		return e.now().Format(time.RFC3339), nil
	})

	return template.NewScope(
		template.Values(state.Variables),
		computed,
		system,
		template.Prefixed{Prefix: "project", Layer: template.Values(tenant.Constants)},
		template.Values(flow.Defaults),
		template.Values(tenant.Defaults),
	)
}

// identity takes the user from the event, or from what the trigger recorded when the
// event is gone (later steps, timer re-entries).
func identity(state *models.ExecutionState, event *models.Event) (string, string) {
	if event != nil && event.UserID != "" {
		return event.UserID, event.Username
	}

	recorded, _ := state.Variables[trigger.VariableName].(map[string]any)
	userID, _ := recorded["user_id"].(string)
	username, _ := recorded["username"].(string)

	return userID, username
}
