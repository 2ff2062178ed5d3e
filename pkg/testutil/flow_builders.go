// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/template"
	"github.com/google/uuid"
)

func Trigger(id string, subtype models.TriggerSubtype, matcher string) *models.TriggerNode {
	return &models.TriggerNode{
		NodeBase:      models.NodeBase{ID: id},
		TriggerConfig: models.TriggerConfig{Subtype: subtype, Matcher: matcher},
	}
}

func Message(id, tmpl string, buttons ...models.Button) *models.MessageNode {
	return &models.MessageNode{
		NodeBase:      models.NodeBase{ID: id},
		MessageConfig: models.MessageConfig{Template: tmpl, Buttons: buttons},
	}
}

func Action(id, operation, resultVariable string, params map[string]any) *models.ActionNode {
	return &models.ActionNode{
		NodeBase:     models.NodeBase{ID: id},
		ActionConfig: models.ActionConfig{Operation: operation, Params: params, ResultVariable: resultVariable},
	}
}

func Condition(id, left, operator, right string) *models.ConditionNode {
	return &models.ConditionNode{
		NodeBase:        models.NodeBase{ID: id},
		ConditionConfig: models.ConditionConfig{Left: left, Operator: operator, Right: right},
	}
}

func Delay(id, duration string) *models.DelayNode {
	return &models.DelayNode{
		NodeBase:    models.NodeBase{ID: id},
		DelayConfig: models.DelayConfig{Duration: duration},
	}
}

func End(id string, success bool) *models.EndNode {
	return &models.EndNode{
		NodeBase:  models.NodeBase{ID: id},
		EndConfig: models.EndConfig{Success: success},
	}
}

// FlowBuilder assembles a published flow definition for tests.
type FlowBuilder struct {
	flow models.FlowDefinition
}

func NewFlow(id string) *FlowBuilder {
	return &FlowBuilder{flow: models.FlowDefinition{
		ID:          id,
		ProjectID:   "project-1",
		Name:        "Test Flow " + id,
		Version:     1,
		Nodes:       map[string]models.Node{},
		PublishedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
}

func (b *FlowBuilder) Project(projectID string) *FlowBuilder {
	b.flow.ProjectID = projectID

	return b
}

func (b *FlowBuilder) Version(version int) *FlowBuilder {
	b.flow.Version = version

	return b
}

func (b *FlowBuilder) Nodes(nodes ...models.Node) *FlowBuilder {
	for _, n := range nodes {
		b.flow.Nodes[n.NodeID()] = n
	}

	return b
}

// Connect adds unlabeled connections along the given path of node ids.
func (b *FlowBuilder) Connect(path ...string) *FlowBuilder {
	for i := 1; i < len(path); i++ {
		b.Branch(path[i-1], path[i], "")
	}

	return b
}

func (b *FlowBuilder) Branch(source, target, label string) *FlowBuilder {
	b.flow.Connections = append(b.flow.Connections, models.Connection{
		ID:     fmt.Sprintf("c%d", len(b.flow.Connections)+1),
		Source: source,
		Target: target,
		Branch: label,
	})

	return b
}

func (b *FlowBuilder) Defaults(values map[string]any) *FlowBuilder {
	b.flow.Defaults = values

	return b
}

func (b *FlowBuilder) Entry(id string) *FlowBuilder {
	b.flow.EntryNodeID = id

	return b
}

func (b *FlowBuilder) Build() *models.FlowDefinition {
	flow := b.flow

	return &flow
}

// BalanceFlow is the /start → balance → eligibility conversation used across engine tests.
func BalanceFlow(id string) *models.FlowDefinition {
	return NewFlow(id).
		Nodes(
			Trigger("start", models.TriggerCommand, "/start"),
			Message("show_balance", "Balance: {{bal}}"),
			Action("get_balance", "get_balance", "bal", map[string]any{"user": "{{telegram.user_id}}"}),
			Condition("check", "{{bal}}", "gt", "100"),
			Message("eligible", "Eligible"),
			Message("not_yet", "Not yet"),
			End("end_eligible", true),
			End("end_not_yet", true),
		).
		Connect("start", "show_balance", "get_balance", "check").
		Branch("check", "eligible", "true").
		Branch("check", "not_yet", "false").
		Connect("eligible", "end_eligible").
		Connect("not_yet", "end_not_yet").
		Entry("start").
		Build()
}

// CommandEvent builds a command event addressed to a flow.
func CommandEvent(flowID, chatID, text string) *models.Event {
	return &models.Event{
		ID:         uuid.New().String(),
		Type:       models.EventCommand,
		ProjectID:  "project-1",
		FlowID:     flowID,
		ChatID:     chatID,
		UserID:     "user-" + chatID,
		Username:   "tester",
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	}
}

// NewExecutionContext builds a handler context over a fresh running execution.
func NewExecutionContext(overrides ...func(*protocol.ExecutionContext)) *protocol.ExecutionContext {
	state := &models.ExecutionState{
		ID:          uuid.New().String(),
		ProjectID:   "project-1",
		FlowID:      "flow-1",
		FlowVersion: 1,
		ChatID:      "42",
		Status:      models.ExecutionRunning,
		Variables:   map[string]any{},
		StartedAt:   time.Now().UTC(),
	}

	exec := &protocol.ExecutionContext{
		Execution: state,
		Tenant:    models.Tenant{ProjectID: "project-1", BotToken: "123:token"},
		Now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Logger:    slog.Default(),
	}

	exec.Scope = template.NewScope(template.Values(state.Variables))

	for _, override := range overrides {
		override(exec)
	}

	return exec
}
