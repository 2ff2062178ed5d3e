// Package protocol defines the contracts between the engine, node handlers and external collaborators.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/template"
	"github.com/dukex/convoflow/pkg/validation"
)

// Handler implements one node kind.
type Handler interface {
	// CanHandle reports whether this handler executes nodes of kind.
	CanHandle(kind models.NodeKind) bool

	// Validate checks the node's own configuration, independent of the graph.
	Validate(node models.Node) validation.Result

	// Execute runs the node. It never returns a Go error: failures are Fail outcomes.
	Execute(ctx context.Context, node models.Node, exec *ExecutionContext) models.Outcome

	// Kind returns the node kind this handler is registered under.
	Kind() models.NodeKind

	// Name returns the human-readable name for this node kind
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for the node configuration
	Schema() map[string]any
}

// EventMatcher is implemented by handlers whose nodes can be waiting for an event.
// The engine ignores events a waiting node does not match, without spending a step.
type EventMatcher interface {
	Matches(node models.Node, event *models.Event) bool
}

// ExecutionContext is what a handler sees while executing one step.
type ExecutionContext struct {
	// Execution is the working copy of the state. Handlers write variables through SetVariable.
	Execution *models.ExecutionState
	Flow      *models.FlowDefinition
	Tenant    models.Tenant

	// Event is the triggering event, visible only to the first step of an invocation.
	Event *models.Event

	Scope  *template.Scope
	Now    time.Time
	Logger *slog.Logger
}

// Resolve resolves text against the step's scope.
func (c *ExecutionContext) Resolve(ctx context.Context, text string) string {
	return template.Resolve(ctx, text, c.Scope)
}

func (c *ExecutionContext) SetVariable(name string, value any) {
	if c.Execution.Variables == nil {
		c.Execution.Variables = map[string]any{}
	}

	c.Execution.Variables[name] = value
}

// Credential returns the tenant's bot credential.
func (c *ExecutionContext) Credential() string {
	return c.Tenant.BotToken
}
