package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/protocol"
)

// handleOnce routes the event and runs the step loop once, from a fresh load.
func (e *Engine) handleOnce(ctx context.Context, event models.Event, logger *slog.Logger) (Result, error) {
	state, version, err := e.route(ctx, event)
	if errors.Is(err, persistence.ErrExecutionNotFound) && event.ExecutionID == "" {
		return e.start(ctx, event, logger)
	}

	if err != nil {
		return Result{}, err
	}

	logger = logger.With("execution_id", state.ID)

	if state.Status.Terminal() {
		logger.DebugContext(ctx, "Event for finished execution ignored", "status", state.Status)

		return Result{ExecutionID: state.ID, Status: state.Status, Disposition: AlreadyFinished}, nil
	}

	flow, err := e.flows.Version(ctx, state.FlowID, state.FlowVersion)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load flow %s version %d: %w", state.FlowID, state.FlowVersion, err)
	}

	switch state.Status {
	case models.ExecutionRunning:
		age := e.now().Sub(state.UpdatedAt)
		if age < e.config.StaleAfter {
			return Result{}, fmt.Errorf("%w: %s stepped %s ago", ErrExecutionBusy, state.ID, age.Round(time.Millisecond))
		}

		logger.WarnContext(ctx, "Resuming stale running execution", "node_id", state.CurrentNodeID, "updated_at", state.UpdatedAt)
	case models.ExecutionWaiting:
		if !e.satisfiesWait(flow, state, &event) {
			logger.InfoContext(ctx, "Event does not satisfy wait, ignored",
				"node_id", state.CurrentNodeID,
				"wait_type", waitType(state))

			return Result{ExecutionID: state.ID, Status: state.Status, Disposition: Ignored}, nil
		}
	}

	tenant, err := e.tenant(ctx, state.ProjectID, logger)
	if err != nil {
		return Result{}, err
	}

	return e.run(ctx, run{flow: flow, tenant: tenant, state: state, version: version, event: &event, logger: logger})
}

// route finds the execution an event addresses: by id, or the active execution of the conversation.
func (e *Engine) route(ctx context.Context, event models.Event) (*models.ExecutionState, int64, error) {
	if event.ExecutionID != "" {
		return e.executions.Load(ctx, event.ExecutionID)
	}

	if event.ChatID == "" {
		return nil, 0, persistence.ErrExecutionNotFound
	}

	return e.executions.FindActive(ctx, event.FlowID, event.ChatID)
}

// start creates an execution at the first entry trigger that accepts the event.
func (e *Engine) start(ctx context.Context, event models.Event, logger *slog.Logger) (Result, error) {
	flow, err := e.flows.Latest(ctx, event.FlowID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load published flow %s: %w", event.FlowID, err)
	}

	if event.ProjectID != "" && event.ProjectID != flow.ProjectID {
		return Result{}, fmt.Errorf("%w: project %s, flow %s", ErrProjectMismatch, event.ProjectID, flow.ID)
	}

	entry := e.entryFor(flow, &event)
	if entry == nil {
		logger.InfoContext(ctx, "No entry trigger accepts event, ignored", "flow_id", flow.ID, "flow_version", flow.Version)

		return Result{Disposition: Ignored}, nil
	}

	tenant, err := e.tenant(ctx, flow.ProjectID, logger)
	if err != nil {
		return Result{}, err
	}

	state, version, err := e.executions.Create(ctx, models.NewExecution{
		ProjectID:   flow.ProjectID,
		FlowID:      flow.ID,
		FlowVersion: flow.Version,
		EntryNodeID: entry.ID,
		ChatID:      event.ChatID,
		Variables:   map[string]any{},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create execution: %w", err)
	}

	logger = logger.With("execution_id", state.ID)
	logger.InfoContext(ctx, "Execution started", "flow_id", flow.ID, "flow_version", flow.Version, "entry_node_id", entry.ID)

	result, err := e.run(ctx, run{flow: flow, tenant: tenant, state: state, version: version, event: &event, logger: logger})
	if err != nil {
		return Result{}, err
	}

	result.Created = true

	return result, nil
}

// entryFor returns the entry trigger accepting event. The declared entry node is tried first,
// then every other trigger without incoming connections, by id.
func (e *Engine) entryFor(flow *models.FlowDefinition, event *models.Event) *models.TriggerNode {
	candidates := make([]*models.TriggerNode, 0, len(flow.Nodes))

	if node, ok := flow.Node(flow.EntryNodeID); ok {
		if trigger, ok := node.(*models.TriggerNode); ok {
			candidates = append(candidates, trigger)
		}
	}

	for _, trigger := range flow.Triggers() {
		if trigger.ID != flow.EntryNodeID && !flow.HasIncoming(trigger.ID) {
			candidates = append(candidates, trigger)
		}
	}

	handler, err := e.registry.Handler(models.KindTrigger)
	if err != nil {
		return nil
	}

	matcher, ok := handler.(protocol.EventMatcher)
	if !ok {
		return nil
	}

	for _, trigger := range candidates {
		if matcher.Matches(trigger, event) {
			return trigger
		}
	}

	return nil
}

// satisfiesWait checks the wait type, the timer job binding and finally the waiting node's own matcher.
func (e *Engine) satisfiesWait(flow *models.FlowDefinition, state *models.ExecutionState, event *models.Event) bool {
	if state.WaitReason == nil || event.Type.WaitType() != state.WaitReason.Type {
		return false
	}

	if event.Type == models.EventTimer && event.JobID != state.WaitReason.JobID() {
		return false
	}

	node, ok := flow.Node(state.CurrentNodeID)
	if !ok {
		// Let the step loop fail the execution with NodeNotFound.
		return true
	}

	handler, err := e.registry.Handler(node.Kind())
	if err != nil {
		return true
	}

	if matcher, ok := handler.(protocol.EventMatcher); ok {
		return matcher.Matches(node, event)
	}

	return true
}

// tenant resolves project context. An unknown project runs with an empty tenant, so nodes
// needing a credential fail the execution instead of the event being redelivered forever.
func (e *Engine) tenant(ctx context.Context, projectID string, logger *slog.Logger) (models.Tenant, error) {
	if e.tenants == nil {
		return models.Tenant{ProjectID: projectID}, nil
	}

	tenant, err := e.tenants.Tenant(ctx, projectID)
	if errors.Is(err, protocol.ErrUnknownTenant) {
		logger.WarnContext(ctx, "Unknown project, running without tenant context", "project_id", projectID)

		return models.Tenant{ProjectID: projectID}, nil
	}

	if err != nil {
		return models.Tenant{}, fmt.Errorf("failed to resolve tenant %s: %w", projectID, err)
	}

	return tenant, nil
}

func waitType(state *models.ExecutionState) models.WaitType {
	if state.WaitReason == nil {
		return ""
	}

	return state.WaitReason.Type
}
