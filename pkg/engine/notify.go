package engine

import (
	"context"
	"log/slog"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
)

// notify announces a suspended or finished execution. Failures are logged only:
// the state is already saved.
func (e *Engine) notify(ctx context.Context, flow *models.FlowDefinition, state *models.ExecutionState, logger *slog.Logger) {
	if e.publisher == nil {
		return
	}

	var event eventbus.Event

	switch {
	case state.Status.Terminal():
		event = &events.ExecutionFinished{
			BaseEvent:   events.NewBaseEvent(events.ExecutionFinishedType, state.ProjectID),
			ExecutionID: state.ID,
			FlowID:      flow.ID,
			FlowVersion: flow.Version,
			Status:      state.Status,
			StepCount:   state.StepCount,
			Error:       state.LastError,
		}
	case state.Status == models.ExecutionWaiting && state.WaitReason != nil:
		event = &events.ExecutionSuspended{
			BaseEvent:   events.NewBaseEvent(events.ExecutionSuspendedType, state.ProjectID),
			ExecutionID: state.ID,
			FlowID:      flow.ID,
			NodeID:      state.CurrentNodeID,
			WaitReason:  *state.WaitReason,
		}
	default:
		return
	}

	if err := e.publisher.Publish(ctx, state.ID, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish execution notification", "event_type", event.GetType(), "error", err)
	}
}
