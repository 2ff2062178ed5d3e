package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
)

const (
	logAppendAttempts = 4
	logAppendInterval = 20 * time.Millisecond
)

// run is one invocation of the step loop.
type run struct {
	flow    *models.FlowDefinition
	tenant  models.Tenant
	state   *models.ExecutionState
	version int64

	// event is handed to the first step only.
	event  *models.Event
	logger *slog.Logger

	steps int
	path  []string
}

// run steps the execution until it suspends or terminates. State is saved after every
// step and the step's log entry is appended only once that save won.
func (e *Engine) run(ctx context.Context, r run) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("execution %s interrupted after %d steps: %w", r.state.ID, r.steps, err)
		}

		next, entry, err := e.step(ctx, &r)
		if err != nil {
			return Result{}, err
		}

		version, err := e.executions.Save(ctx, next, r.version)
		if err != nil {
			return Result{}, err
		}

		e.appendLog(ctx, entry, r.logger)

		r.state, r.version = next, version

		if next.Status != models.ExecutionRunning {
			e.notify(ctx, r.flow, next, r.logger)

			r.logger.InfoContext(ctx, "Execution yielded",
				"status", next.Status,
				"node_id", next.CurrentNodeID,
				"steps", r.steps,
				"step_count", next.StepCount)

			return Result{
				ExecutionID: next.ID,
				Status:      next.Status,
				Disposition: Applied,
				Steps:       r.steps,
			}, nil
		}
	}
}

// appendLog retries a failed append a few times. Appends are idempotent per step, and the
// state is already saved, so a final failure is logged rather than returned.
func (e *Engine) appendLog(ctx context.Context, entry models.LogEntry, logger *slog.Logger) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = logAppendInterval
	policy.MaxElapsedTime = 0

	attempts := 0

	err := backoff.Retry(func() error {
		attempts++

		return e.logs.Append(ctx, entry)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, logAppendAttempts-1), ctx))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to append step log", "step", entry.Step, "attempts", attempts, "error", err)
	}
}

// step dispatches the current node and returns the next state with its log entry.
func (e *Engine) step(ctx context.Context, r *run) (*models.ExecutionState, models.LogEntry, error) {
	now := e.now()
	working := r.state.Clone()
	working.Status = models.ExecutionRunning
	working.StepCount++
	working.UpdatedAt = now

	if r.steps >= e.config.MaxStepsPerEvent {
		return e.abort(working, r, now, models.ErrCodeStepLimitExceeded,
			fmt.Sprintf("step limit of %d exceeded", e.config.MaxStepsPerEvent),
			map[string]any{"path": r.path, "max_steps": e.config.MaxStepsPerEvent})
	}

	node, ok := r.flow.Node(working.CurrentNodeID)
	if !ok {
		return e.abort(working, r, now, models.ErrCodeNodeNotFound,
			fmt.Sprintf("node %s not found in flow %s version %d", working.CurrentNodeID, r.flow.ID, r.flow.Version), nil)
	}

	handler, err := e.registry.Handler(node.Kind())
	if err != nil {
		return e.abort(working, r, now, models.ErrCodeUnknownNodeType, err.Error(), map[string]any{"kind": string(node.Kind())})
	}

	stepCtx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.step",
		attribute.String(otelhelper.ExecutionIDKey, working.ID),
		attribute.String(otelhelper.NodeIDKey, node.NodeID()),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind())),
		attribute.Int(otelhelper.StepKey, working.StepCount),
	)

	exec := &protocol.ExecutionContext{
		Execution: working,
		Flow:      r.flow,
		Tenant:    r.tenant,
		Event:     r.event,
		Scope:     e.scope(working, r.flow, r.tenant, r.event),
		Now:       now,
		Logger:    r.logger.With("node_id", node.NodeID(), "step", working.StepCount),
	}

	outcome := handler.Execute(stepCtx, node, exec)

	if fail, ok := outcome.(models.Fail); ok && fail.Err != nil {
		otelhelper.SetError(span, fail.Err)
	}

	span.End()

	r.event = nil
	r.steps++
	r.path = append(r.path, node.NodeID())

	entry := newLogEntry(working, node, outcome, now)
	e.apply(working, r.flow, node, outcome, now, &entry)

	return working, entry, nil
}

// apply moves working according to outcome.
func (e *Engine) apply(working *models.ExecutionState, flow *models.FlowDefinition, node models.Node, outcome models.Outcome, now time.Time, entry *models.LogEntry) {
	switch o := outcome.(type) {
	case models.Continue:
		next := o.NextNodeID
		if next == "" {
			next = follow(flow, node.NodeID(), "")
		}

		e.advance(working, next, now, entry)
	case models.Branch:
		next := follow(flow, node.NodeID(), o.Label)
		if next == "" {
			err := &models.ExecutionError{
				Code:    models.ErrCodeMissingBranch,
				Message: fmt.Sprintf("no connection for branch %q", o.Label),
				Detail:  map[string]any{"branch": o.Label},
				NodeID:  node.NodeID(),
			}

			working.Finish(models.ExecutionFailed, err, now)
			entry.Level = models.LogError
			entry.Data["error"] = err

			return
		}

		entry.Data["branch"] = o.Label
		e.advance(working, next, now, entry)
	case models.Suspend:
		reason := o.Reason
		working.Status = models.ExecutionWaiting
		working.WaitReason = &reason
		entry.Data["wait_type"] = string(reason.Type)
	case models.Complete:
		status := models.ExecutionCompleted
		if !o.Success {
			status = models.ExecutionFailed
		}

		working.Finish(status, nil, now)
	case models.Fail:
		working.Finish(models.ExecutionFailed, o.Err, now)
		entry.Data["error"] = o.Err
	}
}

// advance positions working at next. With nowhere to go the execution completes.
func (e *Engine) advance(working *models.ExecutionState, next string, now time.Time, entry *models.LogEntry) {
	working.WaitReason = nil

	if next == "" {
		working.Finish(models.ExecutionCompleted, nil, now)

		return
	}

	working.CurrentNodeID = next
	entry.Data["next_node_id"] = next
}

// abort fails the execution without dispatching a handler. It still counts as a step.
func (e *Engine) abort(working *models.ExecutionState, r *run, now time.Time, code models.ErrorCode, message string, detail map[string]any) (*models.ExecutionState, models.LogEntry, error) {
	err := &models.ExecutionError{Code: code, Message: message, Detail: detail, NodeID: working.CurrentNodeID}
	working.Finish(models.ExecutionFailed, err, now)

	r.steps++
	r.logger.Error("Execution aborted", "code", code, "message", message, "path", r.path)

	data := map[string]any{"outcome": "fail", "error": err}
	if detail != nil {
		data["detail"] = detail
	}

	entry := models.LogEntry{
		ExecutionID: working.ID,
		Step:        working.StepCount,
		NodeID:      working.CurrentNodeID,
		NodeType:    nodeType(r.flow, working.CurrentNodeID),
		Level:       models.LogError,
		Message:     message,
		Timestamp:   now,
		Data:        data,
	}

	return working, entry, nil
}

// follow returns the target of the first connection leaving source with label.
func follow(flow *models.FlowDefinition, source, label string) string {
	for _, c := range flow.Outgoing(source) {
		if c.Branch == label {
			return c.Target
		}
	}

	return ""
}

func newLogEntry(state *models.ExecutionState, node models.Node, outcome models.Outcome, now time.Time) models.LogEntry {
	report := outcome.Log()

	data := make(map[string]any, len(report.Data)+2)
	for k, v := range report.Data {
		data[k] = v
	}

	level := models.LogInfo

	switch outcome.(type) {
	case models.Continue:
		data["outcome"] = "continue"
	case models.Branch:
		data["outcome"] = "branch"
	case models.Suspend:
		data["outcome"] = "suspend"
	case models.Complete:
		data["outcome"] = "complete"
	case models.Fail:
		data["outcome"] = "fail"
		level = models.LogError
	}

	return models.LogEntry{
		ExecutionID: state.ID,
		Step:        state.StepCount,
		NodeID:      node.NodeID(),
		NodeType:    node.Kind(),
		Level:       level,
		Message:     report.Message,
		Timestamp:   now,
		Data:        data,
	}
}

func nodeType(flow *models.FlowDefinition, nodeID string) models.NodeKind {
	if node, ok := flow.Node(nodeID); ok {
		return node.Kind()
	}

	return ""
}
