package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/persistence"
)

// busyBackoff delays the nack of an event whose execution is being stepped elsewhere.
const busyBackoff = time.Second

// Runner is a background component living as long as the worker: the timer poller and the schedules.
type Runner interface {
	Start(ctx context.Context) error
	Stop()
}

type WorkerManager struct {
	id       string
	logger   *slog.Logger
	engine   *engine.Engine
	eventBus eventbus.EventBus
	runners  []Runner
}

func NewWorkerManager(
	id string,
	engine *engine.Engine,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	runners ...Runner,
) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger.With("module", "convoflow-worker", "worker_id", id),
		engine:   engine,
		eventBus: eventBus,
		runners:  runners,
	}
}

// Start consumes events and runs the background runners until ctx is cancelled or the process is signalled.
func (w *WorkerManager) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.EventReceivedType, w.handleEventReceived)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	for _, runner := range w.runners {
		if err := runner.Start(ctx); err != nil {
			return err
		}
		defer runner.Stop()
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

// handleEventReceived applies one event. Returning an error nacks the message so the bus redelivers it;
// events that can never apply are logged and acknowledged.
func (w *WorkerManager) handleEventReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.EventReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for EventReceived")

		return nil
	}

	logger := w.logger.With(
		"event_id", received.Event.ID,
		"event_type", received.Event.Type,
		"flow_id", received.Event.FlowID,
		"execution_id", received.Event.ExecutionID,
	)

	result, err := w.engine.HandleEvent(ctx, received.Event)

	switch {
	case err == nil:
		logger.InfoContext(ctx, "Event processed",
			"execution_id", result.ExecutionID,
			"disposition", result.Disposition,
			"status", result.Status,
			"steps", result.Steps)

		return nil
	case permanent(err):
		logger.WarnContext(ctx, "Dropping event that cannot be applied", "error", err)

		return nil
	case errors.Is(err, engine.ErrExecutionBusy):
		logger.InfoContext(ctx, "Execution busy, redelivering event later", "error", err)

		select {
		case <-time.After(busyBackoff):
		case <-ctx.Done():
		}

		return err
	default:
		logger.ErrorContext(ctx, "Failed to process event", "error", err)

		return err
	}
}

func permanent(err error) bool {
	return errors.Is(err, engine.ErrInvalidEvent) ||
		errors.Is(err, engine.ErrProjectMismatch) ||
		persistence.IsFlowNotFound(err) ||
		persistence.IsExecutionNotFound(err) ||
		persistence.IsInvalidID(err)
}
