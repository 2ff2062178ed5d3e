package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

const maxCancelAttempts = 5

// Executions exposes stored executions and their step logs, and cancels executions.
type Executions struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

func NewExecutions(persistence persistence.Persistence, logger *slog.Logger) *Executions {
	return &Executions{
		persistence: persistence,
		logger:      logger.With("module", "executions"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Executions) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (s *Executions) Get(ctx context.Context, executionID string) (*models.ExecutionState, int64, error) {
	return s.persistence.ExecutionRepository().Load(ctx, executionID)
}

// Logs returns the entries of an execution stamped at or after since, ordered by step.
func (s *Executions) Logs(ctx context.Context, executionID string, since time.Time) ([]models.LogEntry, error) {
	if _, _, err := s.Get(ctx, executionID); err != nil {
		return nil, err
	}

	entries := make([]models.LogEntry, 0)

	for entry, err := range s.persistence.LogRepository().StreamSince(ctx, executionID, since) {
		if err != nil {
			return nil, fmt.Errorf("failed to read logs of execution %s: %w", executionID, err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// Cancel fails a non-terminal execution with a Cancelled error. The engine never resumes it afterwards.
func (s *Executions) Cancel(ctx context.Context, executionID, reason string) (*models.ExecutionState, error) {
	if reason == "" {
		reason = "cancelled by operator"
	}

	repo := s.persistence.ExecutionRepository()

	for attempt := 1; ; attempt++ {
		state, version, err := repo.Load(ctx, executionID)
		if err != nil {
			return nil, err
		}

		if state.Status.Terminal() {
			return state, &ServiceError{
				Op:      "Cancel",
				Code:    "execution_finished",
				Message: fmt.Sprintf("execution %s is already %s", executionID, state.Status),
				Err:     ErrExecutionFinished,
			}
		}

		state.Finish(models.ExecutionFailed, &models.ExecutionError{
			Code:    models.ErrCodeCancelled,
			Message: reason,
			NodeID:  state.CurrentNodeID,
		}, s.now())

		_, err = repo.Save(ctx, state, version)
		if err == nil {
			s.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID, "node_id", state.CurrentNodeID)

			return state, nil
		}

		if !persistence.IsVersionConflict(err) || attempt == maxCancelAttempts {
			return nil, err
		}
	}
}
