// Package scheduler persists execution re-entries and delivers them back to the engine
// as timer events once they are due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
)

// Scheduler implements protocol.Scheduler on top of a TimerRepository.
type Scheduler struct {
	timers persistence.TimerRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewScheduler(timers persistence.TimerRepository, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		timers: timers,
		logger: logger.With("module", "scheduler"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) ScheduleReentry(ctx context.Context, executionID string, fireAt time.Time) (string, error) {
	if executionID == "" {
		return "", fmt.Errorf("schedule re-entry: %w", persistence.ErrInvalidID)
	}

	timer := models.Timer{
		JobID:       uuid.New().String(),
		ExecutionID: executionID,
		FireAt:      fireAt.UTC(),
		CreatedAt:   s.now(),
	}

	if err := s.timers.Schedule(ctx, timer); err != nil {
		return "", fmt.Errorf("failed to schedule re-entry of execution %s: %w", executionID, err)
	}

	s.logger.DebugContext(ctx, "Re-entry scheduled", "execution_id", executionID, "job_id", timer.JobID, "fire_at", timer.FireAt)

	return timer.JobID, nil
}
