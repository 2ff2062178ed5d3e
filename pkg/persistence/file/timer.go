package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// TimerRepository keeps one timers/<job id>.json per pending re-entry.
type TimerRepository struct {
	p *Persistence
}

func (r *TimerRepository) Schedule(_ context.Context, timer models.Timer) error {
	if err := persistence.ValidateID(timer.JobID); err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return writeJSON(r.p.path("timers", timer.JobID+".json"), timer)
}

func (r *TimerRepository) Due(_ context.Context, now time.Time, limit int) ([]models.Timer, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	ids, err := listJSON(r.p.path("timers"))
	if err != nil {
		return nil, err
	}

	due := make([]models.Timer, 0)

	for _, id := range ids {
		var timer models.Timer
		if err := readJSON(r.p.path("timers", id+".json"), &timer); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, err
		}

		if !timer.FireAt.After(now) {
			due = append(due, timer)
		}
	}

	slices.SortFunc(due, func(a, b models.Timer) int { return a.FireAt.Compare(b.FireAt) })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *TimerRepository) Delete(_ context.Context, jobID string) error {
	if err := persistence.ValidateID(jobID); err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	err := os.Remove(r.p.path("timers", jobID+".json"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete timer %s: %w", jobID, err)
	}

	return nil
}
