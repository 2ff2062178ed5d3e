package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

type TimerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTimerRepository(db *sql.DB, logger *slog.Logger) *TimerRepository {
	return &TimerRepository{db: db, logger: logger}
}

func (r *TimerRepository) Schedule(ctx context.Context, timer models.Timer) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timers (job_id, execution_id, fire_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE SET fire_at = EXCLUDED.fire_at
	`, timer.JobID, timer.ExecutionID, timer.FireAt, timer.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to schedule timer %s: %w", timer.JobID, err)
	}

	return nil
}

func (r *TimerRepository) Due(ctx context.Context, now time.Time, limit int) ([]models.Timer, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, execution_id, fire_at, created_at
		FROM timers
		WHERE fire_at <= $1
		ORDER BY fire_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due timers: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	timers := make([]models.Timer, 0)

	for rows.Next() {
		var timer models.Timer
		if err := rows.Scan(&timer.JobID, &timer.ExecutionID, &timer.FireAt, &timer.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}

		timer.FireAt = timer.FireAt.UTC()
		timer.CreatedAt = timer.CreatedAt.UTC()
		timers = append(timers, timer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate timers: %w", err)
	}

	return timers, nil
}

func (r *TimerRepository) Delete(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM timers WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete timer %s: %w", jobID, err)
	}

	return nil
}
