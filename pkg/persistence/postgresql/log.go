package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// LogRepository is the append-only execution_logs table.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

// Append ignores a second entry for the same step, so replayed steps are not duplicated.
func (r *LogRepository) Append(ctx context.Context, entry models.LogEntry) error {
	var data []byte

	if entry.Data != nil {
		var err error

		data, err = json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal log data: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, step, node_id, node_type, level, message, data, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (execution_id, step) DO NOTHING
	`, entry.ExecutionID, entry.Step, entry.NodeID, entry.NodeType, entry.Level, entry.Message, data, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

func (r *LogRepository) StreamSince(ctx context.Context, executionID string, since time.Time) iter.Seq2[models.LogEntry, error] {
	return func(yield func(models.LogEntry, error) bool) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT execution_id, step, node_id, node_type, level, message, data, logged_at
			FROM execution_logs
			WHERE execution_id = $1 AND logged_at >= $2
			ORDER BY step
		`, executionID, since)
		if err != nil {
			yield(models.LogEntry{}, fmt.Errorf("failed to query log entries: %w", err))

			return
		}

		defer func() {
			if err := rows.Close(); err != nil {
				r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
			}
		}()

		for rows.Next() {
			entry, err := scanLogEntry(rows)
			if err != nil {
				yield(models.LogEntry{}, fmt.Errorf("failed to scan log entry: %w", err))

				return
			}

			if !yield(entry, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(models.LogEntry{}, fmt.Errorf("failed to iterate log entries: %w", err))
		}
	}
}

func scanLogEntry(row scanner) (models.LogEntry, error) {
	var (
		entry models.LogEntry
		data  []byte
	)

	err := row.Scan(&entry.ExecutionID, &entry.Step, &entry.NodeID, &entry.NodeType, &entry.Level,
		&entry.Message, &data, &entry.Timestamp)
	if err != nil {
		return models.LogEntry{}, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &entry.Data); err != nil {
			return models.LogEntry{}, fmt.Errorf("failed to unmarshal log data: %w", err)
		}
	}

	entry.Timestamp = entry.Timestamp.UTC()

	return entry, nil
}
