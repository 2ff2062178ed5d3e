package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	goredis "github.com/redis/go-redis/v9"
)

type LogRepository struct {
	client *goredis.Client
	keys   keys
}

func (r *LogRepository) Append(ctx context.Context, entry models.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	if err := r.client.HSetNX(ctx, r.keys.logs(entry.ExecutionID), strconv.Itoa(entry.Step), data).Err(); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

func (r *LogRepository) StreamSince(ctx context.Context, executionID string, since time.Time) iter.Seq2[models.LogEntry, error] {
	return func(yield func(models.LogEntry, error) bool) {
		raw, err := r.client.HVals(ctx, r.keys.logs(executionID)).Result()
		if err != nil {
			yield(models.LogEntry{}, fmt.Errorf("failed to read log entries: %w", err))

			return
		}

		entries := make([]models.LogEntry, 0, len(raw))

		for _, item := range raw {
			var entry models.LogEntry
			if err := json.Unmarshal([]byte(item), &entry); err != nil {
				yield(models.LogEntry{}, fmt.Errorf("failed to unmarshal log entry: %w", err))

				return
			}

			if entry.Timestamp.Before(since) {
				continue
			}

			entries = append(entries, entry)
		}

		slices.SortStableFunc(entries, func(a, b models.LogEntry) int { return a.Step - b.Step })

		for _, entry := range entries {
			if !yield(entry, nil) {
				return
			}
		}
	}
}
