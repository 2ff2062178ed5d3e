package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	goredis "github.com/redis/go-redis/v9"
)

type TimerRepository struct {
	client *goredis.Client
	keys   keys
}

func (r *TimerRepository) Schedule(ctx context.Context, timer models.Timer) error {
	data, err := json.Marshal(timer)
	if err != nil {
		return fmt.Errorf("failed to marshal timer: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.keys.timer(timer.JobID), data, 0)
		pipe.ZAdd(ctx, r.keys.timers(), goredis.Z{Score: float64(timer.FireAt.UnixMilli()), Member: timer.JobID})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule timer %s: %w", timer.JobID, err)
	}

	return nil
}

func (r *TimerRepository) Due(ctx context.Context, now time.Time, limit int) ([]models.Timer, error) {
	if limit <= 0 {
		limit = 100
	}

	jobIDs, err := r.client.ZRangeByScore(ctx, r.keys.timers(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due timers: %w", err)
	}

	timers := make([]models.Timer, 0, len(jobIDs))

	for _, jobID := range jobIDs {
		data, err := r.client.Get(ctx, r.keys.timer(jobID)).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read timer %s: %w", jobID, err)
		}

		var timer models.Timer
		if err := json.Unmarshal(data, &timer); err != nil {
			return nil, fmt.Errorf("failed to unmarshal timer %s: %w", jobID, err)
		}

		timers = append(timers, timer)
	}

	return timers, nil
}

func (r *TimerRepository) Delete(ctx context.Context, jobID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, r.keys.timers(), jobID)
		pipe.Del(ctx, r.keys.timer(jobID))

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete timer %s: %w", jobID, err)
	}

	return nil
}
