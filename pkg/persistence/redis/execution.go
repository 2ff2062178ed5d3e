package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// getter is satisfied by *goredis.Client and the *goredis.Tx of a WATCH.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

type executionRecord struct {
	Version int64                  `json:"version"`
	State   *models.ExecutionState `json:"state"`
}

// ExecutionRepository performs optimistic saves with WATCH/MULTI on the execution key.
type ExecutionRepository struct {
	client *goredis.Client
	keys   keys
	logger *slog.Logger
}

func (r *ExecutionRepository) Create(ctx context.Context, input models.NewExecution) (*models.ExecutionState, int64, error) {
	now := time.Now().UTC()

	variables := input.Variables
	if variables == nil {
		variables = map[string]any{}
	}

	state := &models.ExecutionState{
		ID:            uuid.New().String(),
		ProjectID:     input.ProjectID,
		FlowID:        input.FlowID,
		FlowVersion:   input.FlowVersion,
		ChatID:        input.ChatID,
		Status:        models.ExecutionRunning,
		CurrentNodeID: input.EntryNodeID,
		Variables:     variables,
		StartedAt:     now,
		UpdatedAt:     now,
	}

	data, err := json.Marshal(executionRecord{Version: 1, State: state})
	if err != nil {
		return nil, 0, persistence.NewExecutionError("Create", state.ID, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.keys.execution(state.ID), data, 0)
		pipe.ZAdd(ctx, r.keys.active(state.FlowID, state.ChatID), goredis.Z{Score: float64(now.UnixNano()), Member: state.ID})

		return nil
	})
	if err != nil {
		return nil, 0, persistence.NewExecutionError("Create", state.ID, err)
	}

	return state.Clone(), 1, nil
}

func (r *ExecutionRepository) Load(ctx context.Context, executionID string) (*models.ExecutionState, int64, error) {
	record, err := r.get(ctx, r.client, executionID)
	if err != nil {
		return nil, 0, persistence.NewExecutionError("Load", executionID, err)
	}

	return record.State, record.Version, nil
}

func (r *ExecutionRepository) Save(ctx context.Context, state *models.ExecutionState, expectedVersion int64) (int64, error) {
	key := r.keys.execution(state.ID)
	next := expectedVersion + 1

	data, err := json.Marshal(executionRecord{Version: next, State: state})
	if err != nil {
		return 0, persistence.NewExecutionError("Save", state.ID, err)
	}

	err = r.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := r.get(ctx, tx, state.ID)
		if err != nil {
			return err
		}

		if current.Version != expectedVersion {
			return persistence.ErrVersionConflict
		}

		active := r.keys.active(state.FlowID, state.ChatID)

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)

			if state.Status.Terminal() {
				pipe.ZRem(ctx, active, state.ID)
			} else {
				pipe.ZAdd(ctx, active, goredis.Z{Score: float64(state.UpdatedAt.UnixNano()), Member: state.ID})
			}

			return nil
		})

		return err
	}, key)

	if errors.Is(err, goredis.TxFailedErr) {
		err = persistence.ErrVersionConflict
	}

	if err != nil {
		return 0, persistence.NewExecutionError("Save", state.ID, err)
	}

	return next, nil
}

func (r *ExecutionRepository) FindActive(ctx context.Context, flowID, chatID string) (*models.ExecutionState, int64, error) {
	ids, err := r.client.ZRevRange(ctx, r.keys.active(flowID, chatID), 0, -1).Result()
	if err != nil {
		return nil, 0, persistence.NewExecutionError("FindActive", "", err)
	}

	for _, id := range ids {
		record, err := r.get(ctx, r.client, id)
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			continue
		}

		if err != nil {
			return nil, 0, persistence.NewExecutionError("FindActive", id, err)
		}

		if record.State.Status.Terminal() {
			r.logger.WarnContext(ctx, "Terminal execution left in active index", "execution_id", id)

			continue
		}

		return record.State, record.Version, nil
	}

	return nil, 0, persistence.NewExecutionError("FindActive", "", persistence.ErrExecutionNotFound)
}

func (r *ExecutionRepository) get(ctx context.Context, c getter, executionID string) (*executionRecord, error) {
	data, err := c.Get(ctx, r.keys.execution(executionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, persistence.ErrExecutionNotFound
	}

	if err != nil {
		return nil, err
	}

	var record executionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	if record.State == nil {
		return nil, persistence.ErrExecutionNotFound
	}

	if record.State.Variables == nil {
		record.State.Variables = map[string]any{}
	}

	return &record, nil
}
