package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
)

const executionColumns = `
	id, version, project_id, flow_id, flow_version, chat_id, status, current_node_id,
	wait_reason, variables, step_count, started_at, updated_at, finished_at, last_error
`

// ExecutionRepository stores executions with an optimistic version column.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
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

	variablesJSON, err := json.Marshal(state.Variables)
	if err != nil {
		return nil, 0, persistence.NewExecutionError("Create", state.ID, fmt.Errorf("failed to marshal variables: %w", err))
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (
			id, version, project_id, flow_id, flow_version, chat_id, status, current_node_id,
			variables, step_count, started_at, updated_at
		)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
	`, state.ID, state.ProjectID, state.FlowID, state.FlowVersion, state.ChatID, state.Status,
		state.CurrentNodeID, variablesJSON, now)
	if err != nil {
		return nil, 0, persistence.NewExecutionError("Create", state.ID, err)
	}

	return state, 1, nil
}

func (r *ExecutionRepository) Load(ctx context.Context, executionID string) (*models.ExecutionState, int64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, executionID)

	state, version, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, persistence.NewExecutionError("Load", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, 0, persistence.NewExecutionError("Load", executionID, err)
	}

	return state, version, nil
}

func (r *ExecutionRepository) Save(ctx context.Context, state *models.ExecutionState, expectedVersion int64) (int64, error) {
	waitReason, variables, lastError, err := marshalExecution(state)
	if err != nil {
		return 0, persistence.NewExecutionError("Save", state.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE executions SET
			version = version + 1,
			status = $3,
			current_node_id = $4,
			wait_reason = $5,
			variables = $6,
			step_count = $7,
			updated_at = $8,
			finished_at = $9,
			last_error = $10
		WHERE id = $1 AND version = $2
	`, state.ID, expectedVersion, state.Status, state.CurrentNodeID, waitReason, variables,
		state.StepCount, state.UpdatedAt, state.FinishedAt, lastError)
	if err != nil {
		return 0, persistence.NewExecutionError("Save", state.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, persistence.NewExecutionError("Save", state.ID, err)
	}

	if affected == 0 {
		var exists bool

		err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)`, state.ID).Scan(&exists)
		if err != nil {
			return 0, persistence.NewExecutionError("Save", state.ID, err)
		}

		if !exists {
			return 0, persistence.NewExecutionError("Save", state.ID, persistence.ErrExecutionNotFound)
		}

		return 0, persistence.NewExecutionError("Save", state.ID, persistence.ErrVersionConflict)
	}

	return expectedVersion + 1, nil
}

func (r *ExecutionRepository) FindActive(ctx context.Context, flowID, chatID string) (*models.ExecutionState, int64, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE flow_id = $1 AND chat_id = $2 AND status IN ('running', 'waiting')
		ORDER BY updated_at DESC
		LIMIT 1
	`, flowID, chatID)

	state, version, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, persistence.NewExecutionError("FindActive", "", persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, 0, persistence.NewExecutionError("FindActive", "", err)
	}

	return state, version, nil
}

func marshalExecution(state *models.ExecutionState) (waitReason, variables, lastError []byte, err error) {
	if state.WaitReason != nil {
		waitReason, err = json.Marshal(state.WaitReason)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal wait reason: %w", err)
		}
	}

	vars := state.Variables
	if vars == nil {
		vars = map[string]any{}
	}

	variables, err = json.Marshal(vars)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal variables: %w", err)
	}

	if state.LastError != nil {
		lastError, err = json.Marshal(state.LastError)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal last error: %w", err)
		}
	}

	return waitReason, variables, lastError, nil
}

func scanExecution(row scanner) (*models.ExecutionState, int64, error) {
	var (
		state                           models.ExecutionState
		version                         int64
		waitReason, variables, lastErr  []byte
		finishedAt                      sql.NullTime
	)

	err := row.Scan(
		&state.ID, &version, &state.ProjectID, &state.FlowID, &state.FlowVersion, &state.ChatID,
		&state.Status, &state.CurrentNodeID, &waitReason, &variables, &state.StepCount,
		&state.StartedAt, &state.UpdatedAt, &finishedAt, &lastErr,
	)
	if err != nil {
		return nil, 0, err
	}

	if len(waitReason) > 0 {
		state.WaitReason = &models.WaitReason{}
		if err := json.Unmarshal(waitReason, state.WaitReason); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal wait reason: %w", err)
		}
	}

	state.Variables = map[string]any{}
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &state.Variables); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}

	if len(lastErr) > 0 {
		state.LastError = &models.ExecutionError{}
		if err := json.Unmarshal(lastErr, state.LastError); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal last error: %w", err)
		}
	}

	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		state.FinishedAt = &t
	}

	state.StartedAt = state.StartedAt.UTC()
	state.UpdatedAt = state.UpdatedAt.UTC()

	return &state, version, nil
}
