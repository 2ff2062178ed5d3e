package file

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/google/uuid"
)

type executionRecord struct {
	Version int64                  `json:"version"`
	State   *models.ExecutionState `json:"state"`
}

// ExecutionRepository stores executions/<id>.json, each holding the state and its version.
type ExecutionRepository struct {
	p *Persistence
}

func (r *ExecutionRepository) Create(_ context.Context, input models.NewExecution) (*models.ExecutionState, int64, error) {
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

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := writeJSON(r.p.path("executions", state.ID+".json"), executionRecord{Version: 1, State: state}); err != nil {
		return nil, 0, persistence.NewExecutionError("Create", state.ID, err)
	}

	return state.Clone(), 1, nil
}

func (r *ExecutionRepository) Load(_ context.Context, executionID string) (*models.ExecutionState, int64, error) {
	if err := persistence.ValidateID(executionID); err != nil {
		return nil, 0, persistence.NewExecutionError("Load", executionID, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	record, err := r.read(executionID)
	if err != nil {
		return nil, 0, persistence.NewExecutionError("Load", executionID, err)
	}

	return record.State, record.Version, nil
}

func (r *ExecutionRepository) Save(_ context.Context, state *models.ExecutionState, expectedVersion int64) (int64, error) {
	if err := persistence.ValidateID(state.ID); err != nil {
		return 0, persistence.NewExecutionError("Save", state.ID, err)
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	current, err := r.read(state.ID)
	if err != nil {
		return 0, persistence.NewExecutionError("Save", state.ID, err)
	}

	if current.Version != expectedVersion {
		return 0, persistence.NewExecutionError("Save", state.ID, persistence.ErrVersionConflict)
	}

	next := executionRecord{Version: expectedVersion + 1, State: state}
	if err := writeJSON(r.p.path("executions", state.ID+".json"), next); err != nil {
		return 0, persistence.NewExecutionError("Save", state.ID, err)
	}

	return next.Version, nil
}

func (r *ExecutionRepository) FindActive(_ context.Context, flowID, chatID string) (*models.ExecutionState, int64, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	ids, err := listJSON(r.p.path("executions"))
	if err != nil {
		return nil, 0, err
	}

	var found *executionRecord

	for _, id := range ids {
		record, err := r.read(id)
		if err != nil {
			return nil, 0, persistence.NewExecutionError("FindActive", id, err)
		}

		s := record.State
		if s.FlowID != flowID || s.ChatID != chatID || s.Status.Terminal() {
			continue
		}

		if found == nil || s.UpdatedAt.After(found.State.UpdatedAt) {
			found = record
		}
	}

	if found == nil {
		return nil, 0, persistence.NewExecutionError("FindActive", "", persistence.ErrExecutionNotFound)
	}

	return found.State, found.Version, nil
}

func (r *ExecutionRepository) read(executionID string) (*executionRecord, error) {
	var record executionRecord

	err := readJSON(r.p.path("executions", executionID+".json"), &record)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.ErrExecutionNotFound
	}

	if err != nil {
		return nil, err
	}

	if record.State.Variables == nil {
		record.State.Variables = map[string]any{}
	}

	return &record, nil
}
