// Package persistence provides the storage abstraction for flows, executions, step logs and timers.
package persistence

import (
	"context"
	"iter"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	ExecutionRepository() ExecutionRepository
	LogRepository() LogRepository
	TimerRepository() TimerRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores published, immutable flow versions.
type FlowRepository interface {
	// Publish stores flow under its (ID, Version). An existing version is never overwritten.
	Publish(ctx context.Context, flow *models.FlowDefinition) error

	// Version returns one published version of a flow.
	Version(ctx context.Context, flowID string, version int) (*models.FlowDefinition, error)

	// Latest returns the highest published version of a flow.
	Latest(ctx context.Context, flowID string) (*models.FlowDefinition, error)

	// ListLatest returns the highest published version of every flow.
	ListLatest(ctx context.Context) ([]*models.FlowDefinition, error)
}

// ExecutionRepository is the versioned execution store. Every successful write
// increments the stored version; a write with a stale expected version fails
// with ErrVersionConflict.
type ExecutionRepository interface {
	// Create stores a new waiting-to-run execution positioned at the entry node.
	Create(ctx context.Context, input models.NewExecution) (*models.ExecutionState, int64, error)

	// Load returns the execution and the version it was read at.
	Load(ctx context.Context, executionID string) (*models.ExecutionState, int64, error)

	// Save writes state if the stored version still equals expectedVersion and returns the new version.
	Save(ctx context.Context, state *models.ExecutionState, expectedVersion int64) (int64, error)

	// FindActive returns the most recently updated non-terminal execution of a conversation.
	FindActive(ctx context.Context, flowID, chatID string) (*models.ExecutionState, int64, error)
}

// LogRepository is the append-only step log.
type LogRepository interface {
	// Append keeps the first entry of each (execution, step); appending a step again is a no-op,
	// so a failed append can be retried.
	Append(ctx context.Context, entry models.LogEntry) error

	// StreamSince yields entries with Timestamp at or after since, ordered by step.
	// The sequence is finite; observers poll again with the last timestamp they saw.
	StreamSince(ctx context.Context, executionID string, since time.Time) iter.Seq2[models.LogEntry, error]
}

// TimerRepository stores pending re-entries until the poller delivers them.
type TimerRepository interface {
	Schedule(ctx context.Context, timer models.Timer) error

	// Due returns up to limit timers with FireAt at or before now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]models.Timer, error)

	Delete(ctx context.Context, jobID string) error
}
