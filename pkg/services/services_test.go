package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/mocks"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/file"
	"github.com/dukex/convoflow/pkg/registry"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry() *registry.Registry {
	reg := registry.NewRegistry(slog.Default())
	reg.RegisterDefaultNodes(registry.Collaborators{
		Sender:     &mocks.MockSender{},
		Operations: &mocks.MockOperationInvoker{},
		Scheduler:  &mocks.MockScheduler{},
	})

	return reg
}

func TestPublishing_AssignsIncreasingVersions(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewPublishing(store.FlowRepository(), newRegistry(), slog.Default())

	first, result, err := service.Publish(t.Context(), testutil.BalanceFlow("balance"))
	require.NoError(t, err)
	assert.Empty(t, result.Errors())
	assert.Equal(t, 1, first.Version)
	assert.False(t, first.PublishedAt.IsZero())

	second, _, err := service.Publish(t.Context(), testutil.BalanceFlow("balance"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	latest, err := service.Latest(t.Context(), "balance")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	pinned, err := service.Version(t.Context(), "balance", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pinned.Version)

	flows, err := service.List(t.Context())
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, 2, flows[0].Version)
}

func TestPublishing_RejectsInvalidFlow(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewPublishing(store.FlowRepository(), newRegistry(), slog.Default())

	flow := testutil.NewFlow("broken").
		Nodes(
			testutil.Trigger("start", models.TriggerCommand, "/start"),
			testutil.Message("hi", ""),
		).
		Connect("start", "hi").
		Connect("hi", "ghost").
		Entry("start").
		Build()

	_, result, err := service.Publish(t.Context(), flow)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, err, ErrFlowInvalid)
	assert.NotEmpty(t, result.Errors())

	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.NotEmpty(t, serviceErr.Diagnostics)

	_, err = service.Latest(t.Context(), "broken")
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestPublishing_RejectsMissingFields(t *testing.T) {
	service := NewPublishing(file.NewPersistence(t.TempDir()).FlowRepository(), newRegistry(), slog.Default())

	_, _, err := service.Publish(t.Context(), nil)
	assert.ErrorIs(t, err, ErrFlowNil)

	_, _, err = service.Publish(t.Context(), testutil.NewFlow("../escape").Build())
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = service.Publish(t.Context(), testutil.NewFlow("orphan").Project("").Build())
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPublishing_ProjectCannotChange(t *testing.T) {
	service := NewPublishing(file.NewPersistence(t.TempDir()).FlowRepository(), newRegistry(), slog.Default())

	_, _, err := service.Publish(t.Context(), testutil.BalanceFlow("balance"))
	require.NoError(t, err)

	moved := testutil.BalanceFlow("balance")
	moved.ProjectID = "project-2"

	_, _, err = service.Publish(t.Context(), moved)
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
}

type takenOnceFlows struct {
	persistence.FlowRepository

	taken bool
}

func (f *takenOnceFlows) Publish(ctx context.Context, flow *models.FlowDefinition) error {
	if !f.taken {
		f.taken = true

		return persistence.NewFlowError("Publish", flow.ID, flow.Version, persistence.ErrFlowVersionExists)
	}

	return f.FlowRepository.Publish(ctx, flow)
}

func TestPublishing_RetriesTakenVersion(t *testing.T) {
	flows := &takenOnceFlows{FlowRepository: file.NewPersistence(t.TempDir()).FlowRepository()}
	service := NewPublishing(flows, newRegistry(), slog.Default())

	published, _, err := service.Publish(t.Context(), testutil.BalanceFlow("balance"))
	require.NoError(t, err)
	assert.True(t, flows.taken)
	assert.Equal(t, 1, published.Version)
}

func TestExecutions_Cancel(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewExecutions(store, slog.Default())

	state, _, err := store.ExecutionRepository().Create(t.Context(), models.NewExecution{
		ProjectID: "project-1", FlowID: "balance", FlowVersion: 1, EntryNodeID: "start", ChatID: "42",
	})
	require.NoError(t, err)

	cancelled, err := service.Cancel(t.Context(), state.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, cancelled.Status)
	assert.Equal(t, models.ErrCodeCancelled, cancelled.LastError.Code)
	assert.Equal(t, "cancelled by operator", cancelled.LastError.Message)
	assert.NotNil(t, cancelled.FinishedAt)

	stored, version, err := service.Get(t.Context(), state.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, models.ExecutionFailed, stored.Status)

	_, err = service.Cancel(t.Context(), state.ID, "again")
	require.Error(t, err)
	assert.True(t, IsConflictError(err))

	_, err = service.Cancel(t.Context(), "missing", "")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutions_Logs(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewExecutions(store, slog.Default())

	state, _, err := store.ExecutionRepository().Create(t.Context(), models.NewExecution{FlowID: "f", EntryNodeID: "start", ChatID: "1"})
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for step := 1; step <= 3; step++ {
		require.NoError(t, store.LogRepository().Append(t.Context(), models.LogEntry{
			ExecutionID: state.ID,
			Step:        step,
			NodeID:      "n",
			Level:       models.LogInfo,
			Timestamp:   base.Add(time.Duration(step) * time.Minute),
		}))
	}

	all, err := service.Logs(t.Context(), state.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	recent, err := service.Logs(t.Context(), state.ID, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 2, recent[0].Step)

	_, err = service.Logs(t.Context(), "missing", time.Time{})
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutions_HealthCheck(t *testing.T) {
	message, ok := NewExecutions(file.NewPersistence(t.TempDir()), slog.Default()).HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}

func TestServiceError_Unwrap(t *testing.T) {
	err := NewValidationError("Op", "code", "bad input", ErrInvalidRequest)

	assert.Equal(t, "Op: bad input", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.False(t, IsConflictError(err))
}
