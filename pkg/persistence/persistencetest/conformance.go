// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a backend. newPersistence must return an empty store.
func Run(t *testing.T, newPersistence func(t *testing.T) persistence.Persistence) {
	t.Helper()

	t.Run("flows", func(t *testing.T) { testFlows(t, newPersistence(t)) })
	t.Run("executions", func(t *testing.T) { testExecutions(t, newPersistence(t)) })
	t.Run("find active", func(t *testing.T) { testFindActive(t, newPersistence(t)) })
	t.Run("logs", func(t *testing.T) { testLogs(t, newPersistence(t)) })
	t.Run("timers", func(t *testing.T) { testTimers(t, newPersistence(t)) })
}

func testFlows(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.FlowRepository()

	_, err := repo.Latest(ctx, "balance")
	require.ErrorIs(t, err, persistence.ErrFlowNotFound)

	v1 := testutil.BalanceFlow("balance")
	require.NoError(t, repo.Publish(ctx, v1))

	v2 := testutil.BalanceFlow("balance")
	v2.Version = 2
	v2.Name = "second"
	require.NoError(t, repo.Publish(ctx, v2))

	err = repo.Publish(ctx, testutil.BalanceFlow("balance"))
	require.ErrorIs(t, err, persistence.ErrFlowVersionExists)

	latest, err := repo.Latest(ctx, "balance")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "second", latest.Name)

	first, err := repo.Version(ctx, "balance", 1)
	require.NoError(t, err)
	assert.Equal(t, v1.Nodes, first.Nodes)
	assert.Equal(t, v1.Connections, first.Connections)
	assert.Equal(t, "start", first.EntryNodeID)

	_, err = repo.Version(ctx, "balance", 3)
	require.ErrorIs(t, err, persistence.ErrFlowNotFound)

	require.NoError(t, repo.Publish(ctx, testutil.NewFlow("other").Nodes(testutil.Trigger("t", models.TriggerCommand, "/x")).Build()))

	all, err := repo.ListLatest(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	versions := map[string]int{}
	for _, f := range all {
		versions[f.ID] = f.Version
	}

	assert.Equal(t, map[string]int{"balance": 2, "other": 1}, versions)
}

func testExecutions(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.ExecutionRepository()

	state, version, err := repo.Create(ctx, models.NewExecution{
		ProjectID:   "project-1",
		FlowID:      "balance",
		FlowVersion: 2,
		EntryNodeID: "start",
		ChatID:      "42",
	})
	require.NoError(t, err)
	require.NotEmpty(t, state.ID)
	assert.Equal(t, "start", state.CurrentNodeID)
	assert.NotNil(t, state.Variables)

	loaded, loadedVersion, err := repo.Load(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, version, loadedVersion)
	assert.Equal(t, 2, loaded.FlowVersion)

	loaded.Status = models.ExecutionWaiting
	loaded.CurrentNodeID = "show_balance"
	loaded.StepCount = 1
	loaded.Variables["bal"] = "500"
	loaded.WaitReason = &models.WaitReason{Type: models.WaitTimer, Payload: map[string]any{"job_id": "job-1"}}

	next, err := repo.Save(ctx, loaded, version)
	require.NoError(t, err)
	assert.Greater(t, next, version)

	_, err = repo.Save(ctx, loaded, version)
	require.ErrorIs(t, err, persistence.ErrVersionConflict)

	reloaded, reloadedVersion, err := repo.Load(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, next, reloadedVersion)
	assert.Equal(t, models.ExecutionWaiting, reloaded.Status)
	assert.Equal(t, "job-1", reloaded.WaitReason.JobID())
	assert.Equal(t, "500", reloaded.Variables["bal"])
	assert.Equal(t, 1, reloaded.StepCount)

	finishedAt := time.Now().UTC().Truncate(time.Millisecond)
	reloaded.Finish(models.ExecutionFailed, &models.ExecutionError{Code: models.ErrCodeCancelled, Message: "cancelled"}, finishedAt)

	_, err = repo.Save(ctx, reloaded, reloadedVersion)
	require.NoError(t, err)

	final, _, err := repo.Load(ctx, state.ID)
	require.NoError(t, err)
	require.NotNil(t, final.FinishedAt)
	assert.True(t, finishedAt.Equal(*final.FinishedAt))
	assert.Equal(t, models.ErrCodeCancelled, final.LastError.Code)
	assert.Nil(t, final.WaitReason)

	_, _, err = repo.Load(ctx, uuid.New().String())
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func testFindActive(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.ExecutionRepository()

	_, _, err := repo.FindActive(ctx, "balance", "42")
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	done, doneVersion, err := repo.Create(ctx, models.NewExecution{FlowID: "balance", FlowVersion: 1, EntryNodeID: "start", ChatID: "42"})
	require.NoError(t, err)

	done.Finish(models.ExecutionCompleted, nil, time.Now().UTC())
	_, err = repo.Save(ctx, done, doneVersion)
	require.NoError(t, err)

	_, _, err = repo.FindActive(ctx, "balance", "42")
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	active, _, err := repo.Create(ctx, models.NewExecution{FlowID: "balance", FlowVersion: 1, EntryNodeID: "start", ChatID: "42"})
	require.NoError(t, err)

	_, _, err = repo.Create(ctx, models.NewExecution{FlowID: "balance", FlowVersion: 1, EntryNodeID: "start", ChatID: "7"})
	require.NoError(t, err)

	found, _, err := repo.FindActive(ctx, "balance", "42")
	require.NoError(t, err)
	assert.Equal(t, active.ID, found.ID)
}

func testLogs(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.LogRepository()
	executionID := uuid.New().String()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, step := range []int{1, 2, 3} {
		require.NoError(t, repo.Append(ctx, models.LogEntry{
			ExecutionID: executionID,
			Step:        step,
			NodeID:      "n",
			NodeType:    models.KindMessage,
			Level:       models.LogInfo,
			Message:     "step",
			Timestamp:   base.Add(time.Duration(step/3) * time.Second),
			Data:        map[string]any{"text": "hi"},
		}))
	}

	steps := func(since time.Time) []int {
		out := []int{}

		for entry, err := range repo.StreamSince(ctx, executionID, since) {
			require.NoError(t, err)
			out = append(out, entry.Step)
		}

		return out
	}

	require.NoError(t, repo.Append(ctx, models.LogEntry{
		ExecutionID: executionID,
		Step:        2,
		NodeID:      "n",
		NodeType:    models.KindMessage,
		Level:       models.LogInfo,
		Message:     "retried",
		Timestamp:   base,
	}))

	assert.Equal(t, []int{1, 2, 3}, steps(time.Time{}))
	assert.Equal(t, []int{1, 2, 3}, steps(base))

	for entry, err := range repo.StreamSince(ctx, executionID, time.Time{}) {
		require.NoError(t, err)
		assert.Equal(t, "step", entry.Message, "step %d", entry.Step)
	}
	assert.Equal(t, []int{3}, steps(base.Add(time.Second)))
	assert.Empty(t, steps(base.Add(time.Minute)))

	for range repo.StreamSince(ctx, executionID, time.Time{}) {
		break
	}

	for entry, err := range repo.StreamSince(ctx, uuid.New().String(), time.Time{}) {
		t.Fatalf("unexpected entry %v %v", entry, err)
	}
}

func testTimers(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.TimerRepository()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{-time.Minute, -time.Hour, time.Hour} {
		require.NoError(t, repo.Schedule(ctx, models.Timer{
			JobID:       []string{"late", "later", "future"}[i],
			ExecutionID: "exec-1",
			FireAt:      now.Add(offset),
			CreatedAt:   now,
		}))
	}

	due, err := repo.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "later", due[0].JobID)
	assert.Equal(t, "late", due[1].JobID)
	assert.Equal(t, "exec-1", due[0].ExecutionID)

	limited, err := repo.Due(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	require.NoError(t, repo.Delete(ctx, "later"))
	require.NoError(t, repo.Delete(ctx, "later"))

	due, err = repo.Due(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}
