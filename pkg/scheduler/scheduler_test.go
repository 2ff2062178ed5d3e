package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func newTimers(t *testing.T) persistence.TimerRepository {
	t.Helper()

	return file.NewPersistence(t.TempDir()).TimerRepository()
}

func TestScheduler_ScheduleReentry(t *testing.T) {
	ctx := context.Background()
	timers := newTimers(t)
	s := NewScheduler(timers, slog.Default())

	fireAt := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

	jobID, err := s.ScheduleReentry(ctx, "exec-1", fireAt)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	due, err := timers.Due(ctx, fireAt, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, jobID, due[0].JobID)
	assert.Equal(t, "exec-1", due[0].ExecutionID)
	assert.True(t, fireAt.Equal(due[0].FireAt))
}

func TestScheduler_ScheduleReentry_RequiresExecution(t *testing.T) {
	s := NewScheduler(newTimers(t), slog.Default())

	_, err := s.ScheduleReentry(context.Background(), "", time.Now())
	require.ErrorIs(t, err, persistence.ErrInvalidID)
}

func TestPoller_PublishesDueTimersThenDeletes(t *testing.T) {
	ctx := context.Background()
	timers := newTimers(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, timers.Schedule(ctx, models.Timer{JobID: "job-1", ExecutionID: "exec-1", FireAt: now.Add(-time.Minute)}))
	require.NoError(t, timers.Schedule(ctx, models.Timer{JobID: "job-2", ExecutionID: "exec-2", FireAt: now.Add(time.Hour)}))

	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, "exec-1", mock.MatchedBy(func(e eventbus.Event) bool {
		received, ok := e.(*events.EventReceived)

		return ok && received.Event.Type == models.EventTimer && received.Event.JobID == "job-1"
	})).Return(nil).Once()

	poller := NewPoller(timers, publisher, slog.Default(), WithClock(func() time.Time { return now }))

	delivered, err := poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	publisher.AssertExpectations(t)

	due, err := timers.Due(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "job-2", due[0].JobID)
}

func TestPoller_KeepsTimerWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	timers := newTimers(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, timers.Schedule(ctx, models.Timer{JobID: "job-1", ExecutionID: "exec-1", FireAt: now}))

	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, "exec-1", mock.Anything).Return(errors.New("broker down")).Once()

	poller := NewPoller(timers, publisher, slog.Default(), WithClock(func() time.Time { return now }))

	delivered, err := poller.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)

	due, err := timers.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestPoller_RespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	timers := newTimers(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, job := range []string{"job-a", "job-b", "job-c"} {
		require.NoError(t, timers.Schedule(ctx, models.Timer{JobID: job, ExecutionID: "exec-" + job, FireAt: now.Add(-time.Duration(3-i) * time.Minute)}))
	}

	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	poller := NewPoller(timers, publisher, slog.Default(), WithBatchSize(2), WithClock(func() time.Time { return now }))

	delivered, err := poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	publisher.AssertCalled(t, "Publish", mock.Anything, "exec-job-a", mock.Anything)
	publisher.AssertCalled(t, "Publish", mock.Anything, "exec-job-b", mock.Anything)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, "exec-job-c", mock.Anything)
}

func TestPoller_StartAndStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timers := newTimers(t)
	require.NoError(t, timers.Schedule(ctx, models.Timer{JobID: "job-1", ExecutionID: "exec-1", FireAt: time.Now().Add(-time.Second)}))

	published := make(chan struct{}, 1)

	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, "exec-1", mock.Anything).Return(nil).Run(func(mock.Arguments) {
		select {
		case published <- struct{}{}:
		default:
		}
	})

	poller := NewPoller(timers, publisher, slog.Default(), WithInterval(time.Second))
	require.NoError(t, poller.Start(ctx))
	defer poller.Stop()

	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not deliver the due timer")
	}
}
