package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence/file"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func scheduledFlow(version int, spec string) *models.FlowDefinition {
	return testutil.NewFlow("digest").
		Version(version).
		Nodes(
			testutil.Trigger("daily", models.TriggerSchedule, spec),
			testutil.Trigger("start", models.TriggerCommand, "/start"),
			testutil.Action("report", "log", "", map[string]any{"message": "digest"}),
		).
		Connect("daily", "report").
		Connect("start", "report").
		Entry("start").
		Build()
}

func TestSchedules_SyncFollowsLatestVersion(t *testing.T) {
	ctx := context.Background()
	flows := file.NewPersistence(t.TempDir()).FlowRepository()
	s := NewSchedules(flows, &mockPublisher{}, slog.Default())

	require.NoError(t, s.Sync(ctx))
	assert.Zero(t, s.Len())

	require.NoError(t, flows.Publish(ctx, scheduledFlow(1, "0 9 * * *")))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, flows.Publish(ctx, scheduledFlow(2, "not a cron")))
	require.NoError(t, s.Sync(ctx))
	assert.Zero(t, s.Len())

	require.NoError(t, flows.Publish(ctx, scheduledFlow(3, "*/15 * * * *")))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, 1, s.Len())

	for key := range s.entries {
		assert.Equal(t, 3, key.version)
	}
}

func TestSchedules_EmitAddressesFlowAndTrigger(t *testing.T) {
	publisher := &mockPublisher{}
	s := NewSchedules(file.NewPersistence(t.TempDir()).FlowRepository(), publisher, slog.Default())

	fired := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fired }

	publisher.On("Publish", mock.Anything, "digest:", mock.MatchedBy(func(e *events.EventReceived) bool {
		return e.Event.Type == models.EventSchedule &&
			e.Event.FlowID == "digest" &&
			e.Event.ProjectID == "project-1" &&
			e.Event.Data["trigger_id"] == "daily" &&
			e.Event.ReceivedAt.Equal(fired)
	})).Return(nil).Once()

	err := s.emit(context.Background(), "project-1", scheduleKey{flowID: "digest", version: 1, triggerID: "daily", spec: "0 9 * * *"})
	require.NoError(t, err)

	publisher.AssertExpectations(t)
}

func TestSchedules_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flows := file.NewPersistence(t.TempDir()).FlowRepository()
	require.NoError(t, flows.Publish(ctx, scheduledFlow(1, "0 9 * * *")))

	s := NewSchedules(flows, &mockPublisher{}, slog.Default(), WithRefreshInterval(time.Hour))
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 1, s.Len())

	s.Stop()
}
