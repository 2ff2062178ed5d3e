package delay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/mocks"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseDuration("3600")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	d, err = ParseDuration("9223372036")
	require.NoError(t, err)
	assert.Equal(t, 9223372036*time.Second, d)

	for _, bad := range []string{"", "0", "-5", "soon", "-1h", "9223372037", "18446744074", "99999999999999999999"} {
		_, err := ParseDuration(bad)
		assert.ErrorIs(t, err, ErrInvalidDuration, bad)
	}
}

func TestHandler_Execute_SchedulesAndSuspends(t *testing.T) {
	scheduler := &mocks.MockScheduler{}
	h := NewHandler(scheduler)

	exec := testutil.NewExecutionContext()
	fireAt := exec.Now.Add(2 * time.Hour)

	scheduler.On("ScheduleReentry", mock.Anything, exec.Execution.ID, fireAt).Return("job-1", nil).Once()

	outcome := h.Execute(context.Background(), testutil.Delay("wait", "2h"), exec)

	suspend, ok := outcome.(models.Suspend)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, models.WaitTimer, suspend.Reason.Type)
	assert.Equal(t, "job-1", suspend.Reason.Payload["job_id"])
	assert.Equal(t, "2024-05-01T14:00:00Z", suspend.Reason.Payload["fire_at"])
	scheduler.AssertExpectations(t)
}

func TestHandler_Execute_MatchingTimerContinues(t *testing.T) {
	scheduler := &mocks.MockScheduler{}
	h := NewHandler(scheduler)

	exec := testutil.NewExecutionContext(func(c *protocol.ExecutionContext) {
		c.Execution.WaitReason = &models.WaitReason{Type: models.WaitTimer, Payload: map[string]any{"job_id": "job-1"}}
		c.Event = &models.Event{Type: models.EventTimer, JobID: "job-1"}
	})

	outcome := h.Execute(context.Background(), testutil.Delay("wait", "2h"), exec)

	_, ok := outcome.(models.Continue)
	require.True(t, ok, "got %T", outcome)
	scheduler.AssertNotCalled(t, "ScheduleReentry", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_Execute_StaleTimerReschedules(t *testing.T) {
	scheduler := &mocks.MockScheduler{}
	h := NewHandler(scheduler)

	exec := testutil.NewExecutionContext(func(c *protocol.ExecutionContext) {
		c.Event = &models.Event{Type: models.EventTimer, JobID: "old-job"}
	})

	scheduler.On("ScheduleReentry", mock.Anything, mock.Anything, mock.Anything).Return("job-2", nil).Once()

	outcome := h.Execute(context.Background(), testutil.Delay("wait", "10s"), exec)

	suspend, ok := outcome.(models.Suspend)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, "job-2", suspend.Reason.JobID())
}

func TestHandler_Execute_SchedulerFailure(t *testing.T) {
	scheduler := &mocks.MockScheduler{}
	h := NewHandler(scheduler)

	scheduler.On("ScheduleReentry", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("queue down"))

	outcome := h.Execute(context.Background(), testutil.Delay("wait", "10s"), testutil.NewExecutionContext())

	fail, ok := outcome.(models.Fail)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, models.ErrCodeScheduling, fail.Err.Code)
}

func TestHandler_Validate(t *testing.T) {
	h := NewHandler(nil)

	assert.True(t, h.Validate(testutil.Delay("d", "5m")).IsValid)
	assert.False(t, h.Validate(testutil.Delay("d", "")).IsValid)
	assert.False(t, h.Validate(testutil.Delay("d", "later")).IsValid)
	assert.False(t, h.Validate(testutil.Delay("d", "18446744074")).IsValid)
}
