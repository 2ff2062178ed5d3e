package events

import (
	"encoding/json"
	"testing"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventReceived_FillsIdentity(t *testing.T) {
	received := NewEventReceived(models.Event{Type: models.EventCommand, ProjectID: "p1", FlowID: "f1", ChatID: "42"})

	assert.Equal(t, EventReceivedType, received.GetType())
	assert.Equal(t, EventReceivedType, received.Type)
	assert.Equal(t, "p1", received.ProjectID)
	assert.NotEmpty(t, received.Event.ID)
	assert.False(t, received.Event.ReceivedAt.IsZero())
}

func TestEventReceived_Key(t *testing.T) {
	conversation := NewEventReceived(models.Event{FlowID: "f1", ChatID: "42"})
	assert.Equal(t, "f1:42", conversation.Key())

	timer := NewEventReceived(models.Event{Type: models.EventTimer, ExecutionID: "exec-1", JobID: "job-1"})
	assert.Equal(t, "exec-1", timer.Key())
}

func TestExecutionFinished_JSON(t *testing.T) {
	finished := ExecutionFinished{
		BaseEvent:   NewBaseEvent(ExecutionFinishedType, "p1"),
		ExecutionID: "exec-1",
		Status:      models.ExecutionFailed,
		Error:       &models.ExecutionError{Code: models.ErrCodeStepLimitExceeded, Message: "too many steps"},
	}

	data, err := json.Marshal(finished)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"execution.finished"`)
	assert.Contains(t, string(data), `"code":"StepLimitExceeded"`)
}
