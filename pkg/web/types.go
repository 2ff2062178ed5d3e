// Package web provides HTTP request and response types for the convoflow API.
package web

import (
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// PublishFlowResponse is returned after a flow version is stored.
type PublishFlowResponse struct {
	Flow     *models.FlowDefinition `json:"flow"`
	Warnings []string               `json:"warnings"`
}

// PostEventRequest is an inbound conversation event or schedule tick.
type PostEventRequest struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"                   validate:"required,oneof=command message callback schedule timer"`
	ProjectID   string         `json:"project_id"             validate:"required_without=ExecutionID"`
	FlowID      string         `json:"flow_id"                validate:"required_without=ExecutionID"`
	ExecutionID string         `json:"execution_id,omitempty"`
	ChatID      string         `json:"chat_id"`
	UserID      string         `json:"user_id,omitempty"`
	Username    string         `json:"username,omitempty"`
	Text        string         `json:"text,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
}

func (r PostEventRequest) Event() models.Event {
	return models.Event{
		ID:          r.ID,
		Type:        models.EventType(r.Type),
		ProjectID:   r.ProjectID,
		FlowID:      r.FlowID,
		ExecutionID: r.ExecutionID,
		ChatID:      r.ChatID,
		UserID:      r.UserID,
		Username:    r.Username,
		Text:        r.Text,
		Data:        r.Data,
		JobID:       r.JobID,
	}
}

type PostEventResponse struct {
	EventID string `json:"event_id"`
}

type ExecutionResponse struct {
	Execution *models.ExecutionState `json:"execution"`
	Version   int64                  `json:"version"`
}

// LogsResponse carries the entries found since the requested timestamp. Next is the
// timestamp to poll with; entries at exactly Next are returned again and deduplicated by step.
type LogsResponse struct {
	Entries []models.LogEntry `json:"entries"`
	Next    time.Time         `json:"next"`
}

type CancelExecutionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}
