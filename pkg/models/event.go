package models

import "time"

type EventType string

const (
	EventCommand  EventType = "command"
	EventMessage  EventType = "message"
	EventCallback EventType = "callback"
	EventSchedule EventType = "schedule"
	EventTimer    EventType = "timer"
)

// WaitType returns the wait reason type an event of this type satisfies.
func (t EventType) WaitType() WaitType {
	return WaitType(t)
}

// Event is an external occurrence entering the engine: a chat update or a timer fire.
// It addresses an existing execution by ExecutionID, or a flow by FlowID.
// Text is the message or command text, or the callback data for callback events.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"                   validate:"required,oneof=command message callback schedule timer"`
	ProjectID   string         `json:"project_id,omitempty"   validate:"required_without=ExecutionID"`
	FlowID      string         `json:"flow_id,omitempty"      validate:"required_without=ExecutionID"`
	ExecutionID string         `json:"execution_id,omitempty"`
	ChatID      string         `json:"chat_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Username    string         `json:"username,omitempty"`
	Text        string         `json:"text,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
}
