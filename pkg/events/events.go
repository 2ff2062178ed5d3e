// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every convoflow event.
const Topic = "convoflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// EventReceivedType carries an inbound chat update, timer fire or schedule tick to the engine.
	EventReceivedType EventType = "conversation.event.received"

	// ExecutionFinishedType announces that an execution reached a terminal status.
	ExecutionFinishedType EventType = "execution.finished"

	// ExecutionSuspendedType announces that an execution is waiting for an external event.
	ExecutionSuspendedType EventType = "execution.suspended"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ProjectID string         `json:"project_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, projectID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ProjectID: projectID,
		Metadata:  make(map[string]any),
	}
}

type EventReceived struct {
	BaseEvent

	Event models.Event `json:"event"`
}

func (e EventReceived) GetType() EventType {
	return EventReceivedType
}

// NewEventReceived wraps an engine input. A missing event id is generated.
func NewEventReceived(event models.Event) *EventReceived {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	return &EventReceived{
		BaseEvent: NewBaseEvent(EventReceivedType, event.ProjectID),
		Event:     event,
	}
}

// Key is the partition key: events of one execution (or one conversation) stay ordered.
func (e EventReceived) Key() string {
	if e.Event.ExecutionID != "" {
		return e.Event.ExecutionID
	}

	return e.Event.FlowID + ":" + e.Event.ChatID
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	FlowID      string                 `json:"flow_id"`
	FlowVersion int                    `json:"flow_version"`
	Status      models.ExecutionStatus `json:"status"`
	StepCount   int                    `json:"step_count"`
	Error       *models.ExecutionError `json:"error,omitempty"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedType
}

type ExecutionSuspended struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	FlowID      string            `json:"flow_id"`
	NodeID      string            `json:"node_id"`
	WaitReason  models.WaitReason `json:"wait_reason"`
}

func (e ExecutionSuspended) GetType() EventType {
	return ExecutionSuspendedType
}
