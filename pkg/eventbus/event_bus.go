// Package eventbus moves engine inputs and execution notifications between processes.
package eventbus

import (
	"context"

	"github.com/dukex/convoflow/pkg/events"
)

// Event is anything published on the bus; its type selects the handler on the consuming side.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes event under key. Events sharing a key keep their relative order on
// transports that partition, so conversation events are keyed by execution or chat.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler receives a pointer to the decoded event. A returned error nacks the message.
type EventHandler func(ctx context.Context, event any) error

type EventSubscriber interface {
	// Handle registers the handler of one event type. Call it before Subscribe.
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	GenerateID() string
	Close() error
}
