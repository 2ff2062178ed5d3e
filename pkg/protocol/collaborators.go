package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

var (
	ErrUnknownTenant    = errors.New("unknown tenant")
	ErrUnknownOperation = errors.New("unknown operation")
)

type OutgoingMessage struct {
	ChatID  string
	Text    string
	Buttons []models.Button
}

type Delivery struct {
	ProviderMessageID string
}

// SendError is a transport failure reported by a Sender.
type SendError struct {
	Status int
	Detail string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed with status %d: %s", e.Status, e.Detail)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Sender delivers a chat message on behalf of a bot credential.
type Sender interface {
	Send(ctx context.Context, credential string, msg OutgoingMessage) (Delivery, error)
}

// OperationInvoker runs named host operations for action nodes.
type OperationInvoker interface {
	Invoke(ctx context.Context, tenant models.Tenant, name string, params map[string]any) (any, error)

	// Idempotent reports whether a failed call of name may be retried.
	Idempotent(name string) bool
}

// Scheduler arranges a future re-entry of an execution. Delivery is at least once.
type Scheduler interface {
	ScheduleReentry(ctx context.Context, executionID string, fireAt time.Time) (jobID string, err error)
}

// TenantResolver supplies per-project context.
type TenantResolver interface {
	Tenant(ctx context.Context, projectID string) (models.Tenant, error)
}

// BranchResult lets an operation choose the outgoing branch of its action node.
// Value is what gets stored in the node's result variable.
type BranchResult struct {
	Label string
	Value any
}
