package models

import (
	"fmt"
	"maps"
	"time"
)

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further steps may be applied.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

type WaitType string

const (
	WaitCommand  WaitType = "command"
	WaitMessage  WaitType = "message"
	WaitCallback WaitType = "callback"
	WaitSchedule WaitType = "schedule"
	WaitTimer    WaitType = "timer"
)

// WaitReason describes the external event a waiting execution needs.
type WaitReason struct {
	Type    WaitType       `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// JobID returns the timer job a timer wait is bound to.
func (w *WaitReason) JobID() string {
	if w == nil || w.Payload == nil {
		return ""
	}

	id, _ := w.Payload["job_id"].(string)

	return id
}

type ErrorCode string

const (
	ErrCodeMissingCredential ErrorCode = "MissingCredential"
	ErrCodeTransport         ErrorCode = "TransportError"
	ErrCodeOperation         ErrorCode = "OperationError"
	ErrCodeMissingBranch     ErrorCode = "MissingBranch"
	ErrCodeUnknownNodeType   ErrorCode = "UnknownNodeType"
	ErrCodeNodeNotFound      ErrorCode = "NodeNotFound"
	ErrCodeStepLimitExceeded ErrorCode = "StepLimitExceeded"
	ErrCodeCancelled         ErrorCode = "Cancelled"
	ErrCodeInvalidNode       ErrorCode = "InvalidNode"
	ErrCodeScheduling        ErrorCode = "SchedulingError"
)

// ExecutionError is the recorded failure of an execution. It is data, not a Go error path.
type ExecutionError struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Retryable bool           `json:"retryable"`
}

func (e *ExecutionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s at node %s: %s", e.Code, e.NodeID, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ExecutionState is the durable, resumable record of one conversation run.
type ExecutionState struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	FlowID        string          `json:"flow_id"`
	FlowVersion   int             `json:"flow_version"`
	ChatID        string          `json:"chat_id,omitempty"`
	Status        ExecutionStatus `json:"status"`
	CurrentNodeID string          `json:"current_node_id"`
	WaitReason    *WaitReason     `json:"wait_reason,omitempty"`
	Variables     map[string]any  `json:"variables"`
	StepCount     int             `json:"step_count"`
	StartedAt     time.Time       `json:"started_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	LastError     *ExecutionError `json:"last_error,omitempty"`
}

// Clone returns a copy whose variables and wait payload do not alias the receiver.
func (s *ExecutionState) Clone() *ExecutionState {
	c := *s
	c.Variables = maps.Clone(s.Variables)

	if c.Variables == nil {
		c.Variables = map[string]any{}
	}

	if s.WaitReason != nil {
		w := *s.WaitReason
		w.Payload = maps.Clone(s.WaitReason.Payload)
		c.WaitReason = &w
	}

	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}

	if s.LastError != nil {
		e := *s.LastError
		c.LastError = &e
	}

	return &c
}

// Finish moves the execution into a terminal status.
func (s *ExecutionState) Finish(status ExecutionStatus, execErr *ExecutionError, at time.Time) {
	s.Status = status
	s.WaitReason = nil
	s.LastError = execErr
	s.FinishedAt = &at
	s.UpdatedAt = at
}

// NewExecution carries what a store needs to create an execution.
type NewExecution struct {
	ProjectID   string
	FlowID      string
	FlowVersion int
	EntryNodeID string
	ChatID      string
	Variables   map[string]any
}

type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one append-only step record. Ordering is by Step.
type LogEntry struct {
	ExecutionID string         `json:"execution_id"`
	Step        int            `json:"step"`
	NodeID      string         `json:"node_id"`
	NodeType    NodeKind       `json:"node_type"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}
