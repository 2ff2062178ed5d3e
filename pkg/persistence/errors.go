package persistence

import (
	"errors"
	"fmt"
	"strings"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates no published flow (or version) exists for the identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowVersionExists indicates the flow version was already published.
	ErrFlowVersionExists = errors.New("flow version already published")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrVersionConflict indicates the stored execution changed since it was loaded.
	ErrVersionConflict = errors.New("execution version conflict")

	// ErrInvalidID indicates an identifier that cannot be used as a storage key.
	ErrInvalidID = errors.New("invalid identifier")
)

// FlowError wraps flow-related errors with additional context.
type FlowError struct {
	Op      string // Operation being performed (e.g., "Version", "Publish")
	FlowID  string
	Version int // 0 when not applicable
	Err     error
}

func (e *FlowError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for flow %s version %d: %v", e.Op, e.FlowID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, e.FlowID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for flow errors.
func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewFlowError(op, flowID string, version int, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Version: version, Err: err}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic-concurrency race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

// ValidateID rejects identifiers that are empty or could escape a storage namespace.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}

	for _, bad := range []string{"..", "/", "\\", ":"} {
		if strings.Contains(id, bad) {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}

	return nil
}
