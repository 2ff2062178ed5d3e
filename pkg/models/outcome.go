package models

// Report is the log line a handler attaches to its outcome.
type Report struct {
	Message string
	Data    map[string]any
}

func (r Report) Log() Report { return r }

// Outcome is the result of executing one node.
type Outcome interface {
	Log() Report
	outcome()
}

// Continue moves to NextNodeID, or to the unlabeled outgoing connection when it is empty.
type Continue struct {
	Report
	NextNodeID string
}

// Branch moves along the outgoing connection carrying Label.
type Branch struct {
	Report
	Label string
}

// Suspend persists the execution as waiting for Reason.
type Suspend struct {
	Report
	Reason WaitReason
}

type Complete struct {
	Report
	Success bool
}

type Fail struct {
	Report
	Err *ExecutionError
}

func (Continue) outcome() {}
func (Branch) outcome()   {}
func (Suspend) outcome()  {}
func (Complete) outcome() {}
func (Fail) outcome()     {}

// Failf builds a Fail outcome for a node.
func Failf(code ErrorCode, nodeID string, retryable bool, message string, detail map[string]any) Fail {
	return Fail{
		Report: Report{Message: message, Data: detail},
		Err: &ExecutionError{
			Code:      code,
			Message:   message,
			Detail:    detail,
			NodeID:    nodeID,
			Retryable: retryable,
		},
	}
}
