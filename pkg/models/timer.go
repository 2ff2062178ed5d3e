package models

import "time"

// Timer is a scheduled re-entry of an execution.
type Timer struct {
	JobID       string    `json:"job_id"`
	ExecutionID string    `json:"execution_id"`
	FireAt      time.Time `json:"fire_at"`
	CreatedAt   time.Time `json:"created_at"`
}
