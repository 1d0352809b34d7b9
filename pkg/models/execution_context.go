package models

import (
	"maps"
	"time"
)

// Context is the key-value state threaded through the nodes of one execution.
type Context map[string]any

// Clone returns a shallow copy. A nil context clones to an empty one.
func (c Context) Clone() Context {
	out := make(Context, len(c)+1)
	maps.Copy(out, c)

	return out
}

// With returns a copy of c with key set to value. c is left untouched.
func (c Context) With(key string, value any) Context {
	out := c.Clone()
	out[key] = value

	return out
}

// Has reports whether key was written.
func (c Context) Has(key string) bool {
	_, ok := c[key]

	return ok
}

// ExecutionStatus is the state of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// WorkflowExecution is the record of one workflow run.
type WorkflowExecution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	TriggerData map[string]any  `json:"trigger_data,omitempty"`
	Output      Context         `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// LogStatus is the state of an ExecutionLog row.
type LogStatus string

const (
	LogStatusRunning   LogStatus = "RUNNING"
	LogStatusCompleted LogStatus = "COMPLETED"
	LogStatusFailed    LogStatus = "FAILED"
)

// ExecutionLog is the append-only record of a single node step.
type ExecutionLog struct {
	ID            string     `json:"id"`
	ExecutionID   string     `json:"execution_id"`
	NodeID        string     `json:"node_id"`
	NodeType      NodeType   `json:"node_type"`
	Status        LogStatus  `json:"status"`
	InputContext  Context    `json:"input_context"`
	OutputContext Context    `json:"output_context,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
