// Package events defines the messages exchanged on the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every workflow event.
const Topic = "nodebase.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowExecutionRequestedEvent EventType = "workflow.execution.requested"
	WorkflowExecutionFinishedEvent  EventType = "workflow.execution.finished"
)

// Source names who asked for a run.
type Source string

const (
	SourceManual   Source = "manual"
	SourceWebhook  Source = "webhook"
	SourceSchedule Source = "schedule"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// WorkflowExecutionRequested asks a worker to run a workflow.
type WorkflowExecutionRequested struct {
	BaseEvent

	UserID      string         `json:"user_id,omitempty"`
	Source      Source         `json:"source"`
	InitialData map[string]any `json:"initial_data,omitempty"`
}

func (w WorkflowExecutionRequested) GetType() EventType {
	return WorkflowExecutionRequestedEvent
}

func NewWorkflowExecutionRequested(workflowID, userID string, source Source, initialData map[string]any) *WorkflowExecutionRequested {
	return &WorkflowExecutionRequested{
		BaseEvent:   NewBaseEvent(WorkflowExecutionRequestedEvent, workflowID),
		UserID:      userID,
		Source:      source,
		InitialData: initialData,
	}
}

// WorkflowExecutionFinished reports the terminal state of a run.
type WorkflowExecutionFinished struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

func (w WorkflowExecutionFinished) GetType() EventType {
	return WorkflowExecutionFinishedEvent
}
