// Package models defines core node-based workflow models for graph execution
package models

import (
	"strings"
	"time"
)

// NodeType identifies which executor handles a node and what shape its data has.
type NodeType string

// Built-in node types. The set is closed: registry.NewDefault must map every value.
const (
	NodeTypeInitial         NodeType = "INITIAL"
	NodeTypeManualTrigger   NodeType = "MANUAL_TRIGGER"
	NodeTypeWebhookTrigger  NodeType = "WEBHOOK_TRIGGER"
	NodeTypeScheduleTrigger NodeType = "SCHEDULE_TRIGGER"
	NodeTypeHTTPRequest     NodeType = "HTTP_REQUEST"
	NodeTypeOpenAI          NodeType = "OPENAI"
	NodeTypeAnthropic       NodeType = "ANTHROPIC"
	NodeTypeGemini          NodeType = "GEMINI"
	NodeTypeLog             NodeType = "LOG"
)

// DefaultHandle is the port name used when a connection does not name one.
const DefaultHandle = "main"

// AllNodeTypes returns every known node type.
func AllNodeTypes() []NodeType {
	return []NodeType{
		NodeTypeInitial,
		NodeTypeManualTrigger,
		NodeTypeWebhookTrigger,
		NodeTypeScheduleTrigger,
		NodeTypeHTTPRequest,
		NodeTypeOpenAI,
		NodeTypeAnthropic,
		NodeTypeGemini,
		NodeTypeLog,
	}
}

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	for _, known := range AllNodeTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// IsTrigger reports whether nodes of this type start a workflow.
func (t NodeType) IsTrigger() bool {
	switch t {
	case NodeTypeInitial, NodeTypeManualTrigger, NodeTypeWebhookTrigger, NodeTypeScheduleTrigger:
		return true
	default:
		return false
	}
}

// Channel returns the real-time topic for status events of this node type,
// e.g. "http-request-execution".
func (t NodeType) Channel() string {
	return strings.ReplaceAll(strings.ToLower(string(t)), "_", "-") + "-execution"
}

// Position is the canvas coordinate of a node. Execution ignores it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node represents a node instance in a workflow.
type Node struct {
	ID         string         `json:"id"          validate:"required"`
	WorkflowID string         `json:"workflow_id"`
	Name       string         `json:"name"`
	Type       NodeType       `json:"type"        validate:"required"`
	Position   Position       `json:"position"`
	Data       map[string]any `json:"data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Connection is a directed dependency: Target runs after Source's output is in context.
type Connection struct {
	ID           string `json:"id"`
	WorkflowID   string `json:"workflow_id"`
	Source       string `json:"source"        validate:"required"`
	Target       string `json:"target"        validate:"required"`
	SourceHandle string `json:"source_handle"`
	TargetHandle string `json:"target_handle"`
}

// Normalize fills absent handles with DefaultHandle.
func (c *Connection) Normalize() {
	if c.SourceHandle == "" {
		c.SourceHandle = DefaultHandle
	}

	if c.TargetHandle == "" {
		c.TargetHandle = DefaultHandle
	}
}

// NodeStatus is the lifecycle state published for a node while it runs.
type NodeStatus string

const (
	NodeStatusLoading NodeStatus = "loading"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)

// NodeStatusEvent is the payload sent to real-time subscribers.
type NodeStatusEvent struct {
	NodeID      string     `json:"node_id"`
	ExecutionID string     `json:"execution_id,omitempty"`
	Status      NodeStatus `json:"status"`
	Timestamp   time.Time  `json:"timestamp"`
}

// OutputDeclaration names a context key a node writes and the type of its value.
type OutputDeclaration struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
