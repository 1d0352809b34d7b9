// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/dukex/nodebase/pkg/models"

// UserHeader carries the id of the calling user, set by the upstream gateway.
const UserHeader = "X-User-ID"

// ExecuteWorkflowRequest represents the optional body of a manual run.
type ExecuteWorkflowRequest struct {
	InitialData map[string]any `json:"initial_data"`
}

// ExecutionAcceptedResponse acknowledges a queued run.
type ExecutionAcceptedResponse struct {
	EventID    string `json:"event_id"`
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// NodeTypeResponse describes a registered node type.
type NodeTypeResponse struct {
	Type    models.NodeType `json:"type"`
	Channel string          `json:"channel"`
	Trigger bool            `json:"trigger"`
	Schema  map[string]any  `json:"schema"`
}
