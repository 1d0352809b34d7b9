// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/nodebase/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test LOG node with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:       uuid.New().String(),
		Type:     models.NodeTypeLog,
		Name:     "Test Node",
		Position: models.Position{X: 100, Y: 200},
		Data: map[string]any{
			"message":      "test",
			"level":        "info",
			"variableName": "logged",
		},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node ID.
func WithID(id string) func(*models.Node) {
	return func(n *models.Node) {
		n.ID = id
	}
}

// WithType sets the node type and clears its data.
func WithType(nodeType models.NodeType) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = nodeType
		n.Data = map[string]any{}
	}
}

// WithData sets the node data.
func WithData(data map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Data = data
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// WithPosition sets the node position.
func WithPosition(x, y float64) func(*models.Node) {
	return func(n *models.Node) {
		n.Position = models.Position{X: x, Y: y}
	}
}

// WithHTTPRequest configures the node as a GET request storing its response in variableName.
func WithHTTPRequest(endpoint, variableName string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeHTTPRequest
		n.Data = map[string]any{
			"endpoint":     endpoint,
			"method":       "GET",
			"variableName": variableName,
		}
	}
}

// WithScheduleTrigger configures the node as a schedule trigger.
func WithScheduleTrigger(expr string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeScheduleTrigger
		n.Data = map[string]any{"cron": expr}
	}
}

// CreateTestWorkflow creates a workflow of owner holding nodes.
func CreateTestWorkflow(id, owner string, nodes ...*models.Node) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		Name:        "Test Workflow " + id,
		Owner:       owner,
		Nodes:       nodes,
		Connections: []*models.Connection{},
	}
}

// Connect returns a connection from source to target on the default handles.
func Connect(source, target *models.Node) *models.Connection {
	return &models.Connection{
		ID:           uuid.New().String(),
		Source:       source.ID,
		Target:       target.ID,
		SourceHandle: models.DefaultHandle,
		TargetHandle: models.DefaultHandle,
	}
}
