// Package models defines the core domain models for node-based workflow automation
package models

import "time"

// Workflow represents a stored node graph owned by a single user.
type Workflow struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"        validate:"required,min=1,max=255"`
	Owner       string        `json:"owner"       validate:"required"`
	Nodes       []*Node       `json:"nodes"       validate:"dive"`
	Connections []*Connection `json:"connections" validate:"dive"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NodeByID returns the node with the given ID, if any.
func (w *Workflow) NodeByID(id string) (*Node, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// NodesOfType returns every node of the given type in storage order.
func (w *Workflow) NodesOfType(nodeType NodeType) []*Node {
	var nodes []*Node

	for _, node := range w.Nodes {
		if node.Type == nodeType {
			nodes = append(nodes, node)
		}
	}

	return nodes
}
