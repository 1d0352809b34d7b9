// Package graph orders workflow nodes by their connections and derives the
// context keys each node can see.
package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrCyclicGraph is returned when the connections contain a cycle.
	ErrCyclicGraph = errors.New("Workflow contains a cycle") //nolint:stylecheck

	// ErrUnknownConnectionNode is returned when a connection references a node outside the graph.
	ErrUnknownConnectionNode = errors.New("connection references an unknown node")

	// ErrDuplicateOutput is returned when two nodes declare the same context key.
	ErrDuplicateOutput = errors.New("context key declared by more than one node")
)

// ConnectionError wraps connection-related errors with the offending endpoints.
type ConnectionError struct {
	ConnectionID string
	NodeID       string
	Err          error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: node %s: %v", e.ConnectionID, e.NodeID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsCyclicGraph checks if an error indicates the graph has a cycle.
func IsCyclicGraph(err error) bool {
	return errors.Is(err, ErrCyclicGraph)
}
