// Package protocol defines the interfaces and contracts for pluggable nodes.
package protocol

import (
	"context"

	"github.com/dukex/nodebase/pkg/models"
)

// StepFunc is a unit of work with an externally visible side effect.
type StepFunc func(ctx context.Context) (any, error)

// StepRunner runs units of work durably. A step that already succeeded for
// the same execution, node and name returns its recorded result instead of
// running again. Results are normalised to their JSON form.
type StepRunner interface {
	Run(ctx context.Context, name string, fn StepFunc) (any, error)
}

// PublishFunc emits a node status event. It is fire-and-forget: it never
// fails from the caller's point of view.
type PublishFunc func(ctx context.Context, status models.NodeStatus)

// ExecuteParams is the input of a single node invocation.
type ExecuteParams struct {
	NodeID      string
	ExecutionID string
	Owner       string
	Data        map[string]any
	Context     models.Context
	Step        StepRunner
	Publish     PublishFunc
}

// Executor is implemented by every node type.
//
// Execute publishes loading on entry and exactly one of success or error
// before returning. It returns Context extended with the node's output and
// never drops or overwrites earlier keys. Configuration problems are reported
// as *NonRetriableError before any I/O; errors from side effects are returned
// unchanged so the runtime can retry them.
type Executor interface {
	Execute(ctx context.Context, params ExecuteParams) (models.Context, error)

	// Type returns the node type this executor handles
	Type() models.NodeType

	// Channel returns the real-time topic status events are published on
	Channel() string

	// Outputs declares the context keys a node with this data writes
	Outputs(data map[string]any) []models.OutputDeclaration

	// Schema returns the JSON schema for the node's data
	Schema() map[string]any
}

// Merge returns ctx extended with key. Existing keys are never overwritten.
func Merge(nodeID string, ctx models.Context, key string, value any) (models.Context, error) {
	if ctx.Has(key) {
		return nil, NewConfigurationError(nodeID, "variableName", "variable \""+key+"\" is already defined by an earlier node")
	}

	return ctx.With(key, value), nil
}

// Emit publishes status for the node. A nil Publish is a no-op.
func (p ExecuteParams) Emit(ctx context.Context, status models.NodeStatus) {
	if p.Publish != nil {
		p.Publish(ctx, status)
	}
}

// Track wraps the body of an executor with its status events: loading on
// entry, then error or success depending on the outcome of fn.
func Track(ctx context.Context, params ExecuteParams, fn func() (models.Context, error)) (models.Context, error) {
	params.Emit(ctx, models.NodeStatusLoading)

	result, err := fn()
	if err != nil {
		params.Emit(ctx, models.NodeStatusError)

		return nil, err
	}

	params.Emit(ctx, models.NodeStatusSuccess)

	return result, nil
}
