// Package trigger provides the executors of the nodes that start a workflow.
package trigger

import (
	"context"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/protocol"
)

// Executor handles INITIAL and MANUAL_TRIGGER nodes. They carry no data and
// leave the context untouched.
type Executor struct {
	nodeType models.NodeType
}

// NewInitial creates the executor of the placeholder node every workflow starts with.
func NewInitial() *Executor {
	return &Executor{nodeType: models.NodeTypeInitial}
}

func NewManual() *Executor {
	return &Executor{nodeType: models.NodeTypeManualTrigger}
}

func (e *Executor) Type() models.NodeType {
	return e.nodeType
}

func (e *Executor) Channel() string {
	return e.nodeType.Channel()
}

func (e *Executor) Outputs(map[string]any) []models.OutputDeclaration {
	return nil
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
	}
}

func (e *Executor) Execute(ctx context.Context, params protocol.ExecuteParams) (models.Context, error) {
	return protocol.Track(ctx, params, func() (models.Context, error) {
		return params.Context.Clone(), nil
	})
}

// seed makes sure key is present in ctx. A payload supplied by the caller is
// kept as is; a run started without one sees an empty object.
func seed(ctx models.Context, key string) models.Context {
	if ctx.Has(key) {
		return ctx.Clone()
	}

	return ctx.With(key, map[string]any{})
}
