// Package log provides the LOG node executor.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/protocol"
)

const stepName = "log"

var levels = []string{"debug", "info", "warn", "error"}

// Executor writes a rendered message to the structured log and stores it in
// the context under data.variableName.
type Executor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Executor {
	return &Executor{logger: logger.With("module", "log_node")}
}

func (e *Executor) Type() models.NodeType {
	return models.NodeTypeLog
}

func (e *Executor) Channel() string {
	return models.NodeTypeLog.Channel()
}

func (e *Executor) Outputs(data map[string]any) []models.OutputDeclaration {
	return protocol.DeclaredVariable(data, "object")
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"message", "variableName"},
		"properties": map[string]any{
			"message":      map[string]any{"type": "string", "minLength": 1},
			"variableName": map[string]any{"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
			"level":        map[string]any{"type": "string", "enum": []any{"debug", "info", "warn", "error"}},
		},
	}
}

func (e *Executor) Execute(ctx context.Context, params protocol.ExecuteParams) (models.Context, error) {
	return protocol.Track(ctx, params, func() (models.Context, error) {
		message, err := protocol.RenderString(params.NodeID, params.Data, params.Context, "message", "Message")
		if err != nil {
			return nil, err
		}

		variableName, err := protocol.VariableName(params.NodeID, params.Data)
		if err != nil {
			return nil, err
		}

		level := protocol.OptionalString(params.Data, "level", "info")
		if !slices.Contains(levels, level) {
			return nil, protocol.NewConfigurationError(params.NodeID, "level",
				fmt.Sprintf("invalid log level '%s' (must be debug, info, warn, or error)", level))
		}

		if params.Context.Has(variableName) {
			return nil, protocol.NewConfigurationError(params.NodeID, "variableName",
				fmt.Sprintf("variable %q is already defined by an earlier node", variableName))
		}

		result, err := params.Step.Run(ctx, stepName, func(ctx context.Context) (any, error) {
			e.write(ctx, params, level, message)

			return map[string]any{"message": message, "level": level}, nil
		})
		if err != nil {
			return nil, err
		}

		return protocol.Merge(params.NodeID, params.Context, variableName, result)
	})
}

func (e *Executor) write(ctx context.Context, params protocol.ExecuteParams, level, message string) {
	logger := e.logger.With("node_id", params.NodeID, "execution_id", params.ExecutionID)

	switch level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}
}
