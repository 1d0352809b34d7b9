// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/nodebase/pkg/credentials"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/realtime"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/dukex/nodebase/pkg/runtime"
	"github.com/dukex/nodebase/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// NewRegistry registers every built-in node executor. AI nodes resolve
// stored credentials through p.
func NewRegistry(logger *slog.Logger, p persistence.Persistence) *registry.Registry {
	reg, err := registry.NewDefault(registry.Deps{
		Logger:      logger,
		Credentials: credentials.NewResolver(p.Credentials()),
	})
	if err != nil {
		panic(err)
	}

	return reg
}

// NewStepRunner memoises step results in Redis when redisURL is set, and in
// memory otherwise.
func NewStepRunner(ctx context.Context, logger *slog.Logger, redisURL string) *runtime.Runner {
	if redisURL == "" {
		return runtime.NewRunner(logger, runtime.NewMemoryStore())
	}

	store, err := runtime.NewRedisStoreFromURL(ctx, redisURL, 0)
	if err != nil {
		panic(err)
	}

	return runtime.NewRunner(logger, store)
}

// NewExecutor wires the workflow executor with real-time status publishing.
func NewExecutor(
	logger *slog.Logger,
	p persistence.Persistence,
	reg *registry.Registry,
	steps *runtime.Runner,
	statusPublisher message.Publisher,
	tracer trace.Tracer,
) *workflow.Executor {
	return workflow.NewExecutor(p, reg, steps, logger,
		workflow.WithPublisher(realtime.NewPublisher(statusPublisher, logger)),
		workflow.WithTracer(tracer),
	)
}
