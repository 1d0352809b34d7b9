package cmd

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/nodebase/pkg/eventbus"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/dukex/nodebase/pkg/worker"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// WorkerConfig holds what a worker needs besides its dependencies.
type WorkerConfig struct {
	ID       string
	RedisURL string
}

// NewWorker wires a worker manager that executes requests from bus.
func NewWorker(
	ctx context.Context,
	logger *slog.Logger,
	config WorkerConfig,
	p persistence.Persistence,
	reg *registry.Registry,
	bus eventbus.EventBus,
	statusPublisher message.Publisher,
	tracer trace.Tracer,
) *worker.Manager {
	id := config.ID
	if id == "" {
		id = "worker-" + uuid.New().String()[:8]
	}

	steps := NewStepRunner(ctx, logger, config.RedisURL)
	executor := NewExecutor(logger, p, reg, steps, statusPublisher, tracer)

	return worker.NewManager(id, executor, bus, logger, tracer)
}
