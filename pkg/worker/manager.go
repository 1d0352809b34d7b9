// Package worker consumes execution requests from the event bus and runs
// them through the workflow executor.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/nodebase/pkg/eventbus"
	"github.com/dukex/nodebase/pkg/events"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/otelhelper"
	"github.com/dukex/nodebase/pkg/protocol"
	"github.com/dukex/nodebase/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Runner executes a workflow run.
type Runner interface {
	Execute(ctx context.Context, req workflow.Request) (*models.WorkflowExecution, error)
}

const (
	defaultMaxAttempts   = 3
	defaultRetryInterval = 2 * time.Second
)

type Manager struct {
	id          string
	logger      *slog.Logger
	runner      Runner
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	maxAttempts int
	newBackOff  func() backoff.BackOff
}

type Option func(*Manager)

// WithMaxAttempts bounds how many times a request whose run failed with a
// retriable error is executed.
func WithMaxAttempts(attempts int) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.maxAttempts = attempts
		}
	}
}

// WithRetryBackOff sets the wait policy between attempts.
func WithRetryBackOff(factory func() backoff.BackOff) Option {
	return func(m *Manager) {
		m.newBackOff = factory
	}
}

func NewManager(
	id string,
	runner Runner,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *Manager {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	m := &Manager{
		id:          id,
		logger:      logger.With("module", "nodebase-worker", "worker_id", id),
		runner:      runner,
		eventBus:    eventBus,
		tracer:      tracer,
		maxAttempts: defaultMaxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = defaultRetryInterval

			return b
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Register installs the handlers of the worker on the event bus.
func (w *Manager) Register() error {
	return w.eventBus.Handle(events.WorkflowExecutionRequestedEvent, w.handleExecutionRequested)
}

// Start subscribes to the event bus and blocks until ctx is done.
func (w *Manager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.Register()
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *Manager) handleExecutionRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.WorkflowExecutionRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for WorkflowExecutionRequested")

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.handle_execution_requested",
		attribute.String(otelhelper.WorkflowIDKey, requested.WorkflowID),
		attribute.String(otelhelper.EventIDKey, requested.ID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	logger := w.logger.With(
		"workflow_id", requested.WorkflowID,
		"event_id", requested.ID,
		"source", requested.Source,
	)
	logger.InfoContext(ctx, "Processing workflow execution request")

	started := time.Now()

	execution, err := w.execute(ctx, logger, workflow.Request{
		WorkflowID:  requested.WorkflowID,
		UserID:      requested.UserID,
		RunID:       requested.ID,
		InitialData: requested.InitialData,
	})
	if execution == nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Workflow execution rejected", "error", err)

		return err
	}

	finished := &events.WorkflowExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionFinishedEvent, requested.WorkflowID),
		ExecutionID: execution.ID,
		Status:      string(execution.Status),
		Error:       execution.Error,
		Duration:    time.Since(started),
	}

	if err != nil {
		otelhelper.SetError(span, err)
		logger.WarnContext(ctx, "Workflow execution failed", "execution_id", execution.ID, "error", err)
	} else {
		logger.InfoContext(ctx, "Workflow execution completed", "execution_id", execution.ID, "duration", finished.Duration)
	}

	publishErr := w.eventBus.Publish(ctx, requested.WorkflowID, finished)
	if publishErr != nil {
		logger.ErrorContext(ctx, "Failed to publish workflow finished event", "error", publishErr)
	}

	return errors.Join(err, publishErr)
}

// execute runs req again while its run fails with a retriable error. Every
// attempt shares req.RunID, so nodes that completed earlier are replayed.
func (w *Manager) execute(ctx context.Context, logger *slog.Logger, req workflow.Request) (*models.WorkflowExecution, error) {
	var (
		execution *models.WorkflowExecution
		attempt   int
	)

	operation := func() error {
		attempt++

		var err error

		execution, err = w.runner.Execute(ctx, req)
		if err == nil {
			return nil
		}

		if execution == nil || !protocol.IsRetriable(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Workflow execution failed, retrying", "attempt", attempt, "error", err, "wait", wait)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), uint64(w.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(operation, policy, notify)

	return execution, err
}
