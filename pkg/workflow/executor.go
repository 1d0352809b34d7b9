// Package workflow runs stored workflows node by node.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nodebase/pkg/graph"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/otelhelper"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnauthorized is returned when a user asks to run a workflow they do not own.
var ErrUnauthorized = errors.New("workflow does not belong to user")

// Resolver returns the executor of a node type.
type Resolver interface {
	Resolve(t models.NodeType) (protocol.Executor, error)
}

// StepRunners hands out the step runner of one node of one run. Steps that
// succeeded under the same runID are replayed instead of repeated.
type StepRunners interface {
	For(runID, nodeID string) protocol.StepRunner
}

// StatusPublisher binds status publication to one node of one run.
type StatusPublisher interface {
	PublishFunc(nodeID, executionID string, nodeType models.NodeType) protocol.PublishFunc
}

// Request names the workflow to run and the data the run starts with.
//
// RunID identifies the request across attempts, e.g. the id of the event that
// asked for the run. Every attempt creates its own execution, but side effects
// that succeeded in an earlier attempt with the same RunID are not repeated.
// An empty RunID scopes steps to the execution.
type Request struct {
	WorkflowID  string
	UserID      string
	RunID       string
	InitialData map[string]any
}

// NodeError reports the node at which a run stopped.
type NodeError struct {
	NodeID   string
	NodeType models.NodeType
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

type Executor struct {
	persistence persistence.Persistence
	registry    Resolver
	steps       StepRunners
	publisher   StatusPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Executor)

// WithPublisher publishes node status events of every run.
func WithPublisher(publisher StatusPublisher) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

func NewExecutor(p persistence.Persistence, registry Resolver, steps StepRunners, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		persistence: p,
		registry:    registry,
		steps:       steps,
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "workflow_executor"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs every node of the workflow in topological order against one
// growing context. The first failing node stops the run. The returned
// execution carries the final context in Output; it is nil only when the
// workflow could not be loaded or the user does not own it.
func (e *Executor) Execute(ctx context.Context, req Request) (*models.WorkflowExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.String(otelhelper.UserIDKey, req.UserID),
	)
	defer span.End()

	wf, err := e.persistence.Workflows().ByID(ctx, req.WorkflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if req.UserID != "" && wf.Owner != req.UserID {
		otelhelper.SetError(span, ErrUnauthorized)

		return nil, fmt.Errorf("%w: workflow %s", ErrUnauthorized, wf.ID)
	}

	execution := &models.WorkflowExecution{
		ID:          uuid.Must(uuid.NewV7()).String(),
		WorkflowID:  wf.ID,
		Status:      models.ExecutionStatusRunning,
		TriggerData: req.InitialData,
		StartedAt:   e.now(),
	}

	err = e.persistence.Executions().CreateExecution(ctx, execution)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	span.SetAttributes(
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowNameKey, wf.Name),
	)

	runID := req.RunID
	if runID == "" {
		runID = execution.ID
	}

	logger := e.logger.With("workflow_id", wf.ID, "execution_id", execution.ID, "run_id", runID)
	logger.InfoContext(ctx, "Starting workflow execution", "nodes", len(wf.Nodes))

	state := models.Context(req.InitialData).Clone()

	order, err := graph.Sort(wf.Nodes, wf.Connections)
	if err != nil {
		err = &protocol.NonRetriableError{Message: "invalid workflow graph", Err: err}

		return e.abort(ctx, span, logger, execution, state, err)
	}

	for _, node := range order {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.abort(ctx, span, logger, execution, state, ctxErr)
		}

		next, err := e.runNode(ctx, logger, wf, execution, runID, node, state)
		if err != nil {
			otelhelper.SetError(span, err)
			logger.WarnContext(ctx, "Workflow execution failed", "node_id", node.ID, "error", err)

			return execution, err
		}

		state = next
	}

	completed := e.now()
	execution.Status = models.ExecutionStatusCompleted
	execution.Output = state
	execution.CompletedAt = &completed

	err = e.persistence.Executions().FinishExecution(context.WithoutCancel(ctx), execution)
	if err != nil {
		otelhelper.SetError(span, err)

		return execution, fmt.Errorf("failed to complete execution: %w", err)
	}

	logger.InfoContext(ctx, "Workflow execution completed", "duration", completed.Sub(execution.StartedAt))

	return execution, nil
}

// runNode executes one node and records its log row. On failure the log row
// and the execution are marked FAILED together.
func (e *Executor) runNode(
	ctx context.Context,
	logger *slog.Logger,
	wf *models.Workflow,
	execution *models.WorkflowExecution,
	runID string,
	node *models.Node,
	state models.Context,
) (models.Context, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	logger = logger.With("node_id", node.ID, "node_type", node.Type)

	executor, err := e.registry.Resolve(node.Type)
	if err != nil {
		nodeErr := &NodeError{NodeID: node.ID, NodeType: node.Type, Err: err}
		otelhelper.SetError(span, nodeErr)

		e.finish(ctx, logger, execution, state, nodeErr)

		return nil, nodeErr
	}

	log := &models.ExecutionLog{
		ID:           uuid.Must(uuid.NewV7()).String(),
		ExecutionID:  execution.ID,
		NodeID:       node.ID,
		NodeType:     node.Type,
		Status:       models.LogStatusRunning,
		InputContext: state,
		StartedAt:    e.now(),
	}

	err = e.persistence.Executions().CreateLog(ctx, log)
	if err != nil {
		nodeErr := &NodeError{NodeID: node.ID, NodeType: node.Type, Err: fmt.Errorf("failed to create execution log: %w", err)}
		e.finish(ctx, logger, execution, state, nodeErr)

		return nil, nodeErr
	}

	logger.DebugContext(ctx, "Executing node")

	out, err := executor.Execute(ctx, protocol.ExecuteParams{
		NodeID:      node.ID,
		ExecutionID: execution.ID,
		Owner:       wf.Owner,
		Data:        node.Data,
		Context:     state.Clone(),
		Step:        e.steps.For(runID, node.ID),
		Publish:     e.publishFunc(node, execution.ID),
	})
	if err != nil {
		nodeErr := &NodeError{NodeID: node.ID, NodeType: node.Type, Err: err}
		otelhelper.SetError(span, nodeErr)

		e.failStep(ctx, logger, log, execution, state, nodeErr)

		return nil, nodeErr
	}

	completed := e.now()
	log.Status = models.LogStatusCompleted
	log.OutputContext = out
	log.CompletedAt = &completed

	err = e.persistence.Executions().CompleteLog(context.WithoutCancel(ctx), log)
	if err != nil {
		nodeErr := &NodeError{NodeID: node.ID, NodeType: node.Type, Err: fmt.Errorf("failed to complete execution log: %w", err)}
		otelhelper.SetError(span, nodeErr)

		log.OutputContext = nil
		e.failStep(ctx, logger, log, execution, state, nodeErr)

		return nil, nodeErr
	}

	logger.DebugContext(ctx, "Node completed", "duration", completed.Sub(log.StartedAt))

	return out, nil
}

func (e *Executor) publishFunc(node *models.Node, executionID string) protocol.PublishFunc {
	if e.publisher == nil {
		return nil
	}

	return e.publisher.PublishFunc(node.ID, executionID, node.Type)
}

// failStep marks the log row and the execution FAILED in one write.
func (e *Executor) failStep(
	ctx context.Context,
	logger *slog.Logger,
	log *models.ExecutionLog,
	execution *models.WorkflowExecution,
	state models.Context,
	nodeErr *NodeError,
) {
	completed := e.now()
	log.Status = models.LogStatusFailed
	log.Error = nodeErr.Err.Error()
	log.CompletedAt = &completed

	execution.Status = models.ExecutionStatusFailed
	execution.Output = state
	execution.Error = nodeErr.Error()
	execution.CompletedAt = &completed

	err := e.persistence.Executions().FailStep(context.WithoutCancel(ctx), log, execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record failed step", "error", err)
	}
}

// abort fails a run that stopped outside of any node.
func (e *Executor) abort(
	ctx context.Context,
	span trace.Span,
	logger *slog.Logger,
	execution *models.WorkflowExecution,
	state models.Context,
	cause error,
) (*models.WorkflowExecution, error) {
	otelhelper.SetError(span, cause)
	logger.WarnContext(ctx, "Workflow execution aborted", "error", cause)

	e.finish(ctx, logger, execution, state, cause)

	return execution, cause
}

// finish marks the execution FAILED with cause. The write ignores
// cancellation of ctx so a cancelled run is still recorded.
func (e *Executor) finish(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, state models.Context, cause error) {
	completed := e.now()
	execution.Status = models.ExecutionStatusFailed
	execution.Output = state
	execution.Error = cause.Error()
	execution.CompletedAt = &completed

	err := e.persistence.Executions().FinishExecution(context.WithoutCancel(ctx), execution)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record failed execution", "error", err)
	}
}
