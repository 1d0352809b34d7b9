package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/nodebase/pkg/eventbus"
	"github.com/dukex/nodebase/pkg/events"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
)

// Execution requests workflow runs and reads their history.
type Execution struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewExecution(persistence persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Execution {
	return &Execution{
		persistence: persistence,
		publisher:   publisher,
		logger:      logger.With("module", "execution_service"),
	}
}

// ExecutionDetails is a run with its log rows in creation order.
type ExecutionDetails struct {
	*models.WorkflowExecution

	Logs []*models.ExecutionLog `json:"logs"`
}

// Request asks a worker to run a workflow of owner.
func (s *Execution) Request(ctx context.Context, owner, workflowID string, initialData map[string]any) (*events.WorkflowExecutionRequested, error) {
	workflow, err := s.owned(ctx, owner, workflowID)
	if err != nil {
		return nil, err
	}

	return s.Dispatch(ctx, workflow, events.SourceManual, initialData)
}

// Webhook asks a worker to run a workflow holding a WEBHOOK_TRIGGER node.
// The run is made on behalf of the workflow owner.
func (s *Execution) Webhook(ctx context.Context, workflowID string, payload models.Context) (*events.WorkflowExecutionRequested, error) {
	workflow, err := s.persistence.Workflows().ByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if len(workflow.NodesOfType(models.NodeTypeWebhookTrigger)) == 0 {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrNoWebhookTrigger)
	}

	return s.Dispatch(ctx, workflow, events.SourceWebhook, payload)
}

// Dispatch publishes a run request for workflow.
func (s *Execution) Dispatch(ctx context.Context, workflow *models.Workflow, source events.Source, initialData map[string]any) (*events.WorkflowExecutionRequested, error) {
	event := events.NewWorkflowExecutionRequested(workflow.ID, workflow.Owner, source, initialData)

	err := s.publisher.Publish(ctx, workflow.ID, event)
	if err != nil {
		return nil, fmt.Errorf("failed to publish execution request: %w", err)
	}

	s.logger.InfoContext(ctx, "Workflow execution requested",
		"workflow_id", workflow.ID,
		"event_id", event.ID,
		"source", source,
	)

	return event, nil
}

// List returns the runs of a workflow of owner, newest first.
func (s *Execution) List(ctx context.Context, owner, workflowID string) ([]*models.WorkflowExecution, error) {
	_, err := s.owned(ctx, owner, workflowID)
	if err != nil {
		return nil, err
	}

	executions, err := s.persistence.Executions().ExecutionsByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Get returns a run of a workflow of owner with its log rows.
func (s *Execution) Get(ctx context.Context, owner, executionID string) (*ExecutionDetails, error) {
	execution, err := s.persistence.Executions().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	_, err = s.owned(ctx, owner, execution.WorkflowID)
	if persistence.IsWorkflowNotFound(err) {
		return nil, persistence.NewExecutionError("Get", executionID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, err
	}

	logs, err := s.persistence.Executions().LogsByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution logs: %w", err)
	}

	return &ExecutionDetails{WorkflowExecution: execution, Logs: logs}, nil
}

func (s *Execution) owned(ctx context.Context, owner, workflowID string) (*models.Workflow, error) {
	workflow, err := s.persistence.Workflows().ByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Owner != owner {
		return nil, persistence.NewWorkflowError("owned", workflowID, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}
