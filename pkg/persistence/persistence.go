// Package persistence provides data storage abstraction layer for workflows, executions and credentials.
package persistence

import (
	"context"

	"github.com/dukex/nodebase/pkg/models"
)

type Persistence interface {
	Workflows() WorkflowRepository
	Executions() ExecutionRepository
	Credentials() CredentialRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflows together with their nodes and connections.
type WorkflowRepository interface {
	// ListByOwner returns the workflows of owner, most recently updated first.
	ListByOwner(ctx context.Context, owner string) ([]*models.Workflow, error)

	// WorkflowsWithNodeType returns every workflow holding at least one node of type t.
	WorkflowsWithNodeType(ctx context.Context, t models.NodeType) ([]*models.Workflow, error)

	// ByID returns the workflow, its nodes in storage order and its connections.
	ByID(ctx context.Context, id string) (*models.Workflow, error)

	// Save upserts the workflow row and replaces its whole graph atomically.
	Save(ctx context.Context, workflow *models.Workflow) error

	// Delete removes the workflow, its graph, executions and logs.
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores workflow runs and their per-node log rows.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error

	// FinishExecution sets the terminal status of an execution. It fails with
	// ErrExecutionFinished if the execution is already terminal.
	FinishExecution(ctx context.Context, execution *models.WorkflowExecution) error

	CreateLog(ctx context.Context, log *models.ExecutionLog) error

	// CompleteLog marks a RUNNING log row COMPLETED.
	CompleteLog(ctx context.Context, log *models.ExecutionLog) error

	// FailStep marks the log row and its execution FAILED in one transaction.
	FailStep(ctx context.Context, log *models.ExecutionLog, execution *models.WorkflowExecution) error

	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)

	// ExecutionsByWorkflow returns the runs of a workflow, newest first.
	ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)

	// LogsByExecution returns the log rows of a run in creation order.
	LogsByExecution(ctx context.Context, executionID string) ([]*models.ExecutionLog, error)
}

// CredentialRepository stores provider API keys.
type CredentialRepository interface {
	CreateCredential(ctx context.Context, credential *models.Credential) error
	CredentialByID(ctx context.Context, id string) (*models.Credential, error)
	CredentialsByOwner(ctx context.Context, owner string) ([]*models.Credential, error)
	DeleteCredential(ctx context.Context, id string) error
}
