package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store *Persistence
}

// ListByOwner returns the workflows of owner, most recently updated first.
func (wr *WorkflowRepository) ListByOwner(ctx context.Context, owner string) ([]*models.Workflow, error) {
	return wr.filter(ctx, func(w *models.Workflow) bool { return w.Owner == owner })
}

// WorkflowsWithNodeType returns every workflow holding a node of type t.
func (wr *WorkflowRepository) WorkflowsWithNodeType(ctx context.Context, t models.NodeType) ([]*models.Workflow, error) {
	return wr.filter(ctx, func(w *models.Workflow) bool { return len(w.NodesOfType(t)) > 0 })
}

func (wr *WorkflowRepository) filter(_ context.Context, keep func(*models.Workflow) bool) ([]*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	ids, err := wr.store.ids(workflowsDir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		var workflow models.Workflow
		if err := wr.store.read(workflowsDir, id, &workflow); err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		if keep(&workflow) {
			workflows = append(workflows, &workflow)
		}
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].UpdatedAt.After(workflows[j].UpdatedAt)
	})

	return workflows, nil
}

// ByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) ByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	var workflow models.Workflow

	err := wr.store.read(workflowsDir, workflowID, &workflow)
	if isNotExist(err) {
		return nil, persistence.NewWorkflowError("ByID", workflowID, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowError("ByID", workflowID, err)
	}

	return &workflow, nil
}

// Save writes the workflow file. Nodes and connections are replaced as a whole.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	for _, node := range workflow.Nodes {
		node.WorkflowID = workflow.ID
		if node.CreatedAt.IsZero() {
			node.CreatedAt = now
		}

		node.UpdatedAt = now
	}

	for _, connection := range workflow.Connections {
		connection.WorkflowID = workflow.ID
		connection.Normalize()
	}

	if err := wr.store.write(workflowsDir, workflow.ID, workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete removes the workflow file and every execution of the workflow.
func (wr *WorkflowRepository) Delete(_ context.Context, workflowID string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	err := wr.store.remove(workflowsDir, workflowID)
	if isNotExist(err) {
		return persistence.NewWorkflowError("Delete", workflowID, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	ids, err := wr.store.ids(executionsDir)
	if err != nil {
		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	for _, id := range ids {
		var record executionRecord
		if err := wr.store.read(executionsDir, id, &record); err != nil {
			return persistence.NewWorkflowError("Delete", workflowID, err)
		}

		if record.Execution.WorkflowID != workflowID {
			continue
		}

		if err := wr.store.remove(executionsDir, id); err != nil && !isNotExist(err) {
			return persistence.NewWorkflowError("Delete", workflowID, err)
		}
	}

	return nil
}
