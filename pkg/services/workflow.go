package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/nodebase/pkg/graph"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/protocol"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Resolver returns the executor of a node type.
type Resolver interface {
	Resolve(t models.NodeType) (protocol.Executor, error)
}

type Workflow struct {
	persistence persistence.Persistence
	registry    Resolver
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, registry Resolver, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    registry,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateWorkflowRequest holds the fields of a new workflow.
type CreateWorkflowRequest struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
}

// SaveWorkflowRequest replaces the name and the whole graph of a workflow.
type SaveWorkflowRequest struct {
	Name        string               `json:"name"        validate:"omitempty,min=1,max=255"`
	Nodes       []*models.Node       `json:"nodes"       validate:"dive"`
	Connections []*models.Connection `json:"connections" validate:"dive"`
}

// List returns the workflows of owner.
func (w *Workflow) List(ctx context.Context, owner string) ([]*models.Workflow, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrMissingOwner
	}

	workflows, err := w.persistence.Workflows().ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// Get returns a workflow of owner. A workflow owned by someone else is
// reported as not found.
func (w *Workflow) Get(ctx context.Context, owner, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.Workflows().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if owner != "" && workflow.Owner != owner {
		return nil, persistence.NewWorkflowError("Get", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

// Create stores a new workflow holding a single INITIAL node.
func (w *Workflow) Create(ctx context.Context, owner string, req CreateWorkflowRequest) (*models.Workflow, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrMissingOwner
	}

	err := w.validate.Struct(req)
	if err != nil {
		return nil, NewValidationError("Create", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	workflow := &models.Workflow{
		ID:    uuid.Must(uuid.NewV7()).String(),
		Name:  req.Name,
		Owner: owner,
		Nodes: []*models.Node{{
			ID:   uuid.Must(uuid.NewV7()).String(),
			Name: "Start",
			Type: models.NodeTypeInitial,
			Data: map[string]any{},
		}},
		Connections: []*models.Connection{},
	}

	err = w.persistence.Workflows().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID, "owner", owner)

	return workflow, nil
}

// Save validates and stores a new graph for the workflow. Nodes and
// connections not present in req are removed.
func (w *Workflow) Save(ctx context.Context, owner, id string, req SaveWorkflowRequest) (*models.Workflow, error) {
	if slices.Contains(req.Nodes, nil) || slices.Contains(req.Connections, nil) {
		return nil, NewValidationError("Save", "INVALID_WORKFLOW", "nodes and connections cannot be null", ErrInvalidRequest)
	}

	err := w.validate.Struct(req)
	if err != nil {
		return nil, NewValidationError("Save", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	workflow, err := w.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		workflow.Name = req.Name
	}

	workflow.Nodes = req.Nodes
	workflow.Connections = req.Connections

	for _, conn := range workflow.Connections {
		conn.Normalize()

		if conn.ID == "" {
			conn.ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	_, err = w.Check(workflow)
	if err != nil {
		return nil, err
	}

	err = w.persistence.Workflows().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow saved",
		"workflow_id", workflow.ID,
		"nodes", len(workflow.Nodes),
		"connections", len(workflow.Connections),
	)

	return workflow, nil
}

// Delete removes a workflow of owner with everything that belongs to it.
func (w *Workflow) Delete(ctx context.Context, owner, id string) error {
	_, err := w.Get(ctx, owner, id)
	if err != nil {
		return err
	}

	err = w.persistence.Workflows().Delete(ctx, id)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", id)

	return nil
}

// Schema returns the output schema of a stored workflow.
func (w *Workflow) Schema(ctx context.Context, owner, id string) (*graph.Schema, error) {
	workflow, err := w.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	return w.Check(workflow)
}

// Check validates workflow and returns its output schema. It verifies that
// every node type is known, that node data matches the executor's JSON
// schema, that the graph is acyclic, and that each template only references
// variables written by an ancestor of its node.
func (w *Workflow) Check(workflow *models.Workflow) (*graph.Schema, error) {
	if len(workflow.NodesOfType(models.NodeTypeInitial)) > 1 {
		return nil, NewValidationError("Check", "DUPLICATE_INITIAL", ErrDuplicateInitial.Error(), ErrDuplicateInitial)
	}

	executors := make(map[string]protocol.Executor, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		executor, err := w.registry.Resolve(node.Type)
		if err != nil {
			return nil, NewValidationError("Check", "UNKNOWN_NODE_TYPE",
				fmt.Sprintf("node %s: %v", node.ID, err), errors.Join(ErrInvalidNodeData, err))
		}

		err = validateNodeData(executor, node)
		if err != nil {
			return nil, err
		}

		executors[node.ID] = executor
	}

	schema, err := graph.BuildSchema(workflow.Nodes, workflow.Connections, func(node *models.Node) []models.OutputDeclaration {
		return executors[node.ID].Outputs(node.Data)
	})
	if err != nil {
		return nil, NewValidationError("Check", "INVALID_GRAPH", err.Error(), errors.Join(ErrInvalidGraph, err))
	}

	err = checkReferences(workflow, schema)
	if err != nil {
		return nil, err
	}

	return schema, nil
}
