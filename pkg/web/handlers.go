// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/nodes/trigger"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService   *services.Workflow
	executionService  *services.Execution
	credentialService *services.Credential
	registry          *registry.Registry
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	credentialService *services.Credential,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflowService:   workflowService,
		executionService:  executionService,
		credentialService: credentialService,
		registry:          registry,
	}
}

// owner returns the calling user. Every route except webhooks and health
// requires it.
func owner(c fiber.Ctx) (string, bool) {
	user := strings.TrimSpace(c.Get(UserHeader))

	return user, user != ""
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	workflows, err := h.workflowService.List(c.Context(), user)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	workflow, err := h.workflowService.Get(c.Context(), user, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	var req services.CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.workflowService.Create(c.Context(), user, req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// SaveWorkflow replaces the graph of a workflow.
func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	var req services.SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	saved, err := h.workflowService.Save(c.Context(), user, c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(saved)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	err := h.workflowService.Delete(c.Context(), user, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetWorkflowSchema returns the variables each node of the workflow may reference.
func (h *APIHandlers) GetWorkflowSchema(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	schema, err := h.workflowService.Schema(c.Context(), user, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schema)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	var req ExecuteWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	event, err := h.executionService.Request(c.Context(), user, c.Params("id"), req.InitialData)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecutionAcceptedResponse{
		EventID:    event.ID,
		WorkflowID: event.WorkflowID,
		Status:     "queued",
	})
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	executions, err := h.executionService.List(c.Context(), user, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(executions)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	execution, err := h.executionService.Get(c.Context(), user, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// Webhook queues a run of a workflow holding a WEBHOOK_TRIGGER node. The
// JSON body, headers and query become the run's initial context.
func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	var body any
	if raw := c.Body(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	payload := trigger.WebhookPayload(body, headers, c.Queries())

	event, err := h.executionService.Webhook(c.Context(), c.Params("id"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecutionAcceptedResponse{
		EventID:    event.ID,
		WorkflowID: event.WorkflowID,
		Status:     "queued",
	})
}

func (h *APIHandlers) GetCredentials(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	credentials, err := h.credentialService.List(c.Context(), user)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(credentials)
}

func (h *APIHandlers) CreateCredential(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	var req services.CreateCredentialRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.credentialService.Create(c.Context(), user, req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) DeleteCredential(c fiber.Ctx) error {
	user, ok := owner(c)
	if !ok {
		return unauthorized(c)
	}

	err := h.credentialService.Delete(c.Context(), user, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetNodeTypes lists the registered node types with their data schema.
func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	types := h.registry.Types()
	response := make([]NodeTypeResponse, 0, len(types))

	for _, nodeType := range types {
		executor, err := h.registry.Resolve(nodeType)
		if err != nil {
			return handleServiceError(c, err)
		}

		response = append(response, NodeTypeResponse{
			Type:    nodeType,
			Channel: executor.Channel(),
			Trigger: nodeType.IsTrigger(),
			Schema:  executor.Schema(),
		})
	}

	return c.JSON(response)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := "Registry is healthy", len(h.registry.Types()) == len(models.AllNodeTypes())
	if !regOk {
		registryCheck = "Registry is missing node types"
	}

	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Nodebase API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Nodebase API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
