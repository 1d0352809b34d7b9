package web

import "github.com/gofiber/fiber/v3"

// Routes mounts the API endpoints on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/node-types", h.GetNodeTypes)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.SaveWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Get("/:id/schema", h.GetWorkflowSchema)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	router.Get("/executions/:id", h.GetExecution)

	cr := router.Group("/credentials")
	cr.Get("/", h.GetCredentials)
	cr.Post("/", h.CreateCredential)
	cr.Delete("/:id", h.DeleteCredential)

	router.Post("/webhooks/:id", h.Webhook)
}
