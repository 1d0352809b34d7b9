package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/nodebase/pkg/events"
	"github.com/dukex/nodebase/pkg/mocks"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence/file"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/dukex/nodebase/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	app   *fiber.App
	store *file.Persistence
	bus   *mocks.MockEventBus
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	bus := &mocks.MockEventBus{}

	reg, err := registry.NewDefault(registry.Deps{Logger: slog.Default()})
	require.NoError(t, err)

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(store, reg, slog.Default()),
		services.NewExecution(store, bus, slog.Default()),
		services.NewCredential(store, slog.Default()),
		reg,
	)

	app := fiber.New()
	handlers.Routes(app)

	return &testApp{app: app, store: store, bus: bus}
}

func (a *testApp) do(t *testing.T, method, path, user string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if user != "" {
		req.Header.Set(web.UserHeader, user)
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func (a *testApp) createWorkflow(t *testing.T, user string) *models.Workflow {
	t.Helper()

	status, body := a.do(t, http.MethodPost, "/workflows", user, map[string]any{"name": "Test Workflow"})
	require.Equal(t, http.StatusCreated, status, string(body))

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(body, &workflow))

	return &workflow
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	kind, _ := problem["type"].(string)

	return kind
}

func TestAPIHandlers_RequiresUser(t *testing.T) {
	app := setupTestApp(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/workflows"},
		{http.MethodPost, "/workflows"},
		{http.MethodGet, "/workflows/wf-1"},
		{http.MethodPut, "/workflows/wf-1"},
		{http.MethodPost, "/workflows/wf-1/execute"},
		{http.MethodGet, "/executions/exec-1"},
		{http.MethodGet, "/credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			status, body := app.do(t, tt.method, tt.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, "unauthorized", problemType(t, body))
		})
	}
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")

	require.Len(t, workflow.Nodes, 1)
	assert.Equal(t, models.NodeTypeInitial, workflow.Nodes[0].Type)
	assert.Equal(t, "user-1", workflow.Owner)

	status, body := app.do(t, http.MethodGet, "/workflows", "user-1", nil)
	require.Equal(t, http.StatusOK, status)

	var list []*models.Workflow
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	status, body = app.do(t, http.MethodGet, "/workflows/"+workflow.ID, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow_not_found", problemType(t, body))

	start := workflow.Nodes[0]
	status, body = app.do(t, http.MethodPut, "/workflows/"+workflow.ID, "user-1", map[string]any{
		"name": "Fetch users",
		"nodes": []map[string]any{
			{"id": start.ID, "type": "INITIAL", "data": map[string]any{}},
			{"id": "fetch", "type": "HTTP_REQUEST", "data": map[string]any{
				"endpoint":     "https://example.com/users",
				"method":       "GET",
				"variableName": "users",
			}},
		},
		"connections": []map[string]any{
			{"source": start.ID, "target": "fetch"},
		},
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var saved models.Workflow
	require.NoError(t, json.Unmarshal(body, &saved))
	assert.Equal(t, "Fetch users", saved.Name)
	assert.Len(t, saved.Nodes, 2)

	status, body = app.do(t, http.MethodGet, "/workflows/"+workflow.ID+"/schema", "user-1", nil)
	require.Equal(t, http.StatusOK, status)

	var schema struct {
		Order    []string                     `json:"order"`
		Declared map[string][]map[string]any `json:"declared"`
	}
	require.NoError(t, json.Unmarshal(body, &schema))
	assert.Equal(t, []string{start.ID, "fetch"}, schema.Order)
	require.Len(t, schema.Declared["fetch"], 1)
	assert.Equal(t, "users", schema.Declared["fetch"][0]["name"])

	status, _ = app.do(t, http.MethodDelete, "/workflows/"+workflow.ID, "user-1", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = app.do(t, http.MethodGet, "/workflows/"+workflow.ID, "user-1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_SaveWorkflowValidation(t *testing.T) {
	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")
	start := workflow.Nodes[0]

	status, body := app.do(t, http.MethodPut, "/workflows/"+workflow.ID, "user-1", map[string]any{
		"nodes": []map[string]any{
			{"id": start.ID, "type": "INITIAL"},
			{"id": "log", "type": "LOG", "data": map[string]any{
				"message":      "{{ nobody.wrote.this }}",
				"variableName": "logged",
			}},
		},
		"connections": []map[string]any{
			{"source": start.ID, "target": "log"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown_variable", problemType(t, body))

	status, _ = app.do(t, http.MethodPost, "/workflows", "user-1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ExecuteWorkflow(t *testing.T) {
	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")

	app.bus.On("Publish", mock.Anything, workflow.ID, mock.MatchedBy(func(e *events.WorkflowExecutionRequested) bool {
		return e.UserID == "user-1" && e.InitialData["name"] == "Ada"
	})).Return(nil).Once()

	status, body := app.do(t, http.MethodPost, "/workflows/"+workflow.ID+"/execute", "user-1", map[string]any{
		"initial_data": map[string]any{"name": "Ada"},
	})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var accepted web.ExecutionAcceptedResponse
	require.NoError(t, json.Unmarshal(body, &accepted))
	assert.NotEmpty(t, accepted.EventID)
	assert.Equal(t, workflow.ID, accepted.WorkflowID)

	status, _ = app.do(t, http.MethodPost, "/workflows/"+workflow.ID+"/execute", "user-2", nil)
	assert.Equal(t, http.StatusNotFound, status)

	app.bus.AssertExpectations(t)

	status, body = app.do(t, http.MethodGet, "/workflows/"+workflow.ID+"/executions", "user-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(body))

	status, body = app.do(t, http.MethodGet, "/executions/missing", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "execution_not_found", problemType(t, body))
}

func TestAPIHandlers_Webhook(t *testing.T) {
	app := setupTestApp(t)
	workflow := app.createWorkflow(t, "user-1")

	status, body := app.do(t, http.MethodPost, "/webhooks/"+workflow.ID, "", map[string]any{"email": "a@b.c"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "webhook_not_found", problemType(t, body))

	start := workflow.Nodes[0]
	status, body = app.do(t, http.MethodPut, "/workflows/"+workflow.ID, "user-1", map[string]any{
		"nodes": []map[string]any{
			{"id": start.ID, "type": "WEBHOOK_TRIGGER"},
			{"id": "log", "type": "LOG", "data": map[string]any{
				"message":      "{{ webhook.body.email }}",
				"variableName": "logged",
			}},
		},
		"connections": []map[string]any{
			{"source": start.ID, "target": "log"},
		},
	})
	require.Equal(t, http.StatusOK, status, string(body))

	app.bus.On("Publish", mock.Anything, workflow.ID, mock.MatchedBy(func(e *events.WorkflowExecutionRequested) bool {
		hook, ok := e.InitialData["webhook"].(map[string]any)
		if !ok {
			return false
		}

		payload, ok := hook["body"].(map[string]any)

		return ok && payload["email"] == "a@b.c" && e.Source == events.SourceWebhook && e.UserID == "user-1"
	})).Return(nil).Once()

	status, body = app.do(t, http.MethodPost, "/webhooks/"+workflow.ID, "", map[string]any{"email": "a@b.c"})
	require.Equal(t, http.StatusAccepted, status, string(body))

	app.bus.AssertExpectations(t)
}

func TestAPIHandlers_Credentials(t *testing.T) {
	app := setupTestApp(t)

	status, body := app.do(t, http.MethodPost, "/credentials", "user-1", map[string]any{
		"name":     "OpenAI",
		"provider": "openai",
		"value":    "sk-secret",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.NotContains(t, string(body), "sk-secret")

	var created models.Credential
	require.NoError(t, json.Unmarshal(body, &created))

	status, body = app.do(t, http.MethodGet, "/credentials", "user-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(body), "sk-secret")
	assert.Contains(t, string(body), created.ID)

	status, body = app.do(t, http.MethodDelete, "/credentials/"+created.ID, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "credential_not_found", problemType(t, body))

	status, _ = app.do(t, http.MethodDelete, "/credentials/"+created.ID, "user-1", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = app.do(t, http.MethodPost, "/credentials", "user-1", map[string]any{
		"name":     "Mistral",
		"provider": "mistral",
		"value":    "k",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_credential", problemType(t, body))
}

func TestAPIHandlers_NodeTypesAndHealth(t *testing.T) {
	app := setupTestApp(t)

	status, body := app.do(t, http.MethodGet, "/node-types", "", nil)
	require.Equal(t, http.StatusOK, status)

	var types []web.NodeTypeResponse
	require.NoError(t, json.Unmarshal(body, &types))
	assert.Len(t, types, len(models.AllNodeTypes()))

	for _, nodeType := range types {
		assert.Equal(t, nodeType.Type.Channel(), nodeType.Channel)
		assert.Equal(t, nodeType.Type.IsTrigger(), nodeType.Trigger)
	}

	status, body = app.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"healthy"`)
}
