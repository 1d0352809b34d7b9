package models

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_Validation(t *testing.T) {
	validate := validator.New()

	valid := &Workflow{
		Name:  "My workflow",
		Owner: "user-1",
		Nodes: []*Node{{ID: "n1", Type: NodeTypeInitial}},
	}
	require.NoError(t, validate.Struct(valid))

	missingName := &Workflow{Owner: "user-1"}
	err := validate.Struct(missingName)

	var validationErrors validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrors)
	assert.Equal(t, "Name", validationErrors[0].Field())
	assert.Equal(t, "required", validationErrors[0].Tag())

	badNode := &Workflow{Name: "x", Owner: "user-1", Nodes: []*Node{{ID: "", Type: NodeTypeLog}}}
	require.Error(t, validate.Struct(badNode))
}

func TestCredential_Validation(t *testing.T) {
	validate := validator.New()

	require.NoError(t, validate.Struct(&Credential{Owner: "u", Name: "key", Provider: CredentialProviderGemini, Value: "secret"}))
	require.Error(t, validate.Struct(&Credential{Owner: "u", Name: "key", Provider: "mistral", Value: "secret"}))
	require.Error(t, validate.Struct(&Credential{Owner: "u", Name: "key", Provider: CredentialProviderOpenAI}))
}

func TestWorkflow_Lookups(t *testing.T) {
	workflow := &Workflow{Nodes: []*Node{
		{ID: "a", Type: NodeTypeManualTrigger},
		{ID: "b", Type: NodeTypeHTTPRequest},
		{ID: "c", Type: NodeTypeHTTPRequest},
	}}

	node, ok := workflow.NodeByID("b")
	require.True(t, ok)
	assert.Equal(t, NodeTypeHTTPRequest, node.Type)

	_, ok = workflow.NodeByID("z")
	assert.False(t, ok)

	http := workflow.NodesOfType(NodeTypeHTTPRequest)
	require.Len(t, http, 2)
	assert.Equal(t, "b", http[0].ID)
	assert.Equal(t, "c", http[1].ID)
	assert.Empty(t, workflow.NodesOfType(NodeTypeGemini))
}

func TestNodeType(t *testing.T) {
	for _, nodeType := range AllNodeTypes() {
		assert.True(t, nodeType.Valid(), nodeType)
	}

	assert.False(t, NodeType("CONDITIONAL").Valid())
	assert.True(t, NodeTypeWebhookTrigger.IsTrigger())
	assert.False(t, NodeTypeOpenAI.IsTrigger())
	assert.Equal(t, "http-request-execution", NodeTypeHTTPRequest.Channel())
	assert.Equal(t, "openai-execution", NodeTypeOpenAI.Channel())
	assert.Equal(t, "manual-trigger-execution", NodeTypeManualTrigger.Channel())
}

func TestConnection_Normalize(t *testing.T) {
	connection := &Connection{Source: "a", Target: "b", TargetHandle: "in"}
	connection.Normalize()

	assert.Equal(t, DefaultHandle, connection.SourceHandle)
	assert.Equal(t, "in", connection.TargetHandle)
}

func TestContext(t *testing.T) {
	var empty Context

	clone := empty.Clone()
	require.NotNil(t, clone)
	assert.Empty(t, clone)

	base := Context{"a": 1}
	next := base.With("b", 2)

	assert.Equal(t, Context{"a": 1}, base)
	assert.Equal(t, Context{"a": 1, "b": 2}, next)
	assert.True(t, next.Has("b"))
	assert.False(t, base.Has("b"))
}

func TestExecutionStatus_Terminal(t *testing.T) {
	assert.False(t, ExecutionStatusPending.Terminal())
	assert.False(t, ExecutionStatusRunning.Terminal())
	assert.True(t, ExecutionStatusCompleted.Terminal())
	assert.True(t, ExecutionStatusFailed.Terminal())
}
