package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukex/nodebase/pkg/credentials"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/nodes/ai"
	"github.com/dukex/nodebase/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type directSteps struct {
	names []string
}

func (s *directSteps) Run(ctx context.Context, name string, fn protocol.StepFunc) (any, error) {
	s.names = append(s.names, name)

	return fn(ctx)
}

func envResolver(env map[string]string) *credentials.Resolver {
	return credentials.NewResolver(nil).WithEnv(func(key string) (string, bool) {
		value, ok := env[key]

		return value, ok
	})
}

func params(data map[string]any, ctx models.Context, steps *directSteps) protocol.ExecuteParams {
	return protocol.ExecuteParams{
		NodeID:      "ai-1",
		ExecutionID: "exec-1",
		Owner:       "user-1",
		Data:        data,
		Context:     ctx,
		Step:        steps,
	}
}

func TestOpenAI_GenerateText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "Be brief", body.Messages[0].Content)
		assert.Equal(t, "Summarize hello", body.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Hi!"}}]}`))
	}))
	defer server.Close()

	executor := ai.NewOpenAI(envResolver(map[string]string{"OPENAI_API_KEY": "sk-test"}), ai.WithBaseURL(server.URL))
	steps := &directSteps{}

	out, err := executor.Execute(context.Background(), params(map[string]any{
		"variableName": "summary",
		"userPrompt":   "Summarize {{ input }}",
		"systemPrompt": "Be brief",
	}, models.Context{"input": "hello"}, steps))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"text": "Hi!"}, out["summary"])
	assert.Equal(t, "hello", out["input"])
	assert.Equal(t, []string{"openai-generate-text"}, steps.names)
}

func TestAnthropic_GenerateText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-custom", body["model"])
		assert.NotContains(t, body, "system")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"message","role":"assistant","content":[{"type":"text","text":"Hello "},{"type":"text","text":"there"}]}`))
	}))
	defer server.Close()

	executor := ai.NewAnthropic(envResolver(map[string]string{"ANTHROPIC_API_KEY": "ak-test"}), ai.WithBaseURL(server.URL))

	out, err := executor.Execute(context.Background(), params(map[string]any{
		"variableName": "reply",
		"userPrompt":   "Say hi",
		"model":        "claude-custom",
	}, models.Context{}, &directSteps{}))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"text": "Hello there"}, out["reply"])
}

func TestGemini_GenerateText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1beta/models/gemini-2.0-flash:generateContent"), r.URL.Path)
		assert.Equal(t, "gk-test", r.Header.Get("x-goog-api-key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"42"}]}}]}`))
	}))
	defer server.Close()

	executor := ai.NewGemini(envResolver(map[string]string{"GEMINI_API_KEY": "gk-test"}), ai.WithBaseURL(server.URL))

	out, err := executor.Execute(context.Background(), params(map[string]any{
		"variableName": "answer",
		"userPrompt":   "What is the answer?",
	}, models.Context{}, &directSteps{}))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"text": "42"}, out["answer"])
}

func TestAI_ValidationOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		data  map[string]any
		env   map[string]string
		field string
	}{
		{
			name:  "missing variable name wins",
			data:  map[string]any{},
			field: "variableName",
		},
		{
			name:  "missing prompt",
			data:  map[string]any{"variableName": "out"},
			field: "userPrompt",
		},
		{
			name:  "missing credential",
			data:  map[string]any{"variableName": "out", "userPrompt": "hi"},
			field: "credentialId",
		},
		{
			name:  "variable already defined",
			data:  map[string]any{"variableName": "taken", "userPrompt": "hi"},
			env:   map[string]string{"OPENAI_API_KEY": "sk"},
			field: "variableName",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			steps := &directSteps{}
			executor := ai.NewOpenAI(envResolver(tt.env), ai.WithBaseURL("http://127.0.0.1:1"))

			_, err := executor.Execute(context.Background(), params(tt.data, models.Context{"taken": 1}, steps))
			require.Error(t, err)

			var nre *protocol.NonRetriableError
			require.ErrorAs(t, err, &nre)
			assert.Equal(t, tt.field, nre.Field)
			assert.Empty(t, steps.names)
		})
	}
}

type countingResolver struct {
	calls int
}

func (r *countingResolver) Resolve(context.Context, string, string, models.CredentialProvider) (string, error) {
	r.calls++

	return "sk", nil
}

func TestAI_ConfigurationCheckedBeforeCredentialLookup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		data  map[string]any
		field string
	}{
		{
			name:  "variable already defined",
			data:  map[string]any{"variableName": "taken", "userPrompt": "hi"},
			field: "variableName",
		},
		{
			name:  "system prompt references unknown variable",
			data:  map[string]any{"variableName": "out", "userPrompt": "hi", "systemPrompt": "{{ missing.value }}"},
			field: "systemPrompt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resolver := &countingResolver{}
			executor := ai.NewAnthropic(resolver, ai.WithBaseURL("http://127.0.0.1:1"))

			_, err := executor.Execute(context.Background(), params(tt.data, models.Context{"taken": 1}, &directSteps{}))

			var nre *protocol.NonRetriableError
			require.ErrorAs(t, err, &nre)
			assert.Equal(t, tt.field, nre.Field)
			assert.Zero(t, resolver.calls)
		})
	}
}

func TestAI_MissingCredentialIsNonRetriable(t *testing.T) {
	t.Parallel()

	executor := ai.NewGemini(envResolver(nil))

	_, err := executor.Execute(context.Background(), params(map[string]any{
		"variableName": "out",
		"userPrompt":   "hi",
	}, models.Context{}, &directSteps{}))

	assert.True(t, protocol.IsNonRetriable(err))
	assert.ErrorIs(t, err, credentials.ErrCredentialMissing)
}

func TestAI_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		retriable bool
	}{
		{status: http.StatusBadRequest, retriable: false},
		{status: http.StatusUnauthorized, retriable: false},
		{status: http.StatusTooManyRequests, retriable: true},
		{status: http.StatusServiceUnavailable, retriable: true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			}))
			defer server.Close()

			executor := ai.NewOpenAI(envResolver(map[string]string{"OPENAI_API_KEY": "sk"}), ai.WithBaseURL(server.URL))

			_, err := executor.Execute(context.Background(), params(map[string]any{
				"variableName": "out",
				"userPrompt":   "hi",
			}, models.Context{}, &directSteps{}))
			require.Error(t, err)

			assert.Equal(t, tt.retriable, protocol.IsRetriable(err))

			var apiErr *ai.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestAI_EmptyResponseIsNonRetriable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	executor := ai.NewOpenAI(envResolver(map[string]string{"OPENAI_API_KEY": "sk"}), ai.WithBaseURL(server.URL))

	_, err := executor.Execute(context.Background(), params(map[string]any{
		"variableName": "out",
		"userPrompt":   "hi",
	}, models.Context{}, &directSteps{}))

	assert.True(t, protocol.IsNonRetriable(err))
}

func TestAI_TypesAndChannels(t *testing.T) {
	t.Parallel()

	resolver := envResolver(nil)

	assert.Equal(t, models.NodeTypeOpenAI, ai.NewOpenAI(resolver).Type())
	assert.Equal(t, "anthropic-execution", ai.NewAnthropic(resolver).Channel())
	assert.Equal(t, []models.OutputDeclaration{{Name: "out", Type: "object"}},
		ai.NewGemini(resolver).Outputs(map[string]any{"variableName": "out"}))
}
