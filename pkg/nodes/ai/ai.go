// Package ai provides the executors of the LLM nodes: OPENAI, ANTHROPIC and GEMINI.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dukex/nodebase/pkg/credentials"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/protocol"
)

const defaultTimeout = 120 * time.Second

var errEmptyCompletion = errors.New("response contains no text")

// CredentialResolver returns the API key a node should use.
type CredentialResolver interface {
	Resolve(ctx context.Context, owner, credentialID string, provider models.CredentialProvider) (string, error)
}

// Prompt is the rendered input of one completion.
type Prompt struct {
	Model  string
	System string
	User   string
}

// clientConfig is what every vendor SDK client is built from. An empty
// baseURL keeps the SDK default host.
type clientConfig struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// provider adapts one vendor's text generation SDK.
type provider interface {
	nodeType() models.NodeType
	credential() models.CredentialProvider
	defaultModel() string
	generate(ctx context.Context, cfg clientConfig, prompt Prompt) (string, error)
	// statusCode extracts the HTTP status of an SDK API error.
	statusCode(err error) (int, bool)
}

// Executor calls a text generation API. Node data:
//
//	variableName  context key receiving {"text": ...} (required)
//	userPrompt    prompt template (required)
//	systemPrompt  system prompt template
//	model         model name, defaults per provider
//	credentialId  stored credential; the provider's environment key is used when absent
type Executor struct {
	provider provider
	resolver CredentialResolver
	client   *http.Client
	baseURL  string
}

// Option configures an Executor.
type Option func(*Executor)

// WithBaseURL points the executor at another API host, e.g. a proxy or a test server.
func WithBaseURL(url string) Option {
	return func(e *Executor) {
		e.baseURL = url
	}
}

// WithHTTPClient sets the client used for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) {
		e.client = client
	}
}

func newExecutor(p provider, resolver CredentialResolver, opts ...Option) *Executor {
	e := &Executor{
		provider: p,
		resolver: resolver,
		client:   &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func NewOpenAI(resolver CredentialResolver, opts ...Option) *Executor {
	return newExecutor(openAI{}, resolver, opts...)
}

func NewAnthropic(resolver CredentialResolver, opts ...Option) *Executor {
	return newExecutor(anthropicProvider{}, resolver, opts...)
}

func NewGemini(resolver CredentialResolver, opts ...Option) *Executor {
	return newExecutor(geminiProvider{}, resolver, opts...)
}

func (e *Executor) Type() models.NodeType {
	return e.provider.nodeType()
}

func (e *Executor) Channel() string {
	return e.provider.nodeType().Channel()
}

func (e *Executor) Outputs(data map[string]any) []models.OutputDeclaration {
	return protocol.DeclaredVariable(data, "object")
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"variableName", "userPrompt"},
		"properties": map[string]any{
			"variableName": map[string]any{"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
			"userPrompt":   map[string]any{"type": "string", "minLength": 1},
			"systemPrompt": map[string]any{"type": "string"},
			"model":        map[string]any{"type": "string"},
			"credentialId": map[string]any{"type": "string"},
		},
	}
}

func (e *Executor) Execute(ctx context.Context, params protocol.ExecuteParams) (models.Context, error) {
	return protocol.Track(ctx, params, func() (models.Context, error) {
		variableName, err := protocol.VariableName(params.NodeID, params.Data)
		if err != nil {
			return nil, err
		}

		user, err := protocol.RenderString(params.NodeID, params.Data, params.Context, "userPrompt", "User prompt")
		if err != nil {
			return nil, err
		}

		prompt := Prompt{
			Model: protocol.OptionalString(params.Data, "model", e.provider.defaultModel()),
			User:  user,
		}

		if system, ok := params.Data["systemPrompt"].(string); ok {
			prompt.System, err = protocol.Render(params.NodeID, "systemPrompt", system, params.Context)
			if err != nil {
				return nil, err
			}
		}

		if params.Context.Has(variableName) {
			return nil, protocol.NewConfigurationError(params.NodeID, "variableName",
				fmt.Sprintf("variable %q is already defined by an earlier node", variableName))
		}

		apiKey, err := e.resolver.Resolve(ctx, params.Owner, protocol.OptionalString(params.Data, "credentialId", ""), e.provider.credential())
		if errors.Is(err, credentials.ErrCredentialMissing) {
			return nil, &protocol.NonRetriableError{
				NodeID:  params.NodeID,
				Field:   "credentialId",
				Message: "no API key available for " + string(e.provider.credential()),
				Err:     err,
			}
		}

		if err != nil {
			return nil, err
		}

		stepName := string(e.provider.credential()) + "-generate-text"

		result, err := params.Step.Run(ctx, stepName, func(ctx context.Context) (any, error) {
			text, err := e.generate(ctx, params.NodeID, apiKey, prompt)
			if err != nil {
				return nil, err
			}

			return map[string]any{"text": text}, nil
		})
		if err != nil {
			return nil, err
		}

		return protocol.Merge(params.NodeID, params.Context, variableName, result)
	})
}

// APIError is a non-2xx answer of a provider API.
type APIError struct {
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %v", e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *Executor) generate(ctx context.Context, nodeID, apiKey string, prompt Prompt) (string, error) {
	text, err := e.provider.generate(ctx, clientConfig{
		apiKey:     apiKey,
		baseURL:    e.baseURL,
		httpClient: e.client,
	}, prompt)
	if err == nil {
		return text, nil
	}

	op := string(e.provider.credential()) + " request"

	if status, ok := e.provider.statusCode(err); ok {
		apiErr := &APIError{StatusCode: status, Err: err}

		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return "", protocol.NewTransientError(op, apiErr)
		}

		return "", protocol.NonRetriable(nodeID, apiErr)
	}

	if errors.Is(err, errEmptyCompletion) {
		return "", protocol.NonRetriable(nodeID, err)
	}

	if ctx.Err() != nil {
		return "", err
	}

	return "", protocol.NewTransientError(op, err)
}
