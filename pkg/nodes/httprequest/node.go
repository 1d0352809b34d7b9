// Package httprequest provides the HTTP_REQUEST node executor.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/protocol"
)

const (
	stepName       = "http-request"
	defaultTimeout = 30 * time.Second
	maxBodySize    = 10 << 20
)

var (
	methods         = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	methodsWithBody = []string{http.MethodPost, http.MethodPut, http.MethodPatch}
)

// Executor performs HTTP requests configured by the node data:
//
//	endpoint      URL template (required)
//	variableName  context key receiving the response (required)
//	method        GET, POST, PUT, PATCH or DELETE (required)
//	body          body template, sent for POST, PUT and PATCH
//	headers       map of header templates
//	timeout       seconds, 1 to 300
type Executor struct {
	client *http.Client
}

// New creates an executor. A nil client uses a client with a 30s timeout.
func New(client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Executor{client: client}
}

func (e *Executor) Type() models.NodeType {
	return models.NodeTypeHTTPRequest
}

func (e *Executor) Channel() string {
	return models.NodeTypeHTTPRequest.Channel()
}

func (e *Executor) Outputs(data map[string]any) []models.OutputDeclaration {
	return protocol.DeclaredVariable(data, "object")
}

func (e *Executor) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"endpoint", "variableName", "method"},
		"properties": map[string]any{
			"endpoint":     map[string]any{"type": "string", "minLength": 1},
			"variableName": map[string]any{"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
			"method":       map[string]any{"type": "string", "pattern": "(?i)^(GET|POST|PUT|PATCH|DELETE)$"},
			"body":         map[string]any{"type": "string"},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"timeout": map[string]any{"type": "number", "minimum": 1, "maximum": 300},
		},
	}
}

// request is the validated, rendered configuration of one invocation.
type request struct {
	url          string
	method       string
	body         string
	headers      map[string]string
	timeout      time.Duration
	variableName string
}

func (e *Executor) Execute(ctx context.Context, params protocol.ExecuteParams) (models.Context, error) {
	return protocol.Track(ctx, params, func() (models.Context, error) {
		req, err := parse(params.NodeID, params.Data, params.Context)
		if err != nil {
			return nil, err
		}

		if params.Context.Has(req.variableName) {
			return nil, protocol.NewConfigurationError(params.NodeID, "variableName",
				fmt.Sprintf("variable %q is already defined by an earlier node", req.variableName))
		}

		result, err := params.Step.Run(ctx, stepName, func(ctx context.Context) (any, error) {
			return e.perform(ctx, params.NodeID, req)
		})
		if err != nil {
			return nil, err
		}

		return protocol.Merge(params.NodeID, params.Context, req.variableName, result)
	})
}

// parse validates the node data in a fixed order: endpoint, variableName,
// method. Templates are rendered before a value is checked.
func parse(nodeID string, data map[string]any, ctx models.Context) (*request, error) {
	endpoint, err := protocol.RenderString(nodeID, data, ctx, "endpoint", "Endpoint")
	if err != nil {
		return nil, err
	}

	variableName, err := protocol.VariableName(nodeID, data)
	if err != nil {
		return nil, err
	}

	method, err := protocol.RequireString(nodeID, data, "method", "Method")
	if err != nil {
		return nil, err
	}

	method = strings.ToUpper(method)
	if !slices.Contains(methods, method) {
		return nil, protocol.NewConfigurationError(nodeID, "method", fmt.Sprintf("invalid HTTP method: %s", method))
	}

	req := &request{
		url:          endpoint,
		method:       method,
		headers:      make(map[string]string),
		timeout:      defaultTimeout,
		variableName: variableName,
	}

	if body, ok := data["body"].(string); ok && slices.Contains(methodsWithBody, method) {
		req.body, err = protocol.Render(nodeID, "body", body, ctx)
		if err != nil {
			return nil, err
		}
	}

	if headers, ok := data["headers"].(map[string]any); ok {
		for key, value := range headers {
			raw, ok := value.(string)
			if !ok {
				return nil, protocol.NewConfigurationError(nodeID, "headers", fmt.Sprintf("header %q must be a string", key))
			}

			req.headers[key], err = protocol.Render(nodeID, "headers", raw, ctx)
			if err != nil {
				return nil, err
			}
		}
	}

	if timeout, ok := data["timeout"].(float64); ok {
		if timeout < 1 || timeout > 300 {
			return nil, protocol.NewConfigurationError(nodeID, "timeout", "timeout must be between 1 and 300 seconds")
		}

		req.timeout = time.Duration(timeout * float64(time.Second))
	}

	return req, nil
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// perform executes a single HTTP request. Network failures, 5xx and 429
// responses are transient; other 4xx responses are not retried.
func (e *Executor) perform(ctx context.Context, nodeID string, req *request) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	var reqBody io.Reader
	if req.body != "" {
		reqBody = strings.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, reqBody)
	if err != nil {
		return nil, protocol.NonRetriable(nodeID, fmt.Errorf("failed to create request: %w", err))
	}

	for key, value := range req.headers {
		httpReq.Header.Set(key, value)
	}

	// Set default Content-Type if not specified and body is present
	if req.body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, protocol.NewTransientError("http request", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, protocol.NewTransientError("read response", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, protocol.NewTransientError("http request", httpErr)
		}

		return nil, protocol.NonRetriable(nodeID, httpErr)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return result, nil
}

// IsHTTPError reports whether err carries an HTTP error response.
func IsHTTPError(err error) bool {
	var httpErr *HTTPError

	return errors.As(err, &httpErr)
}
