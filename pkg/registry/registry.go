// Package registry maps node types to their executors.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/dukex/nodebase/pkg/credentials"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/nodes/ai"
	"github.com/dukex/nodebase/pkg/nodes/httprequest"
	lognode "github.com/dukex/nodebase/pkg/nodes/log"
	"github.com/dukex/nodebase/pkg/nodes/trigger"
	"github.com/dukex/nodebase/pkg/protocol"
)

// ErrUnknownNodeType is matched by every UnknownNodeTypeError.
var ErrUnknownNodeType = errors.New("unknown node type")

// UnknownNodeTypeError is returned when no executor is registered for a type.
type UnknownNodeTypeError struct {
	Type models.NodeType
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("no executor registered for node type %q", e.Type)
}

func (e *UnknownNodeTypeError) Is(target error) bool {
	return target == ErrUnknownNodeType
}

// Registry holds one executor per node type.
type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	executors map[models.NodeType]protocol.Executor
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		executors: make(map[models.NodeType]protocol.Executor),
	}
}

// Register adds e under its own type, replacing any previous executor.
func (r *Registry) Register(e protocol.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors[e.Type()] = e
	r.logger.Debug("Registered executor", "node_type", e.Type(), "channel", e.Channel())
}

// Resolve returns the executor of t.
func (r *Registry) Resolve(t models.NodeType) (protocol.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[t]
	if !ok {
		return nil, &UnknownNodeTypeError{Type: t}
	}

	return executor, nil
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []models.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.NodeType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// Deps are the collaborators of the built-in executors.
type Deps struct {
	Logger      *slog.Logger
	HTTPClient  *http.Client
	Credentials ai.CredentialResolver

	// AIBaseURLs overrides the API host per AI node type.
	AIBaseURLs map[models.NodeType]string
}

// NewDefault builds a registry holding an executor for every built-in node type.
func NewDefault(deps Deps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	if deps.Credentials == nil {
		deps.Credentials = credentials.NewResolver(nil)
	}

	r := NewRegistry(deps.Logger)

	for _, t := range models.AllNodeTypes() {
		executor, err := newExecutor(t, deps)
		if err != nil {
			return nil, err
		}

		r.Register(executor)
	}

	return r, nil
}

func newExecutor(t models.NodeType, deps Deps) (protocol.Executor, error) {
	switch t {
	case models.NodeTypeInitial:
		return trigger.NewInitial(), nil
	case models.NodeTypeManualTrigger:
		return trigger.NewManual(), nil
	case models.NodeTypeWebhookTrigger:
		return trigger.NewWebhook(), nil
	case models.NodeTypeScheduleTrigger:
		return trigger.NewSchedule(), nil
	case models.NodeTypeHTTPRequest:
		return httprequest.New(deps.HTTPClient), nil
	case models.NodeTypeOpenAI:
		return ai.NewOpenAI(deps.Credentials, aiOptions(t, deps)...), nil
	case models.NodeTypeAnthropic:
		return ai.NewAnthropic(deps.Credentials, aiOptions(t, deps)...), nil
	case models.NodeTypeGemini:
		return ai.NewGemini(deps.Credentials, aiOptions(t, deps)...), nil
	case models.NodeTypeLog:
		return lognode.New(deps.Logger), nil
	default:
		return nil, &UnknownNodeTypeError{Type: t}
	}
}

func aiOptions(t models.NodeType, deps Deps) []ai.Option {
	var opts []ai.Option

	if deps.HTTPClient != nil {
		opts = append(opts, ai.WithHTTPClient(deps.HTTPClient))
	}

	if url, ok := deps.AIBaseURLs[t]; ok {
		opts = append(opts, ai.WithBaseURL(url))
	}

	return opts
}
