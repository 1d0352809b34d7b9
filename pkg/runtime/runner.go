// Package runtime runs node side effects as durable, retryable steps.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/nodebase/pkg/protocol"
)

const (
	defaultMaxRetries      = 3
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxElapsedTime  = 30 * time.Second
)

// Runner retries transient step failures with exponential backoff and
// memoises successful results so a step is not repeated once it succeeded.
type Runner struct {
	logger     *slog.Logger
	store      MemoStore
	newBackOff func() backoff.BackOff
}

// Option configures a Runner.
type Option func(*Runner)

// WithBackOff sets the backoff policy factory. A new policy is built per step.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(r *Runner) {
		r.newBackOff = factory
	}
}

func NewRunner(logger *slog.Logger, store MemoStore, opts ...Option) *Runner {
	if store == nil {
		store = NewMemoryStore()
	}

	r := &Runner{
		logger:     logger.With("module", "runtime"),
		store:      store,
		newBackOff: defaultBackOff,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialInterval
	b.MaxElapsedTime = defaultMaxElapsedTime

	return backoff.WithMaxRetries(b, defaultMaxRetries)
}

// For returns the step runner of one node within one run.
func (r *Runner) For(runID, nodeID string) protocol.StepRunner {
	return &nodeSteps{runner: r, runID: runID, nodeID: nodeID}
}

type nodeSteps struct {
	runner *Runner
	runID  string
	nodeID string
}

func (s *nodeSteps) Run(ctx context.Context, name string, fn protocol.StepFunc) (any, error) {
	r := s.runner
	key := StepKey(s.runID, s.nodeID, name)
	logger := r.logger.With("run_id", s.runID, "node_id", s.nodeID, "step", name)

	raw, found, err := r.store.Load(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "Failed to load memoised step result", "error", err)
	}

	if found {
		logger.DebugContext(ctx, "Replaying memoised step result")

		return decode(raw)
	}

	var result any

	operation := func() error {
		value, err := fn(ctx)
		if err != nil {
			if !protocol.IsRetriable(err) {
				return backoff.Permanent(err)
			}

			return err
		}

		result = value

		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Step failed, retrying", "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(r.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}

	raw, err = json.Marshal(result)
	if err != nil {
		return nil, protocol.NonRetriable(s.nodeID, fmt.Errorf("step %q result is not serialisable: %w", name, err))
	}

	if err := r.store.Save(ctx, key, raw); err != nil {
		logger.WarnContext(ctx, "Failed to memoise step result", "error", err)
	}

	return decode(raw)
}

// StepKey identifies a step within a run.
func StepKey(runID, nodeID, name string) string {
	return runID + ":" + nodeID + ":" + name
}

func decode(raw []byte) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("failed to decode step result: %w", err)
	}

	return value, nil
}
