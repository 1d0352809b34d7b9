package runtime_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/nodebase/pkg/protocol"
	"github.com/dukex/nodebase/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
}

func newRunner(store runtime.MemoStore) *runtime.Runner {
	return runtime.NewRunner(slog.Default(), store, runtime.WithBackOff(fastBackOff))
}

func TestRunner_ReturnsJSONNormalisedResult(t *testing.T) {
	t.Parallel()

	steps := newRunner(nil).For("exec-1", "node-1")

	got, err := steps.Run(context.Background(), "call", func(context.Context) (any, error) {
		return map[string]any{"status": 200, "tags": []string{"a"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": float64(200), "tags": []any{"a"}}, got)
}

func TestRunner_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	steps := newRunner(nil).For("exec-1", "node-1")

	got, err := steps.Run(context.Background(), "call", func(context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, protocol.NewTransientError("http request", errors.New("503"))
		}

		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRunner_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	cause := protocol.NewTransientError("http request", errors.New("connection refused"))
	steps := newRunner(nil).For("exec-1", "node-1")

	_, err := steps.Run(context.Background(), "call", func(context.Context) (any, error) {
		calls++

		return nil, cause
	})
	require.ErrorIs(t, err, cause)
	assert.Equal(t, 4, calls)
}

func TestRunner_DoesNotRetryNonRetriableErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	steps := newRunner(nil).For("exec-1", "node-1")

	_, err := steps.Run(context.Background(), "call", func(context.Context) (any, error) {
		calls++

		return nil, protocol.NewConfigurationError("node-1", "endpoint", "bad request")
	})

	var cfgErr *protocol.NonRetriableError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 1, calls)
}

func TestRunner_MemoisesSuccessfulSteps(t *testing.T) {
	t.Parallel()

	store := runtime.NewMemoryStore()
	runner := newRunner(store)
	calls := 0

	fn := func(context.Context) (any, error) {
		calls++

		return map[string]any{"n": calls}, nil
	}

	first, err := runner.For("exec-1", "node-1").Run(context.Background(), "call", fn)
	require.NoError(t, err)

	replayed, err := runner.For("exec-1", "node-1").Run(context.Background(), "call", fn)
	require.NoError(t, err)
	assert.Equal(t, first, replayed)
	assert.Equal(t, 1, calls)

	_, err = runner.For("exec-2", "node-1").Run(context.Background(), "call", fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	_, found, err := store.Load(context.Background(), runtime.StepKey("exec-1", "node-1", "call"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRunner_FailedStepsAreNotMemoised(t *testing.T) {
	t.Parallel()

	store := runtime.NewMemoryStore()
	runner := newRunner(store)

	_, err := runner.For("exec-1", "node-1").Run(context.Background(), "call", func(context.Context) (any, error) {
		return nil, protocol.NewConfigurationError("node-1", "x", "bad")
	})
	require.Error(t, err)

	_, found, err := store.Load(context.Background(), runtime.StepKey("exec-1", "node-1", "call"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunner_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := newRunner(nil).For("exec-1", "node-1").Run(ctx, "call", func(context.Context) (any, error) {
		calls++
		cancel()

		return nil, protocol.NewTransientError("http request", errors.New("timeout"))
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRunner_UnserialisableResult(t *testing.T) {
	t.Parallel()

	_, err := newRunner(nil).For("exec-1", "node-1").Run(context.Background(), "call", func(context.Context) (any, error) {
		return make(chan int), nil
	})
	require.ErrorIs(t, err, protocol.ErrNonRetriable)
}
