package worker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/nodebase/pkg/events"
	"github.com/dukex/nodebase/pkg/mocks"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/protocol"
	"github.com/dukex/nodebase/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	execution *models.WorkflowExecution
	err       error
	// errs, when set, are returned by successive calls before err.
	errs     []error
	requests []workflow.Request
}

func (r *stubRunner) Execute(_ context.Context, req workflow.Request) (*models.WorkflowExecution, error) {
	r.requests = append(r.requests, req)

	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]

		return r.execution, err
	}

	return r.execution, r.err
}

func noWait() backoff.BackOff {
	return &backoff.ZeroBackOff{}
}

func requested() *events.WorkflowExecutionRequested {
	return events.NewWorkflowExecutionRequested("wf-1", "user-1", events.SourceManual, map[string]any{"name": "Ada"})
}

func TestManager_HandleExecutionRequested_Completed(t *testing.T) {
	runner := &stubRunner{execution: &models.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusCompleted,
	}}

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "wf-1", mock.MatchedBy(func(e *events.WorkflowExecutionFinished) bool {
		return e.ExecutionID == "exec-1" && e.Status == "COMPLETED" && e.Error == ""
	})).Return(nil).Once()

	manager := NewManager("worker-1", runner, bus, slog.Default(), nil)

	event := requested()

	err := manager.handleExecutionRequested(context.Background(), event)
	require.NoError(t, err)

	require.Len(t, runner.requests, 1)
	assert.Equal(t, event.ID, runner.requests[0].RunID)
	assert.Equal(t, "wf-1", runner.requests[0].WorkflowID)
	assert.Equal(t, "user-1", runner.requests[0].UserID)
	assert.Equal(t, "Ada", runner.requests[0].InitialData["name"])
	bus.AssertExpectations(t)
}

func TestManager_HandleExecutionRequested_Failed(t *testing.T) {
	failure := protocol.NonRetriable("fetch", errors.New("node fetch failed"))
	runner := &stubRunner{
		execution: &models.WorkflowExecution{ID: "exec-1", Status: models.ExecutionStatusFailed, Error: failure.Error()},
		err:       failure,
	}

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "wf-1", mock.MatchedBy(func(e *events.WorkflowExecutionFinished) bool {
		return e.Status == "FAILED" && e.Error == failure.Error()
	})).Return(nil).Once()

	manager := NewManager("worker-1", runner, bus, slog.Default(), nil, WithRetryBackOff(noWait))

	err := manager.handleExecutionRequested(context.Background(), requested())
	require.ErrorIs(t, err, failure)
	assert.Len(t, runner.requests, 1)
	bus.AssertExpectations(t)
}

func TestManager_HandleExecutionRequested_RetriesTransientFailure(t *testing.T) {
	runner := &stubRunner{
		execution: &models.WorkflowExecution{ID: "exec-1", Status: models.ExecutionStatusCompleted},
		errs:      []error{protocol.NewTransientError("fetch", errors.New("503"))},
	}

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "wf-1", mock.Anything).Return(nil).Once()

	manager := NewManager("worker-1", runner, bus, slog.Default(), nil, WithRetryBackOff(noWait))
	event := requested()

	err := manager.handleExecutionRequested(context.Background(), event)
	require.NoError(t, err)

	require.Len(t, runner.requests, 2)
	assert.Equal(t, event.ID, runner.requests[0].RunID)
	assert.Equal(t, runner.requests[0].RunID, runner.requests[1].RunID)
	bus.AssertExpectations(t)
}

func TestManager_HandleExecutionRequested_GivesUpAfterMaxAttempts(t *testing.T) {
	transient := protocol.NewTransientError("fetch", errors.New("503"))
	runner := &stubRunner{
		execution: &models.WorkflowExecution{ID: "exec-1", Status: models.ExecutionStatusFailed},
		err:       transient,
	}

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "wf-1", mock.Anything).Return(nil).Once()

	manager := NewManager("worker-1", runner, bus, slog.Default(), nil, WithMaxAttempts(2), WithRetryBackOff(noWait))

	err := manager.handleExecutionRequested(context.Background(), requested())
	require.ErrorIs(t, err, transient)
	assert.Len(t, runner.requests, 2)
	bus.AssertExpectations(t)
}

func TestManager_HandleExecutionRequested_Rejected(t *testing.T) {
	runner := &stubRunner{err: workflow.ErrUnauthorized}
	bus := &mocks.MockEventBus{}

	manager := NewManager("worker-1", runner, bus, slog.Default(), nil)

	err := manager.handleExecutionRequested(context.Background(), requested())
	require.ErrorIs(t, err, workflow.ErrUnauthorized)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_HandleExecutionRequested_InvalidEvent(t *testing.T) {
	runner := &stubRunner{}
	manager := NewManager("worker-1", runner, &mocks.MockEventBus{}, slog.Default(), nil)

	err := manager.handleExecutionRequested(context.Background(), "invalid-event")
	require.NoError(t, err)
	assert.Empty(t, runner.requests)
}

func TestManager_Start(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Handle", events.WorkflowExecutionRequestedEvent, mock.Anything).Return(nil).Once()
	bus.On("Subscribe", mock.Anything).Return(nil).Once()

	manager := NewManager("worker-1", &stubRunner{}, bus, slog.Default(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, manager.Start(ctx))
	bus.AssertExpectations(t)
}

func TestManager_StartSubscribeFailure(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Handle", mock.Anything, mock.Anything).Return(nil)
	bus.On("Subscribe", mock.Anything).Return(errors.New("no brokers"))

	manager := NewManager("worker-1", &stubRunner{}, bus, slog.Default(), nil)

	err := manager.Start(context.Background())
	require.EqualError(t, err, "no brokers")
}
