package log_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/nodebase/pkg/models"
	lognode "github.com/dukex/nodebase/pkg/nodes/log"
	"github.com/dukex/nodebase/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type directSteps struct{}

func (directSteps) Run(ctx context.Context, _ string, fn protocol.StepFunc) (any, error) {
	return fn(ctx)
}

func TestLogNode_WritesRenderedMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	out, err := lognode.New(logger).Execute(context.Background(), protocol.ExecuteParams{
		NodeID:  "log-1",
		Data:    map[string]any{"message": "user {{ upper user.name }} signed up", "variableName": "logged", "level": "warn"},
		Context: models.Context{"user": map[string]any{"name": "ada"}},
		Step:    directSteps{},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"message": "user ADA signed up", "level": "warn"}, out["logged"])
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "user ADA signed up")
	assert.Contains(t, buf.String(), "node_id=log-1")
}

func TestLogNode_ValidationOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		data  map[string]any
		field string
	}{
		{"message first", map[string]any{}, "message"},
		{"then variable name", map[string]any{"message": "hi"}, "variableName"},
		{"then level", map[string]any{"message": "hi", "variableName": "x", "level": "fatal"}, "level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var statuses []models.NodeStatus

			_, err := lognode.New(slog.Default()).Execute(context.Background(), protocol.ExecuteParams{
				NodeID:  "log-1",
				Data:    tt.data,
				Context: models.Context{},
				Step:    directSteps{},
				Publish: func(_ context.Context, s models.NodeStatus) { statuses = append(statuses, s) },
			})

			var cfgErr *protocol.NonRetriableError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Equal(t, []models.NodeStatus{models.NodeStatusLoading, models.NodeStatusError}, statuses)
		})
	}
}
