package scheduler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronLogger_RecoveredPanicIsLoggedThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	job := cron.NewChain(cron.Recover(cronLogger{logger: logger})).Then(cron.FuncJob(func() {
		panic("boom")
	}))

	assert.NotPanics(t, job.Run)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "cron: panic", record["msg"])
	assert.Equal(t, "boom", record["error"])
}

func TestCronLogger_InfoIsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cronLogger{logger: logger}.Info("wake", "now", "later")

	assert.Empty(t, buf.String())
}
