package kustoingest

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"trace": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"fatal": slog.LevelError,
	} {
		got, err := parseLevel(level)
		require.NoError(t, err, level)
		assert.Equal(t, want, got, level)
	}
	_, err := parseLevel("loud")
	assert.Error(t, err)
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := CreateDefaultLogger(&buf)

	logger.Slog().Debug("hidden")
	assert.Empty(t, buf.String())

	require.NoError(t, logger.SetLogLevel("debug"))
	logger.Slog().Debug("shown")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "log_test.go:")
	assert.Error(t, logger.SetLogLevel("loud"))

	buf.Reset()
	ctx := context.WithValue(context.Background(), RunIDKey, "run-7")
	ctx = context.WithValue(ctx, TableKey, "Sensors")
	logger.WithContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), "run_id=run-7")
	assert.Contains(t, buf.String(), "table=Sensors")

	buf.Reset()
	logger.WithContext(context.Background()).Info("bare")
	assert.NotContains(t, buf.String(), "run_id=")
}

func TestLoggerFromContext(t *testing.T) {
	assert.NotNil(t, LoggerFromContext(context.Background()))
	LoggerFromContext(context.Background()).Error("dropped")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFromContext(ctx))
}
