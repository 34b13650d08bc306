package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerReportsCallingSite(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := newLogger(core)

	logger.Info("info", "k", 1)
	logger.Warn("warn")
	logger.Error("error")
	logger.Debug("debug")
	logger.With("component", "engine").Info("child")

	entries := logs.All()
	require.Len(t, entries, 5)
	for _, e := range entries {
		require.True(t, e.Caller.Defined, e.Message)
		assert.Equal(t, "logging_test.go", filepath.Base(e.Caller.File), e.Message)
	}
	assert.Equal(t, map[string]any{"k": int64(1)}, entries[0].ContextMap())
	assert.Equal(t, map[string]any{"component": "engine"}, entries[4].ContextMap())
}

func TestNewLevelFiltering(t *testing.T) {
	logger := New(Options{Level: "warn"})
	assert.False(t, logger.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Desugar().Core().Enabled(zapcore.WarnLevel))
}
