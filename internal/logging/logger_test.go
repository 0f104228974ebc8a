package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Run("valid level", func(t *testing.T) {
		z, err := New("debug", "json")
		require.NoError(t, err)
		assert.True(t, z.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("console format", func(t *testing.T) {
		z, err := New("warn", "console")
		require.NoError(t, err)
		assert.False(t, z.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, z.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New("loud", "json")
		assert.Error(t, err)
	})
}

func TestWrapFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := Wrap(zap.New(core)).With("component", "registry")

	logger.Info("instance registered", "service", "auth", "weight", 2)
	logger.Error("probe failed", "error", errors.New("boom"), "dangling")

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "registry", first["component"])
	assert.Equal(t, "auth", first["service"])
	assert.EqualValues(t, 2, first["weight"])

	second := entries[1].ContextMap()
	assert.Equal(t, "boom", second["error"])
	assert.Contains(t, second, "dangling")
}

func TestNop(t *testing.T) {
	logger := Nop()
	assert.NotPanics(t, func() {
		logger.With("k", "v").Warn("ignored", "a", 1)
	})
}
