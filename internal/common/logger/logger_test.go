package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestObservedLogger_ScopedFields(t *testing.T) {
	log, logs := NewObservedLogger(zapcore.InfoLevel)

	scoped := log.WithFields(Fields{"component": "engine"})
	scoped.Debug("hidden", nil)
	scoped.Info("turn completed", Fields{"conversationId": "c-1"})
	scoped.WithError(errors.New("boom")).Error("turn failed", nil)

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "engine", first["component"])
	assert.Equal(t, "c-1", first["conversationId"])

	second := entries[1].ContextMap()
	assert.Equal(t, "boom", second["error"])
}
