package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestDevelopment(t *testing.T) {
	logger, err := New(Config{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.NotNil(t, Nop().Component("engine"))
}

func TestSetLevel(t *testing.T) {
	logger, err := New(Config{Level: "info"})
	require.NoError(t, err)
	child := logger.Component("engine")

	require.NoError(t, logger.SetLevel("error"))
	assert.False(t, child.Core().Enabled(zapcore.WarnLevel))
	require.NoError(t, logger.SetLevel("debug"))
	assert.True(t, child.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, logger.SetLevel("loud"))
}

func TestScriptLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	Script(base, "/scripts/a.js").Log(ScriptLevel("warn"), "hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "script", entries[0].LoggerName)
	assert.Equal(t, "/scripts/a.js", entries[0].ContextMap()["script"])
}

func TestScriptLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ScriptLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, ScriptLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ScriptLevel("log"))
}
