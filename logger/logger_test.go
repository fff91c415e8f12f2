package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLoggerNeverNilBeforeInitialize(t *testing.T) {
	require.NotNil(t, Logger)
	// Must not panic even before Initialize.
	Infow("message before initialize", "key", "value")
	Warnw("warn before initialize")
	Errorw("error before initialize")
	Debugw("debug before initialize")
}

func TestInitializeJSON(t *testing.T) {
	err := Initialize(true)
	require.NoError(t, err)
	assert.True(t, JSONOutput)
	require.NotNil(t, Logger)
}

func TestInitializeConsole(t *testing.T) {
	err := Initialize(false)
	require.NoError(t, err)
	assert.False(t, JSONOutput)
	require.NotNil(t, Logger)
}

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zap.DebugLevel,
		"warn":  zap.WarnLevel,
		"error": zap.ErrorLevel,
		"":      zap.InfoLevel,
		"bogus": zap.InfoLevel,
	}
	for value, want := range cases {
		t.Setenv("REEF_LOG_LEVEL", value)
		assert.Equal(t, want, levelFromEnv(), "REEF_LOG_LEVEL=%q", value)
	}
}
