package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nzlov/relay/internal/config"
)

func TestInitReplacesGlobals(t *testing.T) {
	prev := zap.L()
	defer zap.ReplaceGlobals(prev)

	log, err := Init(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.Same(t, log, zap.L())
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func TestInitRejectsBadLevel(t *testing.T) {
	_, err := Init(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
