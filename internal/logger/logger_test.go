package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	InitLogger(models.LogConfig{Level: "debug", Output: "file", File: path, MaxSize: 1})

	S().Infow("cycle finished", "symbol", "BTCUSDT")
	require.NoError(t, L().Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cycle finished")
	assert.Contains(t, string(data), "BTCUSDT")
}

func TestInitLoggerFallsBackToConsole(t *testing.T) {
	InitLogger(models.LogConfig{Level: "not-a-level", Output: "file"})
	assert.NotNil(t, L())
	assert.True(t, L().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, L().Core().Enabled(zapcore.DebugLevel), "info is the fallback level")
}
