package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWithFile(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	path := filepath.Join(t.TempDir(), "botdesk.log")
	logger, err := Init(Options{Mode: "production", Level: "info", Filename: path})
	require.NoError(t, err)

	logger.Info("hello", zap.String("device", "shop-1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"device":"shop-1"`)
	assert.Same(t, logger, zap.L())
}

func TestInitRejectsBadLevel(t *testing.T) {
	_, err := Init(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestWaLoggerSub(t *testing.T) {
	l := WaLogger("Client")
	sub := l.Sub("Socket")
	assert.NotNil(t, sub)
	sub.Debugf("frame %d", 1)
}
