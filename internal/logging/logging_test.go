package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ldi/fieldops/internal/config"
)

func TestBuildLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build(config.LogConfig{Level: "warn", Format: "json"}, false, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", zap.String("task_id", "t1"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"task_id":"t1"`)
}

func TestBuildVerbose(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build(config.LogConfig{Level: "error"}, true, &buf)
	require.NoError(t, err)

	logger.Debug("debug line")
	assert.Contains(t, buf.String(), "debug line")
}

func TestBuildInvalid(t *testing.T) {
	_, err := build(config.LogConfig{Level: "loud"}, false, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = build(config.LogConfig{Format: "xml"}, false, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestBuildWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "fieldops.log")
	logger, err := build(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1}, false, &bytes.Buffer{})
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
