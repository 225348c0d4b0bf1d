package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
store:
  backend: sqlite
  path: /tmp/field.db
  auto_snapshot: true
dataset:
  path: boq.yaml
server:
  addr: 127.0.0.1:9090
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/field.db", cfg.Store.Path)
	assert.True(t, cfg.Store.AutoSnapshot)
	assert.Equal(t, filepath.Join(Dir, "snapshot.jsonl"), cfg.Store.SnapshotPath)
	assert.Equal(t, "boq.yaml", cfg.Dataset.Path)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Server.ShutdownTimeoutSec)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FIELDOPS_STORE_BACKEND", "sqlite")
	t.Setenv("FIELDOPS_SERVER_ADDR", ":7000")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: postgres\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unclosed\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Store.Backend = BackendSQLite
	cfg.Store.AutoSnapshot = true
	cfg.Dataset.Path = "site.yaml"
	cfg.Log.File = "fieldops.log"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, "10s", Default().Server.ShutdownTimeout().String())
}
