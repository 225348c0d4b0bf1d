package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldi/fieldops/internal/config"
	"github.com/ldi/fieldops/internal/dataset"
	"github.com/ldi/fieldops/internal/snapshot"
	"github.com/ldi/fieldops/internal/tracker"
	"github.com/ldi/fieldops/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, "fieldops.db")
	cfg.Store.SnapshotPath = filepath.Join(dir, "snapshot.jsonl")
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewMemoryUsesSample(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(t))

	assert.Equal(t, dataset.Sample(), a.Dataset)

	tasks, err := a.Tracker.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 22)
	for _, task := range tasks {
		assert.Equal(t, models.TaskStatusNotStarted, task.Status)
	}

	added, err := a.SyncGenerated(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Store.AutoSnapshot = true

	first := newApp(t, cfg)
	tasks, err := first.Tracker.Tasks(ctx)
	require.NoError(t, err)
	id := tasks[3].ID

	_, err = first.Tracker.FlagTask(ctx, id, "damaged", tracker.FlagOptions{Note: "cracked casing"})
	require.NoError(t, err)

	second := newApp(t, cfg)
	got, err := second.Tracker.Task(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsFlagged())
	assert.Equal(t, "cracked casing", got.Flag.Note)

	all, err := second.Tracker.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 22)
	assert.Equal(t, id, all[3].ID)
}

func TestExportSnapshot(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg)

	path, err := a.ExportSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.Store.SnapshotPath, path)
	assert.FileExists(t, path)

	a.Config.Store.SnapshotPath = ""
	_, err = a.ExportSnapshot(context.Background())
	assert.Error(t, err)
}

func TestSQLitePersists(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SnapshotPath = ""

	first, err := New(ctx, cfg, nil)
	require.NoError(t, err)

	tasks, err := first.Tracker.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 22)
	_, err = first.Tracker.CompleteTask(ctx, tasks[0].ID, tracker.CompleteOptions{MediaIDs: []string{"m1"}})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newApp(t, cfg)
	got, err := second.Tracker.Task(ctx, tasks[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.TaskStatusDone, got.Status)
	assert.Equal(t, []string{"m1"}, got.MediaIDs)

	n, err := second.Store.CountTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 22, n)
	assert.Len(t, second.Dataset.Sites, 2)
}

func TestDatasetFile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	ds := dataset.Sample()
	ds.Allocations = ds.Allocations[:1]
	path := filepath.Join(t.TempDir(), "boq.yaml")
	require.NoError(t, ds.Save(path))
	cfg.Dataset.Path = path

	a := newApp(t, cfg)
	tasks, err := a.Tracker.Tasks(ctx)
	require.NoError(t, err)
	// Wire, install and inspect the living room switch.
	assert.Len(t, tasks, 3)
}

func TestDatasetFileMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dataset.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "redis"

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestImportSnapshotMemoryBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first := newApp(t, cfg)
	tasks, err := first.Tracker.Tasks(ctx)
	require.NoError(t, err)
	done := tasks[0].Clone()
	done.Status = models.TaskStatusDone

	other := filepath.Join(t.TempDir(), "other.jsonl")
	f, err := os.Create(other)
	require.NoError(t, err)
	require.NoError(t, snapshot.Write(f, []*models.FieldTask{done}, time.Now()))
	require.NoError(t, f.Close())

	n, err := first.ImportSnapshot(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, cfg.Store.SnapshotPath)

	second := newApp(t, cfg)
	got, err := second.Tracker.Task(ctx, done.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.TaskStatusDone, got.Status)

	all, err := second.Tracker.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 22)
}

func TestImportSnapshotNeedsSnapshotPathOnMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.SnapshotPath = ""
	a := newApp(t, cfg)

	_, err := a.ImportSnapshot(context.Background(), filepath.Join(t.TempDir(), "other.jsonl"))
	assert.ErrorContains(t, err, "store.snapshot_path")
}
