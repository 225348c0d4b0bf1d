// Package app wires configuration, logging, storage, the BOQ dataset and
// the tracker into one value shared by the CLI, HTTP and MCP surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ldi/fieldops/internal/config"
	"github.com/ldi/fieldops/internal/dataset"
	"github.com/ldi/fieldops/internal/db"
	"github.com/ldi/fieldops/internal/generator"
	"github.com/ldi/fieldops/internal/snapshot"
	"github.com/ldi/fieldops/internal/store"
	"github.com/ldi/fieldops/internal/tracker"
	"github.com/ldi/fieldops/pkg/models"
)

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   store.Store
	Dataset *dataset.Dataset
	Tracker *tracker.Tracker

	database *db.DB
	now      func() time.Time
}

// New opens the configured store, loads the dataset, restores the last
// snapshot into an empty store and adds any generated tasks that are
// missing. Close must be called when done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Config: cfg, Logger: logger, now: time.Now}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.loadDataset(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Tracker = tracker.New(a.Store, tracker.WithLogger(logger.Named("tracker")))

	if err := a.restore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if _, err := a.SyncGenerated(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Store.AutoSnapshot {
		snapshot.EnableAutoSnapshot(a.Tracker, cfg.Store.SnapshotPath, logger.Named("snapshot"))
		logger.Debug("auto snapshot enabled", zap.String("path", cfg.Store.SnapshotPath))
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Store.Backend {
	case config.BackendSQLite:
		database, err := db.Open(a.Config.Store.Path)
		if err != nil {
			return err
		}
		if err := database.Init(ctx); err != nil {
			database.Close()
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.database = database
		a.Store = database
	case config.BackendMemory, "":
		a.Store = store.NewMemoryStore()
	default:
		return fmt.Errorf("unknown store backend %q", a.Config.Store.Backend)
	}
	a.Logger.Debug("store opened", zap.String("backend", a.Config.Store.Backend))
	return nil
}

// loadDataset prefers the configured file, then a dataset kept in SQLite,
// then the built-in sample. SQLite keeps whatever was chosen.
func (a *App) loadDataset(ctx context.Context) error {
	var (
		ds     *dataset.Dataset
		source string
	)

	switch {
	case a.Config.Dataset.Path != "":
		loaded, err := dataset.Load(a.Config.Dataset.Path)
		if err != nil {
			return err
		}
		ds, source = loaded, a.Config.Dataset.Path
	case a.database != nil:
		stored, err := a.database.LoadDataset(ctx)
		if err != nil {
			return err
		}
		if len(stored.Sites) > 0 {
			ds, source = stored, "database"
		}
	}
	if ds == nil {
		ds, source = dataset.Sample(), "sample"
	}

	if a.database != nil && source != "database" {
		if err := a.database.SaveDataset(ctx, ds); err != nil {
			return err
		}
	}

	a.Dataset = ds
	a.Logger.Info("dataset loaded",
		zap.String("source", source),
		zap.Int("sites", len(ds.Sites)),
		zap.Int("rooms", len(ds.Rooms)),
		zap.Int("boq_items", len(ds.Items)),
	)
	return nil
}

func (a *App) restore(ctx context.Context) error {
	path := a.Config.Store.SnapshotPath
	if path == "" {
		return nil
	}
	n, err := a.Store.CountTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to count tasks: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	imported, err := snapshot.Import(ctx, a.Store, path)
	if err != nil {
		return err
	}
	a.Logger.Info("snapshot restored", zap.String("path", path), zap.Int("tasks", imported))
	return nil
}

// SyncGenerated generates tasks from the dataset and seeds the ones the
// store does not have yet. Existing tasks keep their field state.
func (a *App) SyncGenerated(ctx context.Context) (int, error) {
	generated := generator.Generate(a.Dataset, a.now())

	existing, err := a.Tracker.Tasks(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t.ID] = true
	}

	var missing []*models.FieldTask
	for _, t := range generated {
		if !have[t.ID] {
			missing = append(missing, t)
		}
	}
	if err := a.Tracker.Seed(ctx, missing); err != nil {
		return 0, err
	}
	if len(missing) > 0 {
		a.Logger.Info("generated tasks added", zap.Int("added", len(missing)), zap.Int("total", len(existing)+len(missing)))
	}
	return len(missing), nil
}

// ExportSnapshot writes the task collection to the configured snapshot path.
func (a *App) ExportSnapshot(ctx context.Context) (string, error) {
	path := a.Config.Store.SnapshotPath
	if path == "" {
		return "", errors.New("no snapshot path configured")
	}
	if err := snapshot.Export(ctx, a.Tracker, path); err != nil {
		return "", err
	}
	return path, nil
}

// ImportSnapshot upserts the tasks of the snapshot at path through the
// tracker. An empty path means the configured snapshot path. The memory
// backend only outlives the process through that snapshot, so the merged
// collection is written back to it.
func (a *App) ImportSnapshot(ctx context.Context, path string) (int, error) {
	keep := a.Config.Store.SnapshotPath
	if path == "" {
		path = keep
	}
	if path == "" {
		return 0, errors.New("no snapshot path configured")
	}
	if a.database == nil && keep == "" {
		return 0, errors.New("memory backend needs store.snapshot_path to keep imported tasks")
	}

	tasks, err := snapshot.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if err := a.Tracker.Seed(ctx, tasks); err != nil {
		return 0, err
	}

	if a.database == nil && !a.Config.Store.AutoSnapshot {
		if err := snapshot.Export(ctx, a.Tracker, keep); err != nil {
			return 0, err
		}
	}
	a.Logger.Info("snapshot imported", zap.String("path", path), zap.Int("tasks", len(tasks)))
	return len(tasks), nil
}

func (a *App) Close() error {
	if a.database != nil {
		err := a.database.Close()
		a.database = nil
		return err
	}
	return nil
}
