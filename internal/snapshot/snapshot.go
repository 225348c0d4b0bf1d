// Package snapshot reads and writes the task collection as JSON lines: a
// meta record followed by one record per task in store order.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ldi/fieldops/internal/store"
	"github.com/ldi/fieldops/internal/tracker"
	"github.com/ldi/fieldops/pkg/models"
)

const Version = 1

const (
	recordMeta = "meta"
	recordTask = "task"
)

// Meta is the first line of every snapshot.
type Meta struct {
	RecordType string    `json:"record_type"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	TaskCount  int       `json:"task_count"`
}

type taskRecord struct {
	RecordType string `json:"record_type"`
	*models.FieldTask
}

// Lister is the read side of a store.
type Lister interface {
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]*models.FieldTask, error)
}

// Inserter is the write side of a store.
type Inserter interface {
	InsertTasks(ctx context.Context, tasks []*models.FieldTask) error
}

// Write encodes tasks to w.
func Write(w io.Writer, tasks []*models.FieldTask, exportedAt time.Time) error {
	enc := json.NewEncoder(w)
	meta := Meta{
		RecordType: recordMeta,
		Version:    Version,
		ExportedAt: exportedAt.UTC(),
		TaskCount:  len(tasks),
	}
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("failed to write snapshot meta: %w", err)
	}
	for _, t := range tasks {
		if err := enc.Encode(taskRecord{RecordType: recordTask, FieldTask: t}); err != nil {
			return fmt.Errorf("failed to write task %s: %w", t.ID, err)
		}
	}
	return nil
}

// Read decodes a snapshot. Blank lines and unknown record types are skipped.
func Read(r io.Reader) ([]*models.FieldTask, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var tasks []*models.FieldTask
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var base struct {
			RecordType string `json:"record_type"`
			Version    int    `json:"version"`
		}
		if err := json.Unmarshal(line, &base); err != nil {
			return nil, fmt.Errorf("line %d: failed to unmarshal base record: %w", lineNo, err)
		}

		switch base.RecordType {
		case recordMeta:
			if base.Version > Version {
				return nil, fmt.Errorf("line %d: unsupported snapshot version %d", lineNo, base.Version)
			}
		case recordTask:
			t := &models.FieldTask{}
			if err := json.Unmarshal(line, t); err != nil {
				return nil, fmt.Errorf("line %d: failed to unmarshal task: %w", lineNo, err)
			}
			if t.ID == "" {
				return nil, fmt.Errorf("line %d: task without id", lineNo)
			}
			if !t.Status.Valid() {
				return nil, fmt.Errorf("line %d: task %s has unknown status %q", lineNo, t.ID, t.Status)
			}
			tasks = append(tasks, t)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return tasks, nil
}

// Export writes every task from src to path atomically using a temporary
// file in the same directory.
func Export(ctx context.Context, src Lister, path string) error {
	tasks, err := src.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
		}
	}()

	w := bufio.NewWriter(tempFile)
	if err := Write(w, tasks, time.Now()); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil // Prevent defer from removing it

	if err := os.Rename(filename, path); err != nil {
		os.Remove(filename)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// ReadFile decodes the snapshot stored at path.
func ReadFile(path string) ([]*models.FieldTask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	tasks, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	return tasks, nil
}

// Import reads the snapshot at path and upserts its tasks into dst. It
// returns the number of tasks read.
func Import(ctx context.Context, dst Inserter, path string) (int, error) {
	tasks, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	if err := dst.InsertTasks(ctx, tasks); err != nil {
		return 0, fmt.Errorf("failed to import tasks: %w", err)
	}
	return len(tasks), nil
}

// EnableAutoSnapshot exports a snapshot to path after every change made
// through tr. Export failures are logged and never fail the mutation.
func EnableAutoSnapshot(tr *tracker.Tracker, path string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tr.SetOnChange(func(ctx context.Context) {
		if err := Export(ctx, tr, path); err != nil {
			logger.Warn("auto snapshot failed", zap.String("path", path), zap.Error(err))
		}
	})
}
