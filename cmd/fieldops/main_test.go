package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ldi/fieldops/internal/config"
	"github.com/ldi/fieldops/internal/dataset"
	"github.com/ldi/fieldops/internal/server"
	"github.com/ldi/fieldops/internal/snapshot"
	"github.com/ldi/fieldops/internal/store"
	"github.com/ldi/fieldops/internal/tracker"
	"github.com/ldi/fieldops/pkg/models"
)

// execute runs the CLI with args and returns everything it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInit(t *testing.T) {
	tmpDir := t.TempDir()

	var out bytes.Buffer
	if err := runInit(&out, tmpDir, config.BackendSQLite, true, false); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	gitignore, err := os.ReadFile(filepath.Join(tmpDir, ".fieldops", ".gitignore"))
	if err != nil {
		t.Fatalf("failed to read .gitignore: %v", err)
	}
	if !strings.Contains(string(gitignore), "fieldops.db*") {
		t.Errorf("unexpected .gitignore content: %q", gitignore)
	}

	cfg, err := config.Load(filepath.Join(tmpDir, config.DefaultPath))
	if err != nil {
		t.Fatalf("failed to load written config: %v", err)
	}
	if cfg.Store.Backend != config.BackendSQLite {
		t.Errorf("expected sqlite backend, got %q", cfg.Store.Backend)
	}
	if cfg.Dataset.Path != filepath.Join(".fieldops", "dataset.yaml") {
		t.Errorf("unexpected dataset path %q", cfg.Dataset.Path)
	}

	ds, err := dataset.Load(filepath.Join(tmpDir, ".fieldops", "dataset.yaml"))
	if err != nil {
		t.Fatalf("failed to load sample dataset: %v", err)
	}
	if len(ds.Sites) != len(dataset.Sample().Sites) {
		t.Errorf("expected %d sites, got %d", len(dataset.Sample().Sites), len(ds.Sites))
	}

	if !strings.Contains(out.String(), "initialized successfully") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestInitKeepsExistingConfig(t *testing.T) {
	tmpDir := t.TempDir()

	if err := runInit(&bytes.Buffer{}, tmpDir, config.BackendSQLite, false, false); err != nil {
		t.Fatalf("first init failed: %v", err)
	}

	var out bytes.Buffer
	if err := runInit(&out, tmpDir, config.BackendMemory, false, false); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if !strings.Contains(out.String(), "Kept existing config") {
		t.Errorf("expected existing config to be kept:\n%s", out.String())
	}

	cfg, err := config.Load(filepath.Join(tmpDir, config.DefaultPath))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Store.Backend != config.BackendSQLite {
		t.Errorf("expected config to be untouched, got backend %q", cfg.Store.Backend)
	}

	if err := runInit(&bytes.Buffer{}, tmpDir, config.BackendMemory, false, true); err != nil {
		t.Fatalf("forced init failed: %v", err)
	}
	cfg, err = config.Load(filepath.Join(tmpDir, config.DefaultPath))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Store.Backend != config.BackendMemory {
		t.Errorf("expected forced init to overwrite, got backend %q", cfg.Store.Backend)
	}
}

func TestInitRejectsUnknownBackend(t *testing.T) {
	err := runInit(&bytes.Buffer{}, t.TempDir(), "postgres", false, false)
	if err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Errorf("expected unknown backend error, got %v", err)
	}
}

func TestListTasks(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "list-tasks")
	if err != nil {
		t.Fatalf("list-tasks failed: %v", err)
	}
	if !strings.HasSuffix(out, "22 tasks\n") {
		t.Errorf("expected 22 tasks, got:\n%s", out)
	}

	out, err = execute(t, "list-tasks", "--site", "site-villa")
	if err != nil {
		t.Fatalf("list-tasks --site failed: %v", err)
	}
	if !strings.HasSuffix(out, "14 tasks\n") {
		t.Errorf("expected 14 villa tasks, got:\n%s", out)
	}
	if strings.Contains(out, "site-office") {
		t.Errorf("office task leaked into villa listing:\n%s", out)
	}

	out, err = execute(t, "list-tasks", "--role", "QC")
	if err != nil {
		t.Fatalf("list-tasks --role failed: %v", err)
	}
	if !strings.HasSuffix(out, "8 tasks\n") {
		t.Errorf("expected 8 qc tasks, got:\n%s", out)
	}
}

func TestListTasksRejectsBadFilters(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"list-tasks", "--status", "finished"}, "unknown status"},
		{[]string{"list-tasks", "--stakeholder", "plumber"}, "unknown stakeholder"},
		{[]string{"list-tasks", "--role", "manager"}, "unknown role"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args[1:], " "), func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestStakeholderFilter(t *testing.T) {
	got, err := stakeholderFilter([]string{"qc", "electrician"}, "technician")
	if err != nil {
		t.Fatalf("stakeholderFilter failed: %v", err)
	}
	if len(got) != 1 || got[0] != models.StakeholderElectrician {
		t.Errorf("expected only electrician, got %v", got)
	}

	got, err = stakeholderFilter(nil, "Technician")
	if err != nil {
		t.Fatalf("stakeholderFilter failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected both technician stakeholders, got %v", got)
	}

	if _, err := stakeholderFilter([]string{"qc"}, "technician"); err == nil {
		t.Error("expected error when the role cannot act for any given stakeholder")
	}
}

func TestListTasksStakeholderAndRole(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "list-tasks", "--stakeholder", "qc,installer", "--role", "technician")
	if err != nil {
		t.Fatalf("list-tasks failed: %v", err)
	}
	if strings.Contains(out, " qc ") {
		t.Errorf("qc tasks listed for technician role:\n%s", out)
	}
	if !strings.Contains(out, "installer") {
		t.Errorf("expected installer tasks:\n%s", out)
	}
}

func TestStatus(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "status", "--width", "50")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, want := range []string{"Palm Villa", "Harbour Office", "Total: 22 tasks, 0 done"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := execute(t, "generate", "--write-dataset", "boq.yaml")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.Contains(out, "Palm Villa (14 tasks)") {
		t.Errorf("expected villa group header:\n%s", out)
	}
	if !strings.Contains(out, "22 tasks from 9 allocations") {
		t.Errorf("expected totals line:\n%s", out)
	}

	ds, err := dataset.Load(filepath.Join(dir, "boq.yaml"))
	if err != nil {
		t.Fatalf("written dataset does not load: %v", err)
	}
	if len(ds.Allocations) != 9 {
		t.Errorf("expected 9 allocations, got %d", len(ds.Allocations))
	}
}

func TestSnapshotExportImport(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if _, err := execute(t, "init", "--backend", "sqlite"); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	out, err := execute(t, "snapshot", "export")
	if err != nil {
		t.Fatalf("snapshot export failed: %v", err)
	}
	if !strings.Contains(out, "Exported snapshot") {
		t.Errorf("unexpected output:\n%s", out)
	}

	f, err := os.Open(filepath.Join(dir, ".fieldops", "snapshot.jsonl"))
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	tasks, err := snapshot.Read(f)
	f.Close()
	if err != nil {
		t.Fatalf("snapshot unreadable: %v", err)
	}
	if len(tasks) != 22 {
		t.Errorf("expected 22 tasks in snapshot, got %d", len(tasks))
	}

	out, err = execute(t, "snapshot", "import")
	if err != nil {
		t.Fatalf("snapshot import failed: %v", err)
	}
	if !strings.Contains(out, "Imported 22 tasks") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestSnapshotImportPersistsOnMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	imported := &models.FieldTask{
		ID:          "imported-1",
		Title:       "Replace faulty dimmer",
		SiteID:      "site-villa",
		RoomID:      "room-living",
		Stakeholder: models.StakeholderElectrician,
		Status:      models.TaskStatusInProgress,
		Notes:       []string{},
		MediaIDs:    []string{},
	}
	f, err := os.Create(filepath.Join(dir, "other.jsonl"))
	if err != nil {
		t.Fatalf("failed to create snapshot: %v", err)
	}
	if err := snapshot.Write(f, []*models.FieldTask{imported}, time.Now()); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}
	f.Close()

	out, err := execute(t, "snapshot", "import", "--path", "other.jsonl")
	if err != nil {
		t.Fatalf("snapshot import failed: %v", err)
	}
	if !strings.Contains(out, "Imported 1 tasks") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = execute(t, "list-tasks", "--site", "site-villa")
	if err != nil {
		t.Fatalf("list-tasks failed: %v", err)
	}
	if !strings.Contains(out, "imported-1") {
		t.Errorf("imported task missing from the next session:\n%s", out)
	}
	if !strings.HasSuffix(out, "15 tasks\n") {
		t.Errorf("expected 14 generated plus 1 imported task, got:\n%s", out)
	}
}

func TestSnapshotImportMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := execute(t, "snapshot", "import", "--path", "missing.jsonl"); err == nil {
		t.Error("expected error importing a missing snapshot")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := server.NewServer(tracker.New(store.NewMemoryStore()), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, srv, "127.0.0.1:0", time.Second)
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := execute(t, "orchestrate"); err == nil {
		t.Error("expected error for unknown command")
	}
}
