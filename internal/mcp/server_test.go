package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ldi/fieldops/internal/dataset"
	"github.com/ldi/fieldops/internal/generator"
	"github.com/ldi/fieldops/internal/store"
	"github.com/ldi/fieldops/internal/tracker"
	"github.com/ldi/fieldops/pkg/models"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func newTestServer(t *testing.T, snapshotPath string) (*server.MCPServer, []*models.FieldTask) {
	t.Helper()
	ds := dataset.Sample()
	tasks := generator.Generate(ds, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	tr := tracker.New(store.NewMemoryStore())
	if err := tr.Seed(context.Background(), tasks); err != nil {
		t.Fatalf("Failed to seed tasks: %v", err)
	}
	return NewServer(tr, ds, snapshotPath), tasks
}

func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	tool := s.GetTool(name)
	if tool == nil {
		t.Fatalf("Tool %s not found", name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("Handler %s failed: %v", name, err)
	}
	return result
}

func resultText(result *mcp.CallToolResult) string {
	return result.Content[0].(mcp.TextContent).Text
}

func decodeTask(t *testing.T, result *mcp.CallToolResult) models.FieldTask {
	t.Helper()
	if result.IsError {
		t.Fatalf("Tool returned error: %s", resultText(result))
	}
	var task models.FieldTask
	if err := json.Unmarshal([]byte(resultText(result)), &task); err != nil {
		t.Fatalf("Failed to unmarshal task: %v", err)
	}
	return task
}

func decodeTasks(t *testing.T, result *mcp.CallToolResult) []*models.FieldTask {
	t.Helper()
	if result.IsError {
		t.Fatalf("Tool returned error: %s", resultText(result))
	}
	var resp struct {
		Tasks []*models.FieldTask `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(resultText(result)), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	return resp.Tasks
}

func TestServerInitialization(t *testing.T) {
	s, _ := newTestServer(t, "")
	stdio := server.NewStdioServer(s)

	r, w := io.Pipe()
	stdout := &syncBuffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- stdio.Listen(ctx, r, stdout)
	}()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}
	rawReq := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  initReq.Params,
	}
	data, err := json.Marshal(rawReq)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	w.Write(append(data, '\n'))

	var out []byte
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if out = stdout.Bytes(); len(out) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(out) == 0 {
		t.Fatal("Expected response from server, got none")
	}

	var resp struct {
		ID     int `json:"id"`
		Result struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v\nOutput: %s", err, out)
	}
	if resp.ID != 1 {
		t.Errorf("Expected id 1, got %v", resp.ID)
	}
	if resp.Result.ServerInfo.Name != "FieldOps" {
		t.Errorf("Expected server name FieldOps, got %v", resp.Result.ServerInfo.Name)
	}

	cancel()
	w.Close()
	<-errChan
}

func TestReadTools(t *testing.T) {
	s, seeded := newTestServer(t, "")

	t.Run("list_tasks", func(t *testing.T) {
		tasks := decodeTasks(t, callTool(t, s, "list_tasks", map[string]interface{}{}))
		if len(tasks) != len(seeded) {
			t.Errorf("Expected %d tasks, got %d", len(seeded), len(tasks))
		}

		qc := decodeTasks(t, callTool(t, s, "list_tasks", map[string]interface{}{
			"site_id":     "site-villa",
			"stakeholder": "qc",
		}))
		for _, task := range qc {
			if task.Stakeholder != models.StakeholderQC || task.SiteID != "site-villa" {
				t.Errorf("Unexpected task %+v", task)
			}
		}
		if len(qc) != 5 {
			t.Errorf("Expected 5 villa qc tasks, got %d", len(qc))
		}

		bad := callTool(t, s, "list_tasks", map[string]interface{}{"status": "finished"})
		if !bad.IsError {
			t.Error("Expected error for unknown status")
		}
	})

	t.Run("get_task", func(t *testing.T) {
		task := decodeTask(t, callTool(t, s, "get_task", map[string]interface{}{"id": seeded[0].ID}))
		if task.Title != seeded[0].Title {
			t.Errorf("Expected %s, got %s", seeded[0].Title, task.Title)
		}

		missing := callTool(t, s, "get_task", map[string]interface{}{"id": "nope"})
		if !missing.IsError || !strings.Contains(resultText(missing), "not found") {
			t.Errorf("Expected not found error, got %s", resultText(missing))
		}
	})

	t.Run("get_site_tasks", func(t *testing.T) {
		tasks := decodeTasks(t, callTool(t, s, "get_site_tasks", map[string]interface{}{"site_id": "site-office"}))
		if len(tasks) != 8 {
			t.Errorf("Expected 8 tasks, got %d", len(tasks))
		}
	})

	t.Run("list_rooms", func(t *testing.T) {
		result := callTool(t, s, "list_rooms", map[string]interface{}{"site_id": "site-villa"})
		var resp struct {
			Rooms []models.Room `json:"rooms"`
		}
		if err := json.Unmarshal([]byte(resultText(result)), &resp); err != nil {
			t.Fatalf("Failed to unmarshal rooms: %v", err)
		}
		if len(resp.Rooms) != 2 {
			t.Errorf("Expected 2 rooms, got %d", len(resp.Rooms))
		}
	})

	t.Run("list_room_items", func(t *testing.T) {
		result := callTool(t, s, "list_room_items", map[string]interface{}{"room_id": "room-board"})
		var resp struct {
			Items []models.BOQItem `json:"items"`
		}
		if err := json.Unmarshal([]byte(resultText(result)), &resp); err != nil {
			t.Fatalf("Failed to unmarshal items: %v", err)
		}
		if len(resp.Items) != 2 {
			t.Errorf("Expected 2 items, got %d", len(resp.Items))
		}
	})

	t.Run("get_item_tasks", func(t *testing.T) {
		args := map[string]interface{}{"room_id": "room-master", "item_id": "boq-keypad", "role": "programmer"}
		tasks := decodeTasks(t, callTool(t, s, "get_item_tasks", args))
		if len(tasks) != 1 || tasks[0].Title != "Program Keypad" {
			t.Errorf("Unexpected tasks %+v", tasks)
		}

		args["role"] = "guest"
		if tasks := decodeTasks(t, callTool(t, s, "get_item_tasks", args)); len(tasks) != 0 {
			t.Errorf("Expected no tasks for unknown role, got %d", len(tasks))
		}
	})

	t.Run("site_summary", func(t *testing.T) {
		result := callTool(t, s, "site_summary", map[string]interface{}{})
		if result.IsError {
			t.Fatalf("Tool returned error: %s", resultText(result))
		}
		if !strings.Contains(resultText(result), `"total":22`) {
			t.Errorf("Expected total count in %s", resultText(result))
		}
	})
}

func TestMutationTools(t *testing.T) {
	s, seeded := newTestServer(t, "")
	id := seeded[0].ID

	task := decodeTask(t, callTool(t, s, "flag_task", map[string]interface{}{
		"id": id, "reason": "damaged", "note": "cracked casing", "media_ids": []interface{}{"m9"},
	}))
	if !task.IsFlagged() || task.Flag.Note != "cracked casing" || len(task.Flag.MediaIDs) != 1 {
		t.Errorf("Unexpected flag %+v", task.Flag)
	}

	task = decodeTask(t, callTool(t, s, "set_blocked", map[string]interface{}{
		"id": id, "is_blocked": true, "reason": "waiting material",
	}))
	if !task.IsBlocked() || !task.IsFlagged() {
		t.Errorf("Expected blocked and flagged task")
	}

	task = decodeTask(t, callTool(t, s, "set_blocked", map[string]interface{}{"id": id, "is_blocked": false}))
	if task.Block == nil || task.Block.IsBlocked {
		t.Errorf("Expected released block, got %+v", task.Block)
	}

	callTool(t, s, "add_photo", map[string]interface{}{"id": id, "media_id": "m1"})
	task = decodeTask(t, callTool(t, s, "add_photo", map[string]interface{}{"id": id, "media_id": "m1"}))
	if len(task.MediaIDs) != 1 {
		t.Errorf("Expected 1 photo, got %v", task.MediaIDs)
	}

	task = decodeTask(t, callTool(t, s, "add_note", map[string]interface{}{"id": id, "note": "checked"}))
	if len(task.Notes) != 1 {
		t.Errorf("Expected 1 note, got %v", task.Notes)
	}

	task = decodeTask(t, callTool(t, s, "start_task", map[string]interface{}{"id": id}))
	if task.Status != models.TaskStatusInProgress {
		t.Errorf("Expected in_progress, got %s", task.Status)
	}

	task = decodeTask(t, callTool(t, s, "complete_task", map[string]interface{}{
		"id": id, "media_ids": []interface{}{"m1", "m2"},
	}))
	if task.Status != models.TaskStatusDone || len(task.MediaIDs) != 2 {
		t.Errorf("Unexpected completion %s %v", task.Status, task.MediaIDs)
	}

	invalid := callTool(t, s, "update_task_status", map[string]interface{}{"id": id, "status": "blocked"})
	if !invalid.IsError {
		t.Error("Expected error moving a done task to blocked")
	}

	task = decodeTask(t, callTool(t, s, "update_task_status", map[string]interface{}{"id": id, "status": "in_progress"}))
	if task.Status != models.TaskStatusInProgress || task.CompletedAt != nil {
		t.Errorf("Expected reopened task, got %s %v", task.Status, task.CompletedAt)
	}

	missing := callTool(t, s, "complete_task", map[string]interface{}{"id": "nope"})
	if !missing.IsError {
		t.Error("Expected error for unknown task")
	}
}

func TestExportSnapshotTool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	s, seeded := newTestServer(t, path)

	result := callTool(t, s, "export_snapshot", map[string]interface{}{})
	if result.IsError {
		t.Fatalf("Tool returned error: %s", resultText(result))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Snapshot not written: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != len(seeded)+1 {
		t.Errorf("Expected %d lines, got %d", len(seeded)+1, lines)
	}

	unset, _ := newTestServer(t, "")
	if !callTool(t, unset, "export_snapshot", map[string]interface{}{}).IsError {
		t.Error("Expected error without a snapshot path")
	}
}
