package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ldi/fieldops/internal/dataset"
	"github.com/ldi/fieldops/internal/snapshot"
	"github.com/ldi/fieldops/internal/store"
	"github.com/ldi/fieldops/internal/tracker"
	"github.com/ldi/fieldops/internal/views"
	"github.com/ldi/fieldops/pkg/models"
)

// NewServer creates a new MCP server. snapshotPath is where export_snapshot
// writes; leave it empty to disable the tool's effect.
func NewServer(tr *tracker.Tracker, ds *dataset.Dataset, snapshotPath string) *server.MCPServer {
	if ds == nil {
		ds = &dataset.Dataset{}
	}
	s := server.NewMCPServer("FieldOps", "0.1.0")

	// Reading
	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List field tasks in insertion order with optional filters."),
		mcp.WithString("site_id", mcp.Description("Filter by site")),
		mcp.WithString("room_id", mcp.Description("Filter by room")),
		mcp.WithString("boq_item_id", mcp.Description("Filter by BOQ item")),
		mcp.WithString("status", mcp.Description("Filter by status (not_started|in_progress|blocked|done)")),
		mcp.WithString("stakeholder", mcp.Description("Comma separated stakeholders (electrician,installer,programmer,qc)")),
	), listTasksHandler(tr))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a single task by id."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), getTaskHandler(tr))

	s.AddTool(mcp.NewTool("get_site_tasks",
		mcp.WithDescription("Get all tasks of a site."),
		mcp.WithString("site_id", mcp.Description("Site id"), mcp.Required()),
	), getSiteTasksHandler(tr))

	s.AddTool(mcp.NewTool("list_rooms",
		mcp.WithDescription("List the rooms of a site that have allocated BOQ items."),
		mcp.WithString("site_id", mcp.Description("Site id (all sites when omitted)")),
	), listRoomsHandler(ds))

	s.AddTool(mcp.NewTool("list_room_items",
		mcp.WithDescription("List the BOQ items allocated to a room."),
		mcp.WithString("room_id", mcp.Description("Room id"), mcp.Required()),
	), listRoomItemsHandler(ds))

	s.AddTool(mcp.NewTool("get_item_tasks",
		mcp.WithDescription("Get the tasks of a BOQ item in a room visible to a field role."),
		mcp.WithString("room_id", mcp.Description("Room id"), mcp.Required()),
		mcp.WithString("item_id", mcp.Description("BOQ item id"), mcp.Required()),
		mcp.WithString("role", mcp.Description("Field role (technician|programmer|qc)"), mcp.Required()),
	), getItemTasksHandler(tr, ds))

	s.AddTool(mcp.NewTool("site_summary",
		mcp.WithDescription("Status counts and completion per site."),
	), siteSummaryHandler(tr, ds))

	// Mutations
	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Mark a task done, attaching any evidence media."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithArray("media_ids", mcp.Description("Media ids to attach"), mcp.WithStringItems()),
	), completeTaskHandler(tr))

	s.AddTool(mcp.NewTool("add_photo",
		mcp.WithDescription("Attach a photo to a task. Attaching the same photo twice has no effect."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("media_id", mcp.Description("Media id"), mcp.Required()),
	), addPhotoHandler(tr))

	s.AddTool(mcp.NewTool("flag_task",
		mcp.WithDescription("Flag an issue on a task, replacing any earlier flag."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("reason", mcp.Description("Reason for the flag"), mcp.Required()),
		mcp.WithString("note", mcp.Description("Free text note")),
		mcp.WithArray("media_ids", mcp.Description("Media ids showing the issue"), mcp.WithStringItems()),
	), flagTaskHandler(tr))

	s.AddTool(mcp.NewTool("set_blocked",
		mcp.WithDescription("Block or release a task."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithBoolean("is_blocked", mcp.Description("Whether the task is blocked"), mcp.Required()),
		mcp.WithString("reason", mcp.Description("Reason for the block")),
	), setBlockedHandler(tr))

	s.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Append a note to a task."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("note", mcp.Description("Note text"), mcp.Required()),
	), addNoteHandler(tr))

	s.AddTool(mcp.NewTool("start_task",
		mcp.WithDescription("Start a task by setting its status to in_progress."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), startTaskHandler(tr))

	s.AddTool(mcp.NewTool("update_task_status",
		mcp.WithDescription("Update task status."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status (not_started|in_progress|blocked|done)"), mcp.Required()),
	), updateTaskStatusHandler(tr))

	s.AddTool(mcp.NewTool("export_snapshot",
		mcp.WithDescription("Write all tasks to the configured JSONL snapshot."),
	), exportSnapshotHandler(tr, snapshotPath))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func taskResult(id string, t *models.FieldTask, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if t == nil {
		return mcp.NewToolResultError(fmt.Sprintf("task with id '%s' not found", id)), nil
	}
	return jsonResult(t)
}

// parseStrings reads an array argument. A comma separated string is
// accepted as well.
func parseStrings(request mcp.CallToolRequest, key string) []string {
	args, _ := request.Params.Arguments.(map[string]any)
	var out []string
	switch v := args[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func listTasksHandler(tr *tracker.Tracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := store.TaskFilter{
			SiteID:    mcp.ParseString(request, "site_id", ""),
			RoomID:    mcp.ParseString(request, "room_id", ""),
			BOQItemID: mcp.ParseString(request, "boq_item_id", ""),
		}
		if s := mcp.ParseString(request, "status", ""); s != "" {
			status := models.TaskStatus(s)
			if !status.Valid() {
				return mcp.NewToolResultError(fmt.Sprintf("unknown status '%s'", s)), nil
			}
			filter.Status = &status
		}
		for _, s := range parseStrings(request, "stakeholder") {
			filter.Stakeholders = append(filter.Stakeholders, models.Stakeholder(s))
		}

		tasks, err := tr.ListTasks(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"tasks": tasks})
	}
}

func getTaskHandler(tr *tracker.Tracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		t, err := tr.Task(ctx, id)
		return taskResult(id, t, err)
	}
}

func getSiteTasksHandler(tr *tracker.Tracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := tr.TasksForSite(ctx, mcp.ParseString(request, "site_id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"tasks": tasks})
	}
}

func listRoomsHandler(ds *dataset.Dataset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rooms := views.NavigableRooms(ds, mcp.ParseString(request, "site_id", ""))
		return jsonResult(map[string]any{"rooms": rooms})
	}
}

func listRoomItemsHandler(ds *dataset.Dataset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		items := views.ItemsForRoom(ds, mcp.ParseString(request, "room_id", ""))
		return jsonResult(map[string]any{"items": items})
	}
}

func getItemTasksHandler(tr *tracker.Tracker, ds *dataset.Dataset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		roomID := mcp.ParseString(request, "room_id", "")
		role := mcp.ParseString(request, "role", "")

		matched := []*models.FieldTask{}
		if item := ds.Item(mcp.ParseString(request, "item_id", "")); item != nil {
			tasks, err := tr.Tasks(ctx)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			matched = views.ItemTasks(tasks, role, roomID, *item)
		}
		return jsonResult(map[string]any{"tasks": matched})
	}
}

func siteSummaryHandler(tr *tracker.Tracker, ds *dataset.Dataset) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := tr.Tasks(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"sites": views.SiteSummaries(ds, tasks),
			"total": views.Summarize(tasks),
		})
	}
}

func completeTaskHandler(tr *tracker.Tracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		t, err := tr.CompleteTask(ctx, id, tracker.CompleteOptions{
			MediaIDs: parseStrings(request, "media_ids"),
		})
		return taskResult(id, t, err)
	}
}

func addPhotoHandler(tr *tracker.Tracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		mediaID := mcp.ParseString(request, "media_id", "")
		if mediaID == "" {
			return mcp.NewToolResultError("media_id is required"), nil
		}
		t, err := tr.AddPhoto(ctx, id, mediaID)
		return taskResult(id, t, err)
	}
}

func flagTaskHandler(tr *tracker.Tracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		t, err := tr.FlagTask(ctx, id, mcp.ParseString(request, "reason", ""), tracker.FlagOptions{
			Note:     mcp.ParseString(request, "note", ""),
			MediaIDs: parseStrings(request, "media_ids"),
		})
		return taskResult(id, t, err)
	}
}

func setBlockedHandler(tr *tracker.Tracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		t, err := tr.SetBlocked(ctx, id, mcp.ParseBoolean(request, "is_blocked", false), tracker.BlockOptions{
			Reason: mcp.ParseString(request, "reason", ""),
		})
		return taskResult(id, t, err)
	}
}

func addNoteHandler(tr *tracker.Tracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		t, err := tr.AddNote(ctx, id, mcp.ParseString(request, "note", ""))
		return taskResult(id, t, err)
	}
}

func startTaskHandler(tr *tracker.Tracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		t, err := tr.StartTask(ctx, id)
		return taskResult(id, t, err)
	}
}

func updateTaskStatusHandler(tr *tracker.Tracker) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		status := models.TaskStatus(mcp.ParseString(request, "status", ""))
		t, err := tr.UpdateStatus(ctx, id, status)
		return taskResult(id, t, err)
	}
}

func exportSnapshotHandler(tr *tracker.Tracker, path string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if path == "" {
			return mcp.NewToolResultError("no snapshot path configured"), nil
		}
		if err := snapshot.Export(ctx, tr, path); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Snapshot written to %s", path)), nil
	}
}
