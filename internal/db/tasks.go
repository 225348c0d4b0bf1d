package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ldi/fieldops/internal/store"
	"github.com/ldi/fieldops/pkg/models"
)

var _ store.Store = (*DB)(nil)

const taskColumns = `id, title, site_id, room_id, boq_item_id, template_id, stakeholder, status,
	flag, block, notes, media_ids, created_at, updated_at, completed_at`

// taskRow is the storage shape of a FieldTask. Sub-records and lists are
// kept as JSON text; a NULL flag or block means the record was never set.
type taskRow struct {
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	SiteID      string         `db:"site_id"`
	RoomID      string         `db:"room_id"`
	BOQItemID   string         `db:"boq_item_id"`
	TemplateID  string         `db:"template_id"`
	Stakeholder string         `db:"stakeholder"`
	Status      string         `db:"status"`
	Flag        sql.NullString `db:"flag"`
	Block       sql.NullString `db:"block"`
	Notes       string         `db:"notes"`
	MediaIDs    string         `db:"media_ids"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	CompletedAt *time.Time     `db:"completed_at"`
}

func toRow(t *models.FieldTask) (taskRow, error) {
	r := taskRow{
		ID:          t.ID,
		Title:       t.Title,
		SiteID:      t.SiteID,
		RoomID:      t.RoomID,
		BOQItemID:   t.BOQItemID,
		TemplateID:  t.TemplateID,
		Stakeholder: string(t.Stakeholder),
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
	if r.Status == "" {
		r.Status = string(models.TaskStatusNotStarted)
	}
	if t.CompletedAt != nil {
		at := t.CompletedAt.UTC()
		r.CompletedAt = &at
	}

	if t.Flag != nil {
		data, err := json.Marshal(t.Flag)
		if err != nil {
			return taskRow{}, fmt.Errorf("failed to marshal flag for task %s: %w", t.ID, err)
		}
		r.Flag = sql.NullString{String: string(data), Valid: true}
	}
	if t.Block != nil {
		data, err := json.Marshal(t.Block)
		if err != nil {
			return taskRow{}, fmt.Errorf("failed to marshal block for task %s: %w", t.ID, err)
		}
		r.Block = sql.NullString{String: string(data), Valid: true}
	}

	notes, err := marshalList(t.Notes)
	if err != nil {
		return taskRow{}, fmt.Errorf("failed to marshal notes for task %s: %w", t.ID, err)
	}
	r.Notes = notes

	media, err := marshalList(t.MediaIDs)
	if err != nil {
		return taskRow{}, fmt.Errorf("failed to marshal media for task %s: %w", t.ID, err)
	}
	r.MediaIDs = media

	return r, nil
}

func (r taskRow) toTask() (*models.FieldTask, error) {
	t := &models.FieldTask{
		ID:          r.ID,
		Title:       r.Title,
		SiteID:      r.SiteID,
		RoomID:      r.RoomID,
		BOQItemID:   r.BOQItemID,
		TemplateID:  r.TemplateID,
		Stakeholder: models.Stakeholder(r.Stakeholder),
		Status:      models.TaskStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
	}

	if r.Flag.Valid {
		t.Flag = &models.Flag{}
		if err := json.Unmarshal([]byte(r.Flag.String), t.Flag); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flag for task %s: %w", r.ID, err)
		}
	}
	if r.Block.Valid {
		t.Block = &models.Block{}
		if err := json.Unmarshal([]byte(r.Block.String), t.Block); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block for task %s: %w", r.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(r.Notes), &t.Notes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notes for task %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.MediaIDs), &t.MediaIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal media for task %s: %w", r.ID, err)
	}

	return t, nil
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// InsertTasks inserts tasks in a single transaction. Existing ids are
// updated in place, which keeps their rowid and therefore their position.
func (db *DB) InsertTasks(ctx context.Context, tasks []*models.FieldTask) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (:id, :title, :site_id, :room_id, :boq_item_id, :template_id, :stakeholder, :status,
		        :flag, :block, :notes, :media_ids, :created_at, :updated_at, :completed_at)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, site_id = excluded.site_id, room_id = excluded.room_id,
			boq_item_id = excluded.boq_item_id, template_id = excluded.template_id,
			stakeholder = excluded.stakeholder, status = excluded.status,
			flag = excluded.flag, block = excluded.block, notes = excluded.notes,
			media_ids = excluded.media_ids, created_at = excluded.created_at,
			updated_at = excluded.updated_at, completed_at = excluded.completed_at
	`
	for _, t := range tasks {
		if t == nil {
			continue
		}
		row, err := toRow(t)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// ListTasks returns tasks matching filter in insertion order.
func (db *DB) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*models.FieldTask, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []interface{}{}

	if filter.SiteID != "" {
		query += " AND site_id = ?"
		args = append(args, filter.SiteID)
	}
	if filter.RoomID != "" {
		query += " AND room_id = ?"
		args = append(args, filter.RoomID)
	}
	if filter.BOQItemID != "" {
		query += " AND boq_item_id = ?"
		args = append(args, filter.BOQItemID)
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if len(filter.Stakeholders) > 0 {
		stakeholders := make([]string, len(filter.Stakeholders))
		for i, s := range filter.Stakeholders {
			stakeholders[i] = string(s)
		}
		query += " AND stakeholder IN (?)"
		args = append(args, stakeholders)

		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to expand stakeholder filter: %w", err)
		}
	}

	query += " ORDER BY rowid ASC"

	var rows []taskRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*models.FieldTask, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTask()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// GetTask retrieves a task by its ID.
func (db *DB) GetTask(ctx context.Context, id string) (*models.FieldTask, error) {
	return getTask(ctx, db.DB, id)
}

func getTask(ctx context.Context, q sqlx.QueryerContext, id string) (*models.FieldTask, error) {
	var r taskRow
	err := sqlx.GetContext(ctx, q, &r, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return r.toTask()
}

// UpdateTask reads, mutates and writes a task inside one transaction.
func (db *DB) UpdateTask(ctx context.Context, id string, fn store.UpdateFunc) (*models.FieldTask, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}

	if err := fn(t); err != nil {
		return nil, err
	}
	t.ID = id

	row, err := toRow(t)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE tasks
		SET status = :status, flag = :flag, block = :block, notes = :notes, media_ids = :media_ids,
		    updated_at = :updated_at, completed_at = :completed_at
		WHERE id = :id
	`
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task %s: %w", id, err)
	}
	return t, nil
}

// CountTasks returns the number of stored tasks.
func (db *DB) CountTasks(ctx context.Context) (int, error) {
	var count int
	if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM tasks`); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// CountTasksByStatus groups the collection by lifecycle state.
func (db *DB) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	err := db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}

	counts := make(map[models.TaskStatus]int, len(rows))
	for _, r := range rows {
		counts[models.TaskStatus(r.Status)] = r.Count
	}
	return counts, nil
}
