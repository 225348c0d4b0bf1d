package store

import (
	"context"
	"slices"

	"github.com/ldi/fieldops/pkg/models"
)

// TaskFilter narrows ListTasks. Zero-valued fields match everything.
type TaskFilter struct {
	SiteID       string
	RoomID       string
	BOQItemID    string
	Status       *models.TaskStatus
	Stakeholders []models.Stakeholder
}

// Match reports whether t passes every set field of the filter.
func (f TaskFilter) Match(t *models.FieldTask) bool {
	if f.SiteID != "" && t.SiteID != f.SiteID {
		return false
	}
	if f.RoomID != "" && t.RoomID != f.RoomID {
		return false
	}
	if f.BOQItemID != "" && t.BOQItemID != f.BOQItemID {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if len(f.Stakeholders) > 0 && !slices.Contains(f.Stakeholders, t.Stakeholder) {
		return false
	}
	return true
}

// UpdateFunc mutates a task in place. Returning an error aborts the update
// and leaves the stored record untouched.
type UpdateFunc func(t *models.FieldTask) error

// Store owns the canonical field task collection. Implementations hand out
// copies; the only way to change a stored task is UpdateTask.
type Store interface {
	// InsertTasks appends tasks in order. A task whose ID already exists
	// replaces the stored record without moving it.
	InsertTasks(ctx context.Context, tasks []*models.FieldTask) error

	// ListTasks returns matching tasks in insertion order.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.FieldTask, error)

	// GetTask returns nil, nil when id is unknown.
	GetTask(ctx context.Context, id string) (*models.FieldTask, error)

	// UpdateTask applies fn atomically and returns the updated task,
	// or nil, nil when id is unknown.
	UpdateTask(ctx context.Context, id string, fn UpdateFunc) (*models.FieldTask, error)

	// CountTasks returns the size of the collection.
	CountTasks(ctx context.Context) (int, error)
}
