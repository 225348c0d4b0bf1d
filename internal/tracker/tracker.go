// Package tracker is the Task Mutation API. Every change to a field task
// goes through a Tracker, which applies it to the backing store, stamps
// timestamps, logs it and fires the change hook.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ldi/fieldops/internal/store"
	"github.com/ldi/fieldops/pkg/models"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown task status")
)

type CompleteOptions struct {
	MediaIDs []string `json:"media_ids,omitempty"`
}

type FlagOptions struct {
	Note     string   `json:"note,omitempty"`
	MediaIDs []string `json:"media_ids,omitempty"`
}

type BlockOptions struct {
	Reason string `json:"reason,omitempty"`
}

type Option func(*Tracker)

// WithLogger sets the logger used for mutation events.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

type Tracker struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time

	onChange         func(ctx context.Context)
	onChangeMu       sync.RWMutex
	onChangeDisabled bool
}

func New(s store.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  s,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Store returns the backing store.
func (tr *Tracker) Store() store.Store {
	return tr.store
}

// SetOnChange registers fn to run after every mutation that changed a task.
func (tr *Tracker) SetOnChange(fn func(ctx context.Context)) {
	tr.onChangeMu.Lock()
	defer tr.onChangeMu.Unlock()
	tr.onChange = fn
}

func (tr *Tracker) DisableOnChange() {
	tr.onChangeMu.Lock()
	defer tr.onChangeMu.Unlock()
	tr.onChangeDisabled = true
}

func (tr *Tracker) EnableOnChange() {
	tr.onChangeMu.Lock()
	defer tr.onChangeMu.Unlock()
	tr.onChangeDisabled = false
}

func (tr *Tracker) triggerChange(ctx context.Context) {
	tr.onChangeMu.RLock()
	fn := tr.onChange
	disabled := tr.onChangeDisabled
	tr.onChangeMu.RUnlock()

	if fn != nil && !disabled {
		fn(ctx)
	}
}

// Tasks returns the full collection in insertion order.
func (tr *Tracker) Tasks(ctx context.Context) ([]*models.FieldTask, error) {
	return tr.ListTasks(ctx, store.TaskFilter{})
}

func (tr *Tracker) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*models.FieldTask, error) {
	tasks, err := tr.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Task returns the task with id, or nil when it does not exist.
func (tr *Tracker) Task(ctx context.Context, id string) (*models.FieldTask, error) {
	t, err := tr.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// TasksForSite returns the tasks of a site in insertion order. An unknown
// site yields an empty slice.
func (tr *Tracker) TasksForSite(ctx context.Context, siteID string) ([]*models.FieldTask, error) {
	if siteID == "" {
		return []*models.FieldTask{}, nil
	}
	return tr.ListTasks(ctx, store.TaskFilter{SiteID: siteID})
}

// Seed inserts generated or restored tasks. Existing ids are replaced in place.
func (tr *Tracker) Seed(ctx context.Context, tasks []*models.FieldTask) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := tr.store.InsertTasks(ctx, tasks); err != nil {
		return fmt.Errorf("failed to seed tasks: %w", err)
	}
	tr.logger.Info("seeded tasks", zap.Int("count", len(tasks)))
	tr.triggerChange(ctx)
	return nil
}

// mutateFunc changes a task in place and reports whether anything changed.
type mutateFunc func(t *models.FieldTask, now time.Time) (bool, error)

// mutate applies fn to the task with id. Unknown ids are ignored and
// yield a nil task with a nil error.
func (tr *Tracker) mutate(ctx context.Context, op, id string, fn mutateFunc) (*models.FieldTask, error) {
	changed := false
	updated, err := tr.store.UpdateTask(ctx, id, func(t *models.FieldTask) error {
		now := tr.now().UTC()
		c, err := fn(t, now)
		if err != nil {
			return err
		}
		if c {
			t.UpdatedAt = now
			changed = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, err)
	}
	if updated == nil {
		tr.logger.Debug("ignoring mutation of unknown task", zap.String("op", op), zap.String("task_id", id))
		return nil, nil
	}

	tr.logger.Debug("task mutated",
		zap.String("op", op),
		zap.String("task_id", id),
		zap.String("status", string(updated.Status)),
		zap.Bool("changed", changed),
	)
	if changed {
		tr.triggerChange(ctx)
	}
	return updated, nil
}

// CompleteTask marks a task done and merges opts.MediaIDs into its
// attachments. Completing a done task only merges media.
func (tr *Tracker) CompleteTask(ctx context.Context, id string, opts CompleteOptions) (*models.FieldTask, error) {
	return tr.mutate(ctx, "complete", id, func(t *models.FieldTask, now time.Time) (bool, error) {
		changed := t.AddMedia(opts.MediaIDs...) > 0
		if t.Status != models.TaskStatusDone {
			t.Status = models.TaskStatusDone
			changed = true
		}
		if t.CompletedAt == nil {
			t.CompletedAt = &now
			changed = true
		}
		return changed, nil
	})
}

// AddPhoto attaches mediaID unless it is already attached.
func (tr *Tracker) AddPhoto(ctx context.Context, id, mediaID string) (*models.FieldTask, error) {
	return tr.mutate(ctx, "add_photo", id, func(t *models.FieldTask, _ time.Time) (bool, error) {
		return t.AddMedia(mediaID) > 0, nil
	})
}

// FlagTask replaces the flag record. Status and block are left alone.
func (tr *Tracker) FlagTask(ctx context.Context, id, reason string, opts FlagOptions) (*models.FieldTask, error) {
	return tr.mutate(ctx, "flag", id, func(t *models.FieldTask, now time.Time) (bool, error) {
		t.Flag = &models.Flag{
			IsFlagged: true,
			Reason:    reason,
			Note:      opts.Note,
			MediaIDs:  slices.Clone(opts.MediaIDs),
			FlaggedAt: now,
		}
		return true, nil
	})
}

// SetBlocked replaces the block record with the given state. The record
// stays on the task after a release so callers can tell "never blocked"
// from "no longer blocked". Status is not changed.
func (tr *Tracker) SetBlocked(ctx context.Context, id string, isBlocked bool, opts BlockOptions) (*models.FieldTask, error) {
	return tr.mutate(ctx, "set_blocked", id, func(t *models.FieldTask, now time.Time) (bool, error) {
		t.Block = &models.Block{
			IsBlocked: isBlocked,
			Reason:    opts.Reason,
			UpdatedAt: now,
		}
		return true, nil
	})
}

// AddNote appends a note. Notes are never edited or removed.
func (tr *Tracker) AddNote(ctx context.Context, id, note string) (*models.FieldTask, error) {
	return tr.mutate(ctx, "add_note", id, func(t *models.FieldTask, _ time.Time) (bool, error) {
		t.Notes = append(t.Notes, note)
		return true, nil
	})
}

// StartTask moves a task to in_progress.
func (tr *Tracker) StartTask(ctx context.Context, id string) (*models.FieldTask, error) {
	return tr.UpdateStatus(ctx, id, models.TaskStatusInProgress)
}

// UpdateStatus moves a task along the lifecycle. Reopening a done task
// clears its completion time.
func (tr *Tracker) UpdateStatus(ctx context.Context, id string, status models.TaskStatus) (*models.FieldTask, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	return tr.mutate(ctx, "update_status", id, func(t *models.FieldTask, now time.Time) (bool, error) {
		if t.Status == status {
			return false, nil
		}
		if err := validateStatusTransition(t.Status, status); err != nil {
			return false, err
		}
		t.Status = status
		if status == models.TaskStatusDone {
			t.CompletedAt = &now
		} else {
			t.CompletedAt = nil
		}
		return true, nil
	})
}

func validateStatusTransition(from, to models.TaskStatus) error {
	if from == to {
		return nil
	}

	switch from {
	case models.TaskStatusNotStarted:
		if to != models.TaskStatusInProgress && to != models.TaskStatusBlocked && to != models.TaskStatusDone {
			return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, from, to)
		}
	case models.TaskStatusInProgress:
		if to != models.TaskStatusDone && to != models.TaskStatusBlocked && to != models.TaskStatusNotStarted {
			return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, from, to)
		}
	case models.TaskStatusBlocked:
		if to != models.TaskStatusNotStarted && to != models.TaskStatusInProgress && to != models.TaskStatusDone {
			return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, from, to)
		}
	case models.TaskStatusDone:
		// A done task can only be reopened.
		if to != models.TaskStatusInProgress {
			return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, from, to)
		}
	}

	return nil
}
