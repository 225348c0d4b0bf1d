package models

import (
	"slices"
	"time"
)

type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "not_started"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusDone       TaskStatus = "done"
)

// Valid reports whether s is one of the four lifecycle states.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusNotStarted, TaskStatusInProgress, TaskStatusBlocked, TaskStatusDone:
		return true
	}
	return false
}

// Stakeholder is the trade responsible for a task. It decides which
// field role may act on the task and never changes after generation.
type Stakeholder string

const (
	StakeholderElectrician Stakeholder = "electrician"
	StakeholderInstaller   Stakeholder = "installer"
	StakeholderProgrammer  Stakeholder = "programmer"
	StakeholderQC          Stakeholder = "qc"
)

func (s Stakeholder) Valid() bool {
	switch s {
	case StakeholderElectrician, StakeholderInstaller, StakeholderProgrammer, StakeholderQC:
		return true
	}
	return false
}

// Flag marks a task as having an issue on site. It is independent of
// both Status and Block.
type Flag struct {
	IsFlagged bool      `json:"is_flagged"`
	Reason    string    `json:"reason"`
	Note      string    `json:"note,omitempty"`
	MediaIDs  []string  `json:"media_ids,omitempty"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// Block records whether work on a task is held up. A non-nil Block with
// IsBlocked false means the task was blocked at some point and then released.
type Block struct {
	IsBlocked bool      `json:"is_blocked"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type FieldTask struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	SiteID      string      `json:"site_id"`
	RoomID      string      `json:"room_id"`
	BOQItemID   string      `json:"boq_item_id,omitempty"`
	TemplateID  string      `json:"template_id,omitempty"`
	Stakeholder Stakeholder `json:"stakeholder"`
	Status      TaskStatus  `json:"status"`
	Flag        *Flag       `json:"flag,omitempty"`
	Block       *Block      `json:"block,omitempty"`
	Notes       []string    `json:"notes"`
	MediaIDs    []string    `json:"media_ids"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at"`
}

func (t *FieldTask) IsFlagged() bool {
	return t.Flag != nil && t.Flag.IsFlagged
}

func (t *FieldTask) IsBlocked() bool {
	return t.Block != nil && t.Block.IsBlocked
}

func (t *FieldTask) HasMedia(id string) bool {
	return slices.Contains(t.MediaIDs, id)
}

// AddMedia appends ids that are not attached yet and reports how many were added.
func (t *FieldTask) AddMedia(ids ...string) int {
	added := 0
	for _, id := range ids {
		if id == "" || t.HasMedia(id) {
			continue
		}
		t.MediaIDs = append(t.MediaIDs, id)
		added++
	}
	return added
}

// Clone returns a deep copy so store callers never share slices or
// sub-records with the canonical collection.
func (t *FieldTask) Clone() *FieldTask {
	if t == nil {
		return nil
	}
	c := *t
	c.Notes = slices.Clone(t.Notes)
	c.MediaIDs = slices.Clone(t.MediaIDs)
	if t.Flag != nil {
		f := *t.Flag
		f.MediaIDs = slices.Clone(t.Flag.MediaIDs)
		c.Flag = &f
	}
	if t.Block != nil {
		b := *t.Block
		c.Block = &b
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
