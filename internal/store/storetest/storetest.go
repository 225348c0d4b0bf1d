// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldi/fieldops/internal/store"
	"github.com/ldi/fieldops/pkg/models"
)

// Factory returns an empty store. Cleanup belongs to the factory.
type Factory func(t *testing.T) store.Store

// SampleTasks returns three tasks over two sites and three rooms.
func SampleTasks() []*models.FieldTask {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []*models.FieldTask{
		{ID: "t1", Title: "Install Switch", SiteID: "s1", RoomID: "r1", BOQItemID: "b1",
			Stakeholder: models.StakeholderInstaller, Status: models.TaskStatusNotStarted,
			Notes: []string{}, MediaIDs: []string{}, CreatedAt: now, UpdatedAt: now},
		{ID: "t2", Title: "Wire Switch", SiteID: "s1", RoomID: "r2", BOQItemID: "b1",
			Stakeholder: models.StakeholderElectrician, Status: models.TaskStatusInProgress,
			Notes: []string{}, MediaIDs: []string{}, CreatedAt: now, UpdatedAt: now},
		{ID: "t3", Title: "Inspect Keypad", SiteID: "s2", RoomID: "r3", BOQItemID: "b2",
			Stakeholder: models.StakeholderQC, Status: models.TaskStatusNotStarted,
			Notes: []string{}, MediaIDs: []string{}, CreatedAt: now, UpdatedAt: now},
	}
}

// Run exercises the full Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("InsertionOrder", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertTasks(ctx, SampleTasks()))

		tasks, err := s.ListTasks(ctx, store.TaskFilter{})
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		assert.Equal(t, "t1", tasks[0].ID)
		assert.Equal(t, "t2", tasks[1].ID)
		assert.Equal(t, "t3", tasks[2].ID)

		n, err := s.CountTasks(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("Filters", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertTasks(ctx, SampleTasks()))

		bySite, err := s.ListTasks(ctx, store.TaskFilter{SiteID: "s1"})
		require.NoError(t, err)
		assert.Len(t, bySite, 2)

		byRoom, err := s.ListTasks(ctx, store.TaskFilter{RoomID: "r3"})
		require.NoError(t, err)
		require.Len(t, byRoom, 1)
		assert.Equal(t, "t3", byRoom[0].ID)

		status := models.TaskStatusInProgress
		byStatus, err := s.ListTasks(ctx, store.TaskFilter{Status: &status})
		require.NoError(t, err)
		require.Len(t, byStatus, 1)
		assert.Equal(t, "t2", byStatus[0].ID)

		byStakeholder, err := s.ListTasks(ctx, store.TaskFilter{
			Stakeholders: []models.Stakeholder{models.StakeholderElectrician, models.StakeholderInstaller},
		})
		require.NoError(t, err)
		assert.Len(t, byStakeholder, 2)

		byItem, err := s.ListTasks(ctx, store.TaskFilter{BOQItemID: "b2"})
		require.NoError(t, err)
		assert.Len(t, byItem, 1)

		none, err := s.ListTasks(ctx, store.TaskFilter{SiteID: "missing"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t)
		got, err := s.GetTask(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("UpdateRoundTrip", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertTasks(ctx, SampleTasks()))

		done := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
		updated, err := s.UpdateTask(ctx, "t1", func(task *models.FieldTask) error {
			task.Status = models.TaskStatusDone
			task.CompletedAt = &done
			task.Notes = append(task.Notes, "fitted", "tested")
			task.AddMedia("m1")
			task.Flag = &models.Flag{IsFlagged: true, Reason: "damaged", Note: "cracked casing", MediaIDs: []string{"m2"}}
			task.Block = &models.Block{IsBlocked: true, Reason: "waiting material"}
			return nil
		})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, models.TaskStatusDone, updated.Status)

		got, err := s.GetTask(ctx, "t1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.TaskStatusDone, got.Status)
		assert.Equal(t, []string{"fitted", "tested"}, got.Notes)
		assert.Equal(t, []string{"m1"}, got.MediaIDs)
		require.NotNil(t, got.Flag)
		assert.True(t, got.Flag.IsFlagged)
		assert.Equal(t, "damaged", got.Flag.Reason)
		assert.Equal(t, "cracked casing", got.Flag.Note)
		assert.Equal(t, []string{"m2"}, got.Flag.MediaIDs)
		require.NotNil(t, got.Block)
		assert.True(t, got.Block.IsBlocked)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, done.Equal(*got.CompletedAt))

		// Untouched neighbours keep their state.
		other, err := s.GetTask(ctx, "t2")
		require.NoError(t, err)
		assert.Nil(t, other.Flag)
		assert.Nil(t, other.Block)
	})

	t.Run("UpdateUnknownIsNoop", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertTasks(ctx, SampleTasks()))

		called := false
		got, err := s.UpdateTask(ctx, "missing", func(task *models.FieldTask) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.False(t, called)
	})

	t.Run("UpdateErrorLeavesRecord", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertTasks(ctx, SampleTasks()))

		boom := errors.New("boom")
		_, err := s.UpdateTask(ctx, "t1", func(task *models.FieldTask) error {
			task.Status = models.TaskStatusDone
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusNotStarted, got.Status)
	})

	t.Run("CopiesAreDetached", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertTasks(ctx, SampleTasks()))

		got, err := s.GetTask(ctx, "t1")
		require.NoError(t, err)
		got.Status = models.TaskStatusDone
		got.Notes = append(got.Notes, "local only")

		again, err := s.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusNotStarted, again.Status)
		assert.Empty(t, again.Notes)
	})

	t.Run("InsertReplacesInPlace", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertTasks(ctx, SampleTasks()))

		replacement := SampleTasks()[0]
		replacement.Status = models.TaskStatusBlocked
		replacement.Notes = []string{"restored"}
		require.NoError(t, s.InsertTasks(ctx, []*models.FieldTask{replacement}))

		tasks, err := s.ListTasks(ctx, store.TaskFilter{})
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		assert.Equal(t, "t1", tasks[0].ID)
		assert.Equal(t, models.TaskStatusBlocked, tasks[0].Status)
		assert.Equal(t, []string{"restored"}, tasks[0].Notes)
	})
}
