// Package generator fans a BOQ dataset out into field tasks: one task per
// matching template, per allocated item, per room.
package generator

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ldi/fieldops/internal/dataset"
	"github.com/ldi/fieldops/pkg/models"
)

// Namespace seeds task ids. Generating twice from the same dataset yields
// the same ids, so a restored snapshot lines up with a fresh generation.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ldi/fieldops/tasks"))

// TaskID returns the stable id of the task a template produces for an item in a room.
func TaskID(templateID, itemID, roomID string) string {
	return uuid.NewSHA1(Namespace, []byte(templateID+"/"+itemID+"/"+roomID)).String()
}

// Matches reports whether tpl applies to item. An empty template category
// applies to every item.
func Matches(tpl models.TaskTemplate, item models.BOQItem) bool {
	return tpl.Category == "" || strings.EqualFold(tpl.Category, item.Category)
}

// Generate walks allocations in dataset order. Each (item, room) pair is
// used once no matter how many units were allocated, and allocations that
// point at unknown items or rooms are skipped.
func Generate(ds *dataset.Dataset, now time.Time) []*models.FieldTask {
	if ds == nil {
		return nil
	}
	now = now.UTC()

	type pair struct{ item, room string }
	seen := make(map[pair]bool)
	var tasks []*models.FieldTask

	for _, a := range ds.Allocations {
		p := pair{a.BOQItemID, a.RoomID}
		if seen[p] {
			continue
		}
		seen[p] = true

		item := ds.Item(a.BOQItemID)
		room := ds.Room(a.RoomID)
		if item == nil || room == nil {
			continue
		}

		for _, tpl := range ds.Templates {
			if !Matches(tpl, *item) {
				continue
			}
			tasks = append(tasks, &models.FieldTask{
				ID:          TaskID(tpl.ID, item.ID, room.ID),
				Title:       strings.TrimSpace(tpl.Action + " " + item.Name),
				SiteID:      room.SiteID,
				RoomID:      room.ID,
				BOQItemID:   item.ID,
				TemplateID:  tpl.ID,
				Stakeholder: tpl.Stakeholder,
				Status:      models.TaskStatusNotStarted,
				Notes:       []string{},
				MediaIDs:    []string{},
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
	}
	return tasks
}
