// Package views derives the navigation drill-down (site, room, item, task)
// and status summaries from the task collection and the BOQ dataset.
// Nothing in here mutates its inputs.
package views

import (
	"math"
	"slices"
	"strings"

	"github.com/ldi/fieldops/internal/dataset"
	"github.com/ldi/fieldops/pkg/models"
)

const (
	RoleTechnician = "technician"
	RoleProgrammer = "programmer"
	RoleQC         = "qc"
)

var roleStakeholders = map[string][]models.Stakeholder{
	RoleTechnician: {models.StakeholderElectrician, models.StakeholderInstaller},
	RoleProgrammer: {models.StakeholderProgrammer},
	RoleQC:         {models.StakeholderQC},
}

// StakeholdersForRole returns the stakeholders a field role may act for.
// Unknown or empty roles get an empty set.
func StakeholdersForRole(role string) []models.Stakeholder {
	return slices.Clone(roleStakeholders[strings.ToLower(strings.TrimSpace(role))])
}

// RoomItems maps each room to the distinct BOQ items allocated to it, in
// first-seen order.
func RoomItems(allocations []models.AllocationUnit) map[string][]string {
	out := make(map[string][]string)
	for _, a := range allocations {
		if a.RoomID == "" || a.BOQItemID == "" {
			continue
		}
		if !slices.Contains(out[a.RoomID], a.BOQItemID) {
			out[a.RoomID] = append(out[a.RoomID], a.BOQItemID)
		}
	}
	return out
}

// NavigableRooms returns the rooms of a site that have at least one
// allocated item known to the dataset. An empty siteID lists rooms of every site.
func NavigableRooms(ds *dataset.Dataset, siteID string) []models.Room {
	rooms := []models.Room{}
	if ds == nil {
		return rooms
	}
	items := RoomItems(ds.Allocations)
	for _, r := range ds.Rooms {
		if siteID != "" && r.SiteID != siteID {
			continue
		}
		if !slices.ContainsFunc(items[r.ID], func(id string) bool { return ds.Item(id) != nil }) {
			continue
		}
		rooms = append(rooms, r)
	}
	return rooms
}

// ItemsForRoom returns the BOQ items allocated to a room. Allocations
// pointing at unknown items are left out.
func ItemsForRoom(ds *dataset.Dataset, roomID string) []models.BOQItem {
	items := []models.BOQItem{}
	if ds == nil {
		return items
	}
	for _, id := range RoomItems(ds.Allocations)[roomID] {
		if it := ds.Item(id); it != nil {
			items = append(items, *it)
		}
	}
	return items
}

// BelongsToItem joins a task to a BOQ item on the boq_item_id key. Tasks
// created without the key fall back to matching the item name in the title.
func BelongsToItem(t *models.FieldTask, item models.BOQItem) bool {
	if t.BOQItemID != "" {
		return t.BOQItemID == item.ID
	}
	return item.Name != "" && strings.Contains(t.Title, item.Name)
}

// ItemTasks returns the tasks of an item in a room that the role may see.
// Tasks without a room are not excluded by roomID.
func ItemTasks(tasks []*models.FieldTask, role, roomID string, item models.BOQItem) []*models.FieldTask {
	out := []*models.FieldTask{}
	allowed := StakeholdersForRole(role)
	if len(allowed) == 0 {
		return out
	}
	for _, t := range tasks {
		if !slices.Contains(allowed, t.Stakeholder) {
			continue
		}
		if roomID != "" && t.RoomID != "" && t.RoomID != roomID {
			continue
		}
		if BelongsToItem(t, item) {
			out = append(out, t)
		}
	}
	return out
}

type SiteTasks struct {
	SiteID string              `json:"site_id"`
	Tasks  []*models.FieldTask `json:"tasks"`
}

// GroupBySite groups tasks by site, sites in order of first appearance.
func GroupBySite(tasks []*models.FieldTask) []SiteTasks {
	var groups []SiteTasks
	index := make(map[string]int)
	for _, t := range tasks {
		i, ok := index[t.SiteID]
		if !ok {
			i = len(groups)
			index[t.SiteID] = i
			groups = append(groups, SiteTasks{SiteID: t.SiteID})
		}
		groups[i].Tasks = append(groups[i].Tasks, t)
	}
	return groups
}

// Summary counts tasks per lifecycle state. Flagged and OnHold count the
// flag and block sub-records, which are independent of Status.
type Summary struct {
	Total      int     `json:"total"`
	NotStarted int     `json:"not_started"`
	InProgress int     `json:"in_progress"`
	Blocked    int     `json:"blocked"`
	Done       int     `json:"done"`
	Flagged    int     `json:"flagged"`
	OnHold     int     `json:"on_hold"`
	Photos     int     `json:"photos"`
	Completion float64 `json:"completion"`
}

func Summarize(tasks []*models.FieldTask) Summary {
	var s Summary
	for _, t := range tasks {
		s.Total++
		switch t.Status {
		case models.TaskStatusNotStarted:
			s.NotStarted++
		case models.TaskStatusInProgress:
			s.InProgress++
		case models.TaskStatusBlocked:
			s.Blocked++
		case models.TaskStatusDone:
			s.Done++
		}
		if t.IsFlagged() {
			s.Flagged++
		}
		if t.IsBlocked() {
			s.OnHold++
		}
		s.Photos += len(t.MediaIDs)
	}
	if s.Total > 0 {
		s.Completion = math.Round(float64(s.Done)/float64(s.Total)*1000) / 10
	}
	return s
}

type SiteSummary struct {
	Site  models.Site `json:"site"`
	Rooms int         `json:"rooms"`
	Summary
}

// SiteSummaries summarises every site of the dataset, in dataset order.
// Rooms counts the navigable rooms only.
func SiteSummaries(ds *dataset.Dataset, tasks []*models.FieldTask) []SiteSummary {
	out := []SiteSummary{}
	if ds == nil {
		return out
	}
	bySite := make(map[string][]*models.FieldTask)
	for _, g := range GroupBySite(tasks) {
		bySite[g.SiteID] = g.Tasks
	}
	for _, site := range ds.Sites {
		out = append(out, SiteSummary{
			Site:    site,
			Rooms:   len(NavigableRooms(ds, site.ID)),
			Summary: Summarize(bySite[site.ID]),
		})
	}
	return out
}
