package dataset

import "github.com/ldi/fieldops/pkg/models"

// Sample returns a small two-site dataset used when no dataset file is
// configured. The plant room of the villa has no allocations on purpose.
func Sample() *Dataset {
	return &Dataset{
		Sites: []models.Site{
			{ID: "site-villa", Name: "Palm Villa", Address: "12 Palm Crescent"},
			{ID: "site-office", Name: "Harbour Office", Address: "Level 4, 80 Quay St"},
		},
		Rooms: []models.Room{
			{ID: "room-living", SiteID: "site-villa", Name: "Living Room", Floor: "G"},
			{ID: "room-master", SiteID: "site-villa", Name: "Master Bedroom", Floor: "1"},
			{ID: "room-plant", SiteID: "site-villa", Name: "Plant Room", Floor: "B"},
			{ID: "room-board", SiteID: "site-office", Name: "Boardroom", Floor: "4"},
			{ID: "room-lobby", SiteID: "site-office", Name: "Lobby", Floor: "4"},
		},
		Items: []models.BOQItem{
			{ID: "boq-switch", Name: "Switch", Qty: 24, Unit: "ea", Category: "lighting"},
			{ID: "boq-dimmer", Name: "Dimmer", Qty: 8, Unit: "ea", Category: "lighting"},
			{ID: "boq-keypad", Name: "Keypad", Qty: 6, Unit: "ea", Category: "control", Area: "entry"},
			{ID: "boq-panel", Name: "Touch Panel", Qty: 2, Unit: "ea", Category: "control"},
			{ID: "boq-speaker", Name: "Ceiling Speaker", Qty: 10, Unit: "ea", Category: "audio"},
		},
		Allocations: []models.AllocationUnit{
			{ID: "alloc-1", BOQItemID: "boq-switch", RoomID: "room-living"},
			{ID: "alloc-2", BOQItemID: "boq-switch", RoomID: "room-living"},
			{ID: "alloc-3", BOQItemID: "boq-dimmer", RoomID: "room-living"},
			{ID: "alloc-4", BOQItemID: "boq-speaker", RoomID: "room-living"},
			{ID: "alloc-5", BOQItemID: "boq-switch", RoomID: "room-master"},
			{ID: "alloc-6", BOQItemID: "boq-keypad", RoomID: "room-master"},
			{ID: "alloc-7", BOQItemID: "boq-panel", RoomID: "room-board"},
			{ID: "alloc-8", BOQItemID: "boq-speaker", RoomID: "room-board"},
			{ID: "alloc-9", BOQItemID: "boq-keypad", RoomID: "room-lobby"},
		},
		Templates: []models.TaskTemplate{
			{ID: "tpl-wire", Category: "lighting", Action: "Wire", Stakeholder: models.StakeholderElectrician},
			{ID: "tpl-fit", Category: "lighting", Action: "Install", Stakeholder: models.StakeholderInstaller},
			{ID: "tpl-mount", Category: "control", Action: "Install", Stakeholder: models.StakeholderInstaller},
			{ID: "tpl-program", Category: "control", Action: "Program", Stakeholder: models.StakeholderProgrammer},
			{ID: "tpl-speaker", Category: "audio", Action: "Install", Stakeholder: models.StakeholderInstaller},
			{ID: "tpl-qc", Category: "", Action: "Inspect", Stakeholder: models.StakeholderQC},
		},
	}
}
