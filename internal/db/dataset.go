package db

import (
	"context"
	"fmt"

	"github.com/ldi/fieldops/internal/dataset"
)

// SaveDataset replaces the stored dataset with ds. Datasets that fail
// validation are rejected before anything is written.
func (db *DB) SaveDataset(ctx context.Context, ds *dataset.Dataset) error {
	if err := ds.Validate(); err != nil {
		return fmt.Errorf("invalid dataset: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"sites", "rooms", "boq_items", "allocation_units", "task_templates"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, s := range ds.Sites {
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO sites (id, name, address) VALUES (:id, :name, :address)`, s); err != nil {
			return fmt.Errorf("failed to insert site %s: %w", s.ID, err)
		}
	}
	for _, r := range ds.Rooms {
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO rooms (id, site_id, name, floor) VALUES (:id, :site_id, :name, :floor)`, r); err != nil {
			return fmt.Errorf("failed to insert room %s: %w", r.ID, err)
		}
	}
	for _, it := range ds.Items {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO boq_items (id, name, qty, unit, category, area)
			VALUES (:id, :name, :qty, :unit, :category, :area)`, it); err != nil {
			return fmt.Errorf("failed to insert boq item %s: %w", it.ID, err)
		}
	}
	for _, a := range ds.Allocations {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO allocation_units (id, boq_item_id, room_id)
			VALUES (:id, :boq_item_id, :room_id)`, a); err != nil {
			return fmt.Errorf("failed to insert allocation %s: %w", a.ID, err)
		}
	}
	for _, tpl := range ds.Templates {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO task_templates (id, category, action, stakeholder)
			VALUES (:id, :category, :action, :stakeholder)`, tpl); err != nil {
			return fmt.Errorf("failed to insert template %s: %w", tpl.ID, err)
		}
	}

	return tx.Commit()
}

// LoadDataset reads the stored dataset. An empty database yields an empty dataset.
func (db *DB) LoadDataset(ctx context.Context) (*dataset.Dataset, error) {
	ds := &dataset.Dataset{}

	if err := db.SelectContext(ctx, &ds.Sites,
		`SELECT id, name, address FROM sites ORDER BY rowid`); err != nil {
		return nil, fmt.Errorf("failed to load sites: %w", err)
	}
	if err := db.SelectContext(ctx, &ds.Rooms,
		`SELECT id, site_id, name, floor FROM rooms ORDER BY rowid`); err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}
	if err := db.SelectContext(ctx, &ds.Items,
		`SELECT id, name, qty, unit, category, area FROM boq_items ORDER BY rowid`); err != nil {
		return nil, fmt.Errorf("failed to load boq items: %w", err)
	}
	if err := db.SelectContext(ctx, &ds.Allocations,
		`SELECT id, boq_item_id, room_id FROM allocation_units ORDER BY rowid`); err != nil {
		return nil, fmt.Errorf("failed to load allocations: %w", err)
	}
	if err := db.SelectContext(ctx, &ds.Templates,
		`SELECT id, category, action, stakeholder FROM task_templates ORDER BY rowid`); err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return ds, nil
}
