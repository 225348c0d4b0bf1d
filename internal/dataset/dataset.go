// Package dataset provides the BOQ dataset that field tasks are generated
// from: sites, rooms, bill-of-quantities items, room allocations and task
// templates. Datasets are read from YAML files or taken from Sample.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ldi/fieldops/pkg/models"
)

type Dataset struct {
	Sites       []models.Site           `yaml:"sites" json:"sites"`
	Rooms       []models.Room           `yaml:"rooms" json:"rooms"`
	Items       []models.BOQItem        `yaml:"boq_items" json:"boq_items"`
	Allocations []models.AllocationUnit `yaml:"allocations" json:"allocations"`
	Templates   []models.TaskTemplate   `yaml:"templates" json:"templates"`
}

// Load reads a YAML dataset from path.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset %s: %w", path, err)
	}
	defer f.Close()

	ds, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %s: %w", path, err)
	}
	return ds, nil
}

// Parse decodes a YAML dataset. Unknown keys are rejected so typos in
// hand-written files surface instead of silently dropping records.
func Parse(r io.Reader) (*Dataset, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	ds := &Dataset{}
	if err := dec.Decode(ds); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding dataset: %w", err)
	}
	ds.FillAllocationIDs()
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Write encodes the dataset as YAML.
func (d *Dataset) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}
	return enc.Close()
}

// Save writes the dataset to path, replacing any existing file.
func (d *Dataset) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating dataset %s: %w", path, err)
	}
	if err := d.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FillAllocationIDs gives every allocation without an id one derived from
// its position, item and room, so the same file always yields the same ids.
func (d *Dataset) FillAllocationIDs() {
	for i := range d.Allocations {
		a := &d.Allocations[i]
		if a.ID == "" {
			a.ID = fmt.Sprintf("au-%d-%s-%s", i+1, a.BOQItemID, a.RoomID)
		}
	}
}

// Validate checks identifiers and template stakeholders. Allocations that
// point at unknown items or rooms are allowed; the generator skips them.
func (d *Dataset) Validate() error {
	var errs []error

	checkIDs := func(kind string, ids []string) {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if id == "" {
				errs = append(errs, fmt.Errorf("%s with empty id", kind))
				continue
			}
			if seen[id] {
				errs = append(errs, fmt.Errorf("duplicate %s id %q", kind, id))
			}
			seen[id] = true
		}
	}

	ids := func(n int, at func(int) string) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = at(i)
		}
		return out
	}

	checkIDs("site", ids(len(d.Sites), func(i int) string { return d.Sites[i].ID }))
	checkIDs("room", ids(len(d.Rooms), func(i int) string { return d.Rooms[i].ID }))
	checkIDs("boq item", ids(len(d.Items), func(i int) string { return d.Items[i].ID }))
	checkIDs("allocation", ids(len(d.Allocations), func(i int) string { return d.Allocations[i].ID }))
	checkIDs("template", ids(len(d.Templates), func(i int) string { return d.Templates[i].ID }))

	for _, tpl := range d.Templates {
		if !tpl.Stakeholder.Valid() {
			errs = append(errs, fmt.Errorf("template %q has unknown stakeholder %q", tpl.ID, tpl.Stakeholder))
		}
	}

	return errors.Join(errs...)
}

func (d *Dataset) Site(id string) *models.Site {
	for i := range d.Sites {
		if d.Sites[i].ID == id {
			return &d.Sites[i]
		}
	}
	return nil
}

func (d *Dataset) Room(id string) *models.Room {
	for i := range d.Rooms {
		if d.Rooms[i].ID == id {
			return &d.Rooms[i]
		}
	}
	return nil
}

func (d *Dataset) Item(id string) *models.BOQItem {
	for i := range d.Items {
		if d.Items[i].ID == id {
			return &d.Items[i]
		}
	}
	return nil
}

// RoomsForSite returns the rooms of a site in dataset order.
func (d *Dataset) RoomsForSite(siteID string) []models.Room {
	var rooms []models.Room
	for _, r := range d.Rooms {
		if r.SiteID == siteID {
			rooms = append(rooms, r)
		}
	}
	return rooms
}
