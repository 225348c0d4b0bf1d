package models

// Site is a project location. Rooms belong to exactly one site.
type Site struct {
	ID      string `json:"id" yaml:"id" db:"id"`
	Name    string `json:"name" yaml:"name" db:"name"`
	Address string `json:"address,omitempty" yaml:"address,omitempty" db:"address"`
}

type Room struct {
	ID     string `json:"id" yaml:"id" db:"id"`
	SiteID string `json:"site_id" yaml:"site_id" db:"site_id"`
	Name   string `json:"name" yaml:"name" db:"name"`
	Floor  string `json:"floor,omitempty" yaml:"floor,omitempty" db:"floor"`
}
