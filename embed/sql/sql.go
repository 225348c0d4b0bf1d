package sql

import _ "embed"

// Schema creates the task and dataset tables. Every statement is idempotent.
//
//go:embed schema.sql
var Schema string
