// Package db embeds the PostgreSQL schema used by the shared cache store.
package db

import _ "embed"

// Schema creates the catalog cache table. It is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
