// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables. Statements
// are idempotent, so running them at every startup is safe.
//
//go:embed migrations/001_schema.sql
var Schema string
