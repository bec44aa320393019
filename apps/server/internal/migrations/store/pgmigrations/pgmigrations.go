// Package pgmigrations embeds the schema migrations for the step event store.
package pgmigrations

import "embed"

// FS holds the SQL migration files, applied at startup via golang-migrate.
//
//go:embed *.sql
var FS embed.FS
