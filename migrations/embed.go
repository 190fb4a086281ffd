// Package migrations embeds the SQLite schema into the binary.
package migrations

import "embed"

// FS holds every *.up.sql file at its root.
//
//go:embed *.sql
var FS embed.FS
