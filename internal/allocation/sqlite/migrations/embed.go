package migrations

import "embed"

// FS contains the embedded SQLite migrations for allocation runs.
//
//go:embed *.sql
var FS embed.FS
