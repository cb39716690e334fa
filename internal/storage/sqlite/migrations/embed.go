package migrations

import "embed"

// FS holds the SQLite schema migrations for the game store.
//
//go:embed *.sql
var FS embed.FS
