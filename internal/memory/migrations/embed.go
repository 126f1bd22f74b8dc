package migrations

import "embed"

// FS contains embedded SQLite migrations for player memory storage.
//
//go:embed *.sql
var FS embed.FS
