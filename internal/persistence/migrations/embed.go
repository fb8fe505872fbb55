package migrations

import "embed"

// Postgres contains the Postgres schema migrations.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite contains the SQLite schema migrations.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
