package migrations

import "embed"

// FS contains embedded connections migrations. The DDL is written to run
// unchanged on SQLite and PostgreSQL.
//
//go:embed *.sql
var FS embed.FS
