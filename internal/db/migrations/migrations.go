// Package migrations embeds the Postgres schema migrations applied by goose.
package migrations

import "embed"

// FS holds the numbered goose migration files.
//
//go:embed *.sql
var FS embed.FS
