// Package migrations embeds the SQL migration files applied with goose at
// server start and in integration tests.
package migrations

import "embed"

// FS holds all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
