// Package migrations embeds the SQL migrations for the gateway
// (order matters: 001, 002, ...).
package migrations

import "embed"

// Files contains all .sql files from this directory.
//
//go:embed *.sql
var Files embed.FS
