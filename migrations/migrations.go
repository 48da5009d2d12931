// Package migrations embeds the SQL for the normalization_error table.
package migrations

import "embed"

// FS holds every numbered migration file.
//
//go:embed *.sql
var FS embed.FS
