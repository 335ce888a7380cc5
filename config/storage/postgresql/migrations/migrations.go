// Package migrations embeds the versioned schema applied by golang-migrate.
package migrations

import "embed"

// MigrationsFS holds the NNNNNN_name.{up,down}.sql files
//
//go:embed *.sql
var MigrationsFS embed.FS
