// Package migrations embeds the MySQL schema of the history archive.
package migrations

import "embed"

// Files holds every migration, applied in file-name order.
//
//go:embed *.sql
var Files embed.FS
