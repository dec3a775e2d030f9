// Package migrations embeds the versioned SQL schema files.
package migrations

import "embed"

// FS holds NNN_name.sql files applied in version order.
//
//go:embed *.sql
var FS embed.FS
