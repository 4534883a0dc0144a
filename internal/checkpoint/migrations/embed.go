// Package migrations embeds the session store schema.
package migrations

import "embed"

// FS holds the NNN_name.up.sql files, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
