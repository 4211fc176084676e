// Package migrations embeds the SQL schema for consent records and audit events.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
