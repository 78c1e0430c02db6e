// Package migrations embeds the SQL schema migrations applied by the store
// on open and by the migrate command.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
