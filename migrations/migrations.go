// Package migrations embeds the goose SQL migrations shared by every
// service that touches the database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
