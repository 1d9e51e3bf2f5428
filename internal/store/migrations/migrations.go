// Package migrations embeds the chat server schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
