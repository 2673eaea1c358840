// Package migrations embeds the client store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
