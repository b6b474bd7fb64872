// Package migrations embeds the archive database schema for goose
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
