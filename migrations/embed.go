// Package migrations embeds the schema files applied by `lims-server migrate up`.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
