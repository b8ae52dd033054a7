// Package migrations embeds the versioned schema migrations. The application
// never creates tables at runtime; cmd/migrate applies these with goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
