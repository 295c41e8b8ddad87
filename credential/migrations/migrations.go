// Package migrations embeds the credential schema migration files so they
// compile into the binary.
package migrations

import "embed"

// Migrations holds the SQL migration files applied by the store.
//
//go:embed *.sql
var Migrations embed.FS
