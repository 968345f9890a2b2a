// Package migrations contains the embedded SQL migrations for the local
// SQLite store and the remote PostgreSQL backend.
package migrations

import "embed"

//go:embed local/*.sql
var Local embed.FS

//go:embed remote/*.sql
var Remote embed.FS
