// Package schema embeds the goose migrations for every supported database.
package schema

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var migrations embed.FS

// Postgres returns the migration set for PostgreSQL.
func Postgres() fs.FS {
	sub, _ := fs.Sub(migrations, "postgres")
	return sub
}

// SQLite returns the migration set for SQLite.
func SQLite() fs.FS {
	sub, _ := fs.Sub(migrations, "sqlite")
	return sub
}
