// Package db embeds the PostgreSQL migrations.
package db

import (
	"embed"
	"io/fs"
	"slices"
)

//go:embed migrations/*.sql
var files embed.FS

// Migration is one schema step, named after its file.
type Migration struct {
	Name string
	SQL  string
}

// Migrations returns the embedded migrations in file name order.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(files, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	slices.Sort(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		b, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Name: name[len("migrations/"):], SQL: string(b)})
	}
	return out, nil
}
