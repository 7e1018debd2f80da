package db

import (
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/persistorai/topograph/internal/db/migrations"
)

// Dialects with embedded migrations.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// SchemaVersion returns the highest migration version embedded for dialect,
// which a migrated store of that dialect is at.
func SchemaVersion(dialect string) (int64, error) {
	var fsys fs.FS

	switch dialect {
	case DialectPostgres:
		fsys = migrations.Postgres()
	case DialectSQLite:
		fsys = migrations.SQLite()
	default:
		return 0, fmt.Errorf("no migrations for dialect %q", dialect)
	}

	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return 0, fmt.Errorf("listing %s migrations: %w", dialect, err)
	}

	var latest int64

	for _, name := range names {
		v, err := goose.NumericComponent(name)
		if err != nil {
			return 0, fmt.Errorf("migration %s: %w", name, err)
		}

		latest = max(latest, v)
	}

	return latest, nil
}
