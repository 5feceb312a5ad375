package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending schema migration. It reports whether
// anything changed.
func Migrate(db *sqlx.DB) (bool, error) {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return false, fmt.Errorf("create migration source: %w", err)
	}
	defer sourceDriver.Close()

	dbDriver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return false, fmt.Errorf("create migration driver: %w", err)
	}

	// The migrate instance is not closed: closing it would close db.
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return false, fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("apply migrations: %w", err)
	}
	return true, nil
}
