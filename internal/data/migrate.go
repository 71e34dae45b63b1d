package data

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// RunMigrate applies the embedded migrations of driver to db. The migrate
// instance is not closed since that would close db.
func RunMigrate(driver string, db *sql.DB) error {
	var (
		target database.Driver
		err    error
	)
	switch driver {
	case DriverPostgres:
		target, err = postgres.WithInstance(db, &postgres.Config{})
	case DriverSQLite:
		target, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", driver)
	}
	if err != nil {
		return err
	}

	src, err := iofs.New(migrations, "migrations/"+driver)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
