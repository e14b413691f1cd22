package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/sqlite/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

const migrationsTable = "schema_migrations"

// Migrate applies every pending migration for the connection's driver.
func Migrate(dbx *sqlx.DB) error {
	if dbx == nil {
		return errors.New("migrate: nil db")
	}

	var (
		driver migratedb.Driver
		err    error
	)
	name := dbx.DriverName()
	switch name {
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(dbx.DB, &migratesqlite.Config{MigrationsTable: migrationsTable})
	case DriverMySQL:
		driver, err = migratemysql.WithInstance(dbx.DB, &migratemysql.Config{MigrationsTable: migrationsTable})
	default:
		return fmt.Errorf("migrate: unsupported driver %q", name)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: init db driver: %w", name, err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+name)
	if err != nil {
		return fmt.Errorf("migrate %s: init source: %w", name, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return fmt.Errorf("migrate %s: init migrator: %w", name, err)
	}

	// m.Close would close dbx as well; the caller owns it.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: up: %w", name, err)
	}
	return nil
}
