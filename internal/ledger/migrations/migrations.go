// Package migrations holds the embedded ledger schema for the SQL backends
// and applies it with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/sqlite/*.sql files/postgres/*.sql
var migrationFiles embed.FS

// Dialect selects the schema flavour.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ErrNoVersion is returned by CheckDBMigrationStatus for a database that was never migrated.
var ErrNoVersion = errors.New("database has no schema version (needs migration)")

// Status describes where a database stands relative to the embedded schema.
type Status struct {
	Version uint
	Latest  uint
	Dirty   bool
}

// Current reports whether the database is at the latest version and clean.
func (s Status) Current() bool {
	return !s.Dirty && s.Version == s.Latest
}

// Inspect reads the schema version of db without changing it.
func Inspect(db *sql.DB, dialect Dialect) (Status, error) {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return Status{}, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close db, which the caller owns.

	latest, err := LatestVersion(dialect)
	if err != nil {
		return Status{}, err
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return Status{Latest: latest}, ErrNoVersion
		}
		return Status{}, fmt.Errorf("failed to get database version: %w", err)
	}
	return Status{Version: version, Latest: latest, Dirty: dirty}, nil
}

// CheckDBMigrationStatus verifies that the database schema is up-to-date.
// Returns nil if the database is at the latest version.
func CheckDBMigrationStatus(db *sql.DB, dialect Dialect) error {
	st, err := Inspect(db, dialect)
	if err != nil {
		return err
	}

	if st.Dirty {
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", st.Version)
	}
	if st.Version < st.Latest {
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			st.Version, st.Latest, st.Latest-st.Version)
	}
	if st.Version > st.Latest {
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			st.Version, st.Latest)
	}
	return nil
}

// MigrateUp runs all pending migrations to bring database to latest version.
func MigrateUp(db *sql.DB, dialect Dialect) error {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// LatestVersion returns the highest schema version embedded for dialect.
func LatestVersion(dialect Dialect) (uint, error) {
	src, err := newSource(dialect)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	latest, err := getLatestVersion(src)
	if err != nil {
		return 0, fmt.Errorf("failed to determine latest version: %w", err)
	}
	return latest, nil
}

func newSource(dialect Dialect) (source.Driver, error) {
	switch dialect {
	case SQLite, Postgres:
	default:
		return nil, fmt.Errorf("unknown migration dialect: %s", dialect)
	}
	src, err := iofs.New(migrationFiles, "files/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}
	return src, nil
}

func newMigrate(db *sql.DB, dialect Dialect) (*migrate.Migrate, error) {
	src, err := newSource(dialect)
	if err != nil {
		return nil, err
	}

	var (
		driver database.Driver
		name   string
	)
	switch dialect {
	case SQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
		name = "sqlite3"
	case Postgres:
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
		name = "pgx5"
	}
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// getLatestVersion returns the highest version number available in the source.
func getLatestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}

	latest := version
	for {
		next, err := src.Next(latest)
		if err != nil {
			// Next fails once there are no more migrations.
			break
		}
		latest = next
	}
	return latest, nil
}
