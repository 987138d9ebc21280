package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Result reports the schema version after a migration run.
type Result struct {
	Version uint
	Dirty   bool
	Changed bool
}

// RunMigrations applies every pending embedded migration.
func RunMigrations(db *sql.DB) (Result, error) {
	return run(db, func(m *migrate.Migrate) error { return m.Up() })
}

// Steps applies n migrations forward, or rolls back -n when n is negative.
func Steps(db *sql.DB, n int) (Result, error) {
	if n == 0 {
		return Result{}, errors.New("migration steps must not be zero")
	}
	return run(db, func(m *migrate.Migrate) error { return m.Steps(n) })
}

func run(db *sql.DB, apply func(*migrate.Migrate) error) (Result, error) {
	if db == nil {
		return Result{}, errors.New("migration database handle is required")
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return Result{}, err
	}
	// migrator.Close would close the shared *sql.DB

	res := Result{Changed: true}
	if err := apply(migrator); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return Result{}, fmt.Errorf("apply migrations: %w", err)
		}
		res.Changed = false
	}

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Result{}, fmt.Errorf("read migration version: %w", err)
	}
	res.Version = version
	res.Dirty = dirty
	return res, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}
