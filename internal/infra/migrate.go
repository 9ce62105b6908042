package infra

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator runs the embedded schema migrations against a Postgres database.
type Migrator struct {
	db *sql.DB
	m  *migrate.Migrate
}

// NewMigrator opens a dedicated connection for schema changes.
func NewMigrator(url string) (*Migrator, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}
	// lib/pq registers the "postgres" driver through the migrate postgres package.
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	return &Migrator{db: db, m: m}, nil
}

// Up applies all pending migrations. No pending migrations is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back every migration.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version reports the current schema version.
func (m *Migrator) Version() (uint, bool, error) {
	return m.m.Version()
}

// Force sets the schema version without running migrations.
func (m *Migrator) Force(version int) error {
	return m.m.Force(version)
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
