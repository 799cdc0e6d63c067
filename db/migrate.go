package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// migrationDirs are searched in order; the service may be started from the
// module root, from db/, or from the repository root.
var migrationDirs = []string{
	"db/migrations",
	"migrations",
	"backend/db/migrations",
}

// MigrationsPath returns the file:// source URL of the first migrations
// directory found relative to the working directory.
func MigrationsPath() (string, error) {
	for _, dir := range migrationDirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", dir, err)
		}
		return "file://" + abs, nil
	}
	return "", fmt.Errorf("migrations directory not found (searched %v)", migrationDirs)
}

func newMigrator(db *sql.DB, source string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending versioned migrations from db/migrations.
// Applying an up-to-date schema is a no-op.
//
// File names follow golang-migrate conventions:
//
//	000001_overlay_state.up.sql
//	000001_overlay_state.down.sql
func RunMigrations(db *sql.DB) error {
	source, err := MigrationsPath()
	if err != nil {
		return err
	}
	return RunMigrationsFromPath(db, source)
}

// RunMigrationsFromPath applies pending migrations from source.
func RunMigrationsFromPath(db *sql.DB, source string) error {
	m, err := newMigrator(db, source)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("overlay schema is up to date", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	return logVersion(m, "migrations applied")
}

// MigrateDown reverts the most recent migration. Reverting the first
// migration drops overlay_state and every persisted snapshot with it.
func MigrateDown(db *sql.DB) error {
	source, err := MigrationsPath()
	if err != nil {
		return err
	}
	m, err := newMigrator(db, source)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("no migrations to roll back", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("roll back migration: %w", err)
	}
	return logVersion(m, "migration rolled back")
}

// GetMigrationVersion reports the applied schema version. A database with
// no migrations applied yields version 0.
func GetMigrationVersion(db *sql.DB) (version uint, dirty bool, err error) {
	source, err := MigrationsPath()
	if err != nil {
		return 0, false, err
	}
	m, err := newMigrator(db, source)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migration version: %w", err)
	}
	return version, dirty, nil
}

func logVersion(m *migrate.Migrate, msg string) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		slog.Info(msg, slog.Uint64("version", 0), slog.String("component", "db_migrate"))
		return nil
	}
	if err != nil {
		slog.Warn("could not determine migration version", slog.Any("err", err), slog.String("component", "db_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("schema dirty at version %d; manual intervention required", version)
	}
	slog.Info(msg, slog.Uint64("version", uint64(version)), slog.String("component", "db_migrate"))
	return nil
}
