// Package db manages the PostgreSQL schema via embedded migrations.
//
// Migration files live in db/migrations and are compiled into the binary,
// so a deployed copilot can bring its own schema up to date without
// shipping SQL files alongside it. golang-migrate tracks applied versions
// in the schema_migrations table.
package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema indicates a previous migration failed partway and the
// schema needs manual repair before new migrations can run.
var ErrDirtySchema = errors.New("database schema is dirty")

// Migrate applies all pending migrations.
//
// connURL must be a postgres:// or postgresql:// URL. A dirty schema aborts
// before anything runs: a half-applied migration must be inspected and
// resolved by hand (migrate force <version>) rather than papered over.
func Migrate(connURL string) error {
	m, err := newMigrator(connURL)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w at version %d, run: migrate force %d", ErrDirtySchema, version, version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Debug("schema up to date", "version", version)
			return nil
		}
		// A failure mid-migration leaves the schema dirty. Surface the
		// version so the operator knows what to force.
		if v, d, verr := m.Version(); verr == nil && d {
			return fmt.Errorf("migration to version %d failed, schema is dirty: %w", v, err)
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	if v, _, verr := m.Version(); verr == nil {
		slog.Info("migrations applied", "version", v)
	}
	return nil
}

// Rollback reverts the most recently applied migration. Destructive: the
// down migration for that version runs against live data.
func Rollback(connURL string) error {
	m, err := newMigrator(connURL)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return errors.New("no migrations applied, nothing to roll back")
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w at version %d, run: migrate force %d", ErrDirtySchema, version, version)
	}

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("rolling back version %d: %w", version, err)
	}
	slog.Info("migration rolled back", "from_version", version)
	return nil
}

// Version reports the current schema version and dirty flag.
// Returns version 0 when no migrations have been applied yet.
func Version(connURL string) (uint, bool, error) {
	m, err := newMigrator(connURL)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}
	return version, dirty, nil
}

// newMigrator builds a migrate instance over the embedded filesystem.
func newMigrator(connURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}

	migrateURL, err := toMigrateURL(connURL)
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL)
	if err != nil {
		return nil, fmt.Errorf("connecting for migrations: %w", err)
	}
	return m, nil
}

// closeMigrator closes both halves of the migrator, logging rather than
// failing: by this point the migration outcome is already decided.
func closeMigrator(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		slog.Warn("closing migration source", "error", srcErr)
	}
	if dbErr != nil {
		slog.Warn("closing migration connection", "error", dbErr)
	}
}

// toMigrateURL rewrites a postgres URL to the pgx5:// scheme that selects
// golang-migrate's pgx v5 driver.
func toMigrateURL(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q (want postgres)", u.Scheme)
	}
}
