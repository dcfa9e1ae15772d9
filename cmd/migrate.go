package cmd

import (
	"fmt"
	"os"

	"github.com/supplymind/copilot/db"
	"github.com/supplymind/copilot/internal/config"
)

// runMigrate manages the database schema.
//
//	copilot migrate          apply pending migrations (same as "up")
//	copilot migrate up       apply pending migrations
//	copilot migrate down     roll back the most recent migration
//	copilot migrate status   print the current schema version
//
// serve and mcp migrate on startup anyway; the explicit command exists for
// deploy pipelines that migrate before rolling instances.
func runMigrate() error {
	action := "up"
	if args := commandArgs(); len(args) > 0 {
		action = args[0]
	}

	connURL, err := databaseURL()
	if err != nil {
		return err
	}

	switch action {
	case "up":
		if err := db.Migrate(connURL); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		version, _, err := db.Version(connURL)
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		fmt.Printf("Schema is up to date at version %d\n", version)
		return nil

	case "down":
		if err := db.Rollback(connURL); err != nil {
			return fmt.Errorf("rolling back: %w", err)
		}
		version, _, err := db.Version(connURL)
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		fmt.Printf("Rolled back to version %d\n", version)
		return nil

	case "status":
		version, dirty, err := db.Version(connURL)
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		if version == 0 {
			fmt.Println("No migrations applied")
			return nil
		}
		state := "clean"
		if dirty {
			state = "dirty"
		}
		fmt.Printf("Schema version %d (%s)\n", version, state)
		return nil

	default:
		return fmt.Errorf("unknown migrate action %q (want up, down, or status)", action)
	}
}

// databaseURL resolves the migration target. DATABASE_URL alone is enough:
// migration jobs usually run without the provider credentials the full
// configuration requires.
func databaseURL() (string, error) {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	return cfg.PostgresURL(), nil
}
