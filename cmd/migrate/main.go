package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	log.SetPrefix("payroll-migrate: ")
	log.SetFlags(0)

	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", "", "Database URL (falls back to DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to the payroll schema migrations")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		log.Fatal("database URL is required: use -database or set DATABASE_URL")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		log.Fatalf("failed to create migration instance: %v", err)
	}
	defer m.Close()

	if err := run(m, command); err != nil {
		log.Fatal(err)
	}
}

func run(m *migrate.Migrate, command string) error {
	switch command {
	case "up":
		log.Println("applying migrations")
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("schema already up to date")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		log.Println("migrations applied")
		return nil

	case "down":
		log.Println("rolling back migrations")
		err := m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		log.Println("rollback complete")
		return nil

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		log.Printf("current version: %d (dirty: %v)", version, dirty)
		return nil

	case "force":
		if len(flag.Args()) < 1 {
			return errors.New("force requires a version number: -command force <version>")
		}
		var version int
		if _, err := fmt.Sscanf(flag.Arg(0), "%d", &version); err != nil {
			return fmt.Errorf("invalid version number: %w", err)
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
		log.Printf("forced version to %d", version)
		return nil

	default:
		return fmt.Errorf("unknown command %q (use: up, down, version, force)", command)
	}
}
