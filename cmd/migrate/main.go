// Package main applies or rolls back the relay's database migrations.
//
// Usage:
//
//	go run ./cmd/migrate                 # apply all pending migrations
//	go run ./cmd/migrate --direction=down
//
// DATABASE_URL is read from the environment (or a .env file). Outside
// APP_ENV=local a DATABASE_URL_SSM_PARAM pointer is resolved from SSM first.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"payrelay/internal/config"
	"payrelay/internal/db"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Apply or roll back the processed_events schema.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*direction, logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(direction string, logger *slog.Logger) error {
	dir, err := parseDirection(direction)
	if err != nil {
		return err
	}

	_ = godotenv.Load()

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}
	if err := config.ResolveSecrets(provider); err != nil {
		return fmt.Errorf("resolving secrets: %w", err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}

	return db.RunMigrations(dsn, dir, logger)
}

func parseDirection(s string) (db.MigrateDirection, error) {
	switch s {
	case "up":
		return db.MigrateUp, nil
	case "down":
		return db.MigrateDown, nil
	default:
		return "", fmt.Errorf("unknown direction %q: want up or down", s)
	}
}
