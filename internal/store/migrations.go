package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MigrateUp applies all pending migrations.
func MigrateUp(databaseURL string) error {
	return withGoose(databaseURL, func(db *sql.DB) error {
		return goose.Up(db, "migrations")
	})
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(databaseURL string) error {
	return withGoose(databaseURL, func(db *sql.DB) error {
		return goose.Down(db, "migrations")
	})
}

// MigrateStatus prints migration status to stdout.
func MigrateStatus(databaseURL string) error {
	return withGoose(databaseURL, func(db *sql.DB) error {
		return goose.Status(db, "migrations")
	})
}

// withGoose opens a dedicated database/sql handle for goose (which does
// not speak pgx natively) and closes it when done.
func withGoose(databaseURL string, fn func(*sql.DB) error) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	return fn(db)
}
