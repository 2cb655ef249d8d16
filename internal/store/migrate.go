package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsDir = "migrations"

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

func withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	return fn()
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	return withGoose(func() error {
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	})
}

// RollbackMigrations reverts every migration. Used by tests only.
func RollbackMigrations(ctx context.Context, db *sql.DB) error {
	return withGoose(func() error {
		if err := goose.DownToContext(ctx, db, migrationsDir, 0); err != nil {
			return fmt.Errorf("roll back migrations: %w", err)
		}
		return nil
	})
}

// MigrationFiles lists the embedded migration file names in order.
func MigrationFiles() ([]string, error) {
	return fs.Glob(migrationFS, migrationsDir+"/*.sql")
}
