// Package store is the Postgres side of the audit trail: connection setup,
// embedded schema migrations and the append-only audit repository.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Audit writes are small and infrequent.
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// OpenAudit connects, applies migrations and returns the audit repository
// together with the underlying handle so the caller can close it.
func OpenAudit(ctx context.Context, databaseURL string) (*AuditRepository, *sql.DB, error) {
	db, err := Open(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return NewAuditRepository(db), db, nil
}
