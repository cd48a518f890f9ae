package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects through the pgx stdlib driver and verifies the
// connection before returning. maxConns caps the pool; zero or less
// falls back to 20, which covers a grid server where most statements
// are single-row cell reads and upserts.
func Open(ctx context.Context, databaseURL string, maxConns int) (*sql.DB, error) {
	if maxConns <= 0 {
		maxConns = 20
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
