package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns = 10
	idleTimeout     = 5 * time.Minute
)

// DB holds the pool backing the agent store. The agents table needs PostGIS,
// so opening a DB fails when the extension is missing.
type DB struct {
	Pool *pgxpool.Pool
}

// New connects, pings and verifies PostGIS. maxConns <= 0 uses the default.
func New(ctx context.Context, dsn string, maxConns int32) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse agent store dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	cfg.MaxConns = maxConns
	cfg.MaxConnIdleTime = idleTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open agent store: %w", err)
	}

	db := &DB{Pool: pool}
	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

// Ping checks the connection and that spatial functions resolve.
func (db *DB) Ping(ctx context.Context) error {
	var version string
	if err := db.Pool.QueryRow(ctx, `SELECT postgis_lib_version()`).Scan(&version); err != nil {
		return fmt.Errorf("agent store postgis check: %w", err)
	}
	return nil
}

func (db *DB) Close() {
	db.Pool.Close()
}
