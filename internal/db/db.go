// Package db provides the PostgreSQL-backed persistence layer behind the
// Account, Realm, and Patch repositories. The session/login core treats
// it strictly as an external collaborator reached through repository
// interfaces — nothing in internal/login, internal/gateway, or
// internal/spark imports pgx directly.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool shared by all repositories.
type DB struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and verifies the connection with a ping.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: pinging: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close releases the connection pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Pool returns the underlying pgx pool, for goose migrations and tests.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}
