// Package storage implements the Postgres-backed persistence layer:
// a connection pool with a health check, and the audit batch writer
// that backs internal/audit.Pipeline.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Pool wraps a *sql.DB configured per spec.md §6's database settings.
type Pool struct {
	DB *sql.DB
}

// PoolConfig carries the tunables read from DatabaseConfig.
type PoolConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPool opens a Postgres connection pool and verifies connectivity
// with a bounded ping before returning.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}

	return &Pool{DB: db}, nil
}

// HealthCheck runs a trivial query to confirm the pool is usable,
// exposed for the /health endpoint's readiness probe.
func (p *Pool) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	if err := p.DB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("storage: health check query: %w", err)
	}
	return nil
}

// Stats exposes the pool's live connection counters for metrics.
func (p *Pool) Stats() sql.DBStats {
	return p.DB.Stats()
}

// Close releases the pool's connections.
func (p *Pool) Close() error {
	return p.DB.Close()
}
