// Package database is the Postgres adapter implementing every
// internal/store repository port over a single connection pool.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/jordanhubbard/swarm-orchestrator/internal/dbresolve"
)

// Store wraps *sql.DB and implements every internal/store port.
type Store struct {
	db *sql.DB
}

// NewFromEnv resolves a DSN from the environment (DATABASE_URL, then the
// discovery chain) and opens it.
func NewFromEnv(ctx context.Context) (*Store, error) {
	candidates := dbresolve.ComposeCandidates(os.Getenv("DATABASE_URL"), dbresolve.DiscoveryChain())
	if len(candidates) == 0 {
		return nil, fmt.Errorf("database: no DATABASE_URL configured")
	}

	timeout := dbresolve.TimeoutFromRequest(nil)
	result, failures := dbresolve.TryConnectCandidates(ctx, candidates, timeout)
	if result == nil {
		return nil, fmt.Errorf("database: unable to connect to any configured database URL: %v", failures)
	}

	result.DB.SetMaxOpenConns(25)
	result.DB.SetMaxIdleConns(5)
	result.DB.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: result.DB}
	if err := s.initSchema(); err != nil {
		result.DB.Close()
		return nil, fmt.Errorf("database: failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ApplyPoolConfig overrides NewFromEnv's hardcoded pool defaults with
// operator-configured values (internal/config.DatabaseConfig). Zero
// values are left at whatever the pool is already set to.
func (s *Store) ApplyPoolConfig(maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) {
	if maxOpenConns > 0 {
		s.db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		s.db.SetMaxIdleConns(maxIdleConns)
	}
	if connMaxLifetime > 0 {
		s.db.SetConnMaxLifetime(connMaxLifetime)
	}
}

// DB exposes the underlying *sql.DB for callers (migrations, health
// checks) that need it directly.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetConfigValue upserts a swarm_config row.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	query := rebind(`
		INSERT INTO swarm_config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	_, err := s.db.ExecContext(ctx, query, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("database: set config value: %w", err)
	}
	return nil
}

// GetConfigValue reads a swarm_config row.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	query := rebind(`SELECT value FROM swarm_config WHERE key = ?`)
	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("database: get config value: %w", err)
	}
	return value, true, nil
}
