// Package database is the Postgres access layer. One Store carries every
// table operation; WithTx rebinds the same Store to a transaction so that
// domain write + audit append + outbox enqueue commit atomically.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store exposes all table operations bound to either the pool or a tx.
type Store struct {
	db *sql.DB
	q  DBTX
}

// Open connects to Postgres and verifies the connection.
func Open(url string) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, q: db}, nil
}

// NewWithDB wraps an existing handle (tests use sqlmock here).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db, q: db} }

// Close shuts down the pool. No-op on tx-bound stores.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks connectivity for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn with a Store bound to a single transaction. Rollback on
// error, commit otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		// Already inside a transaction; nest flatly.
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	bound := &Store{q: tx}
	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// ============================================================================
// ADVISORY LOCKS (single-writer scheduler jobs)
// ============================================================================

// lockKey maps a job name to a stable 64-bit advisory lock key.
func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// TryAdvisoryLock attempts a session-level lock for the named job. Both the
// lock and its release must run on the same Postgres session, so the lock
// pins one pooled connection for its whole lifetime. Returns a release func,
// or nil when another instance holds the lock.
func (s *Store) TryAdvisoryLock(ctx context.Context, name string) (func(context.Context) error, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock %s: %w", name, err)
	}
	key := lockKey(name)

	var got bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advisory lock %s: %w", name, err)
	}
	if !got {
		conn.Close()
		return nil, nil
	}

	return func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			return fmt.Errorf("advisory unlock %s: %w", name, err)
		}
		return nil
	}, nil
}
