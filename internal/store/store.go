// Package store implements the persistence layer: a SQLite datastore with
// embedded migrations, typed repos for every domain table, and a
// transaction wrapper for multi-write workflows.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// querier is satisfied by both *sql.DB and *sql.Tx so repo methods work
// inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides transactional CRUD over the wispd database.
// All writes are serialized by an internal mutex; inside WithTx the
// transaction-bound Store shares the same mutex and holds it for the
// duration of the transaction.
type Store struct {
	q    querier
	db   *sql.DB // nil on a transaction-bound Store
	mu   *sync.Mutex
	inTx bool
}

// Open opens (or creates) the SQLite database at path with WAL journal
// mode, synchronous=NORMAL, foreign_keys=ON and busy_timeout=5000.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: exec %q on %s: %w", p, path, err)
		}
	}

	return &Store{q: db, db: db, mu: &sync.Mutex{}}, nil
}

// Close closes the underlying database. No-op on a transaction-bound Store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn inside a single SQLite transaction. The Store passed to fn
// exposes the same repo methods bound to the transaction. Any error rolls
// the transaction back; the mutex is held for the full transaction so
// concurrent workflows serialize at this boundary.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		// Nested call: reuse the enclosing transaction.
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	txStore := &Store{q: tx, mu: s.mu, inTx: true}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// lock serializes a standalone write. Inside a transaction the mutex is
// already held by WithTx.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}
