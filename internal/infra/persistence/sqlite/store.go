// Package sqlite provides the embedded SQL ledger store built on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/internal/infra/persistence/sqlledger"
	"herbtrace/internal/schema/sqlbundle"
	"herbtrace/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "herbtrace.db"

// Store persists every committed custody event to SQLite. Reads are served
// from the hydrated in-memory ledger.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path, applies the ledger DDL and
// hydrates the in-memory ledger from existing rows. A database sealed with a
// different hash algorithm than the configured one is refused.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer connection.
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if err := sqlledger.ApplyDDL(ctx, db, sqlbundle.SQLite()); err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	if err := sqlledger.EnsureAlgorithm(ctx, db, sqlledger.SQLite, mem.Hasher().Algorithm()); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := sqlledger.Load(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db, path: path}
	mem.SetCommitHook(s.persist)
	return s, nil
}

func (s *Store) persist(ctx context.Context, c domain.Commit) error {
	err := sqlledger.WriteCommit(ctx, s.db, sqlledger.SQLite, c)
	return sqlledger.RefreshOnConflict(ctx, s.db, sqlledger.SQLite, c.Batch.ID, err)
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
