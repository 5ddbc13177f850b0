// Package postgres provides a Postgres-backed ledger store that mirrors the
// in-memory semantics while applying the ledger DDL on startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/internal/infra/persistence/sqlledger"
	"herbtrace/internal/schema/sqlbundle"
	"herbtrace/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/herbtrace?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists each commit to Postgres while reusing the in-memory
// implementation for locking, rules and reads.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It applies the ledger DDL, checks the stored hash algorithm and hydrates the
// in-memory ledger from existing rows.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := sqlledger.ApplyDDL(ctx, db, sqlbundle.Postgres()); err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	if err := sqlledger.EnsureAlgorithm(ctx, db, sqlledger.Postgres, mem.Hasher().Algorithm()); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := sqlledger.Load(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db}
	mem.SetCommitHook(s.persist)
	return s, nil
}

func (s *Store) persist(ctx context.Context, c domain.Commit) error {
	err := sqlledger.WriteCommit(ctx, s.db, sqlledger.Postgres, c)
	return sqlledger.RefreshOnConflict(ctx, s.db, sqlledger.Postgres, c.Batch.ID, err)
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
