// Package pebblekv provides an embedded key-value ledger store on
// cockroachdb/pebble. Each commit is written as one synced pebble batch.
package pebblekv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	batchPrefix = "b/"
	eventPrefix = "e/"

	hashAlgorithmKey = "m/hash_algorithm"
)

// Store persists custody events and batch summaries to pebble.
type Store struct {
	*memory.Store
	db   *pebble.DB
	path string
}

// NewStore opens the pebble database at path and hydrates the in-memory ledger.
// A database sealed with a different hash algorithm is refused.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = "herbtrace-ledger"
	}
	cache := pebble.NewCache(16 << 20)
	defer cache.Unref()
	db, err := pebble.Open(path, &pebble.Options{
		Cache:        cache,
		MemTableSize: 8 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	mem := memory.NewStore(engine, opts...)
	if err := ensureAlgorithm(db, mem.Hasher().Algorithm()); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := load(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db, path: path}
	mem.SetCommitHook(s.persist)
	return s, nil
}

// BatchKey is the summary key of a batch.
func BatchKey(batchID string) []byte {
	return []byte(batchPrefix + batchID)
}

// EventKey is the ledger key of one event. The zero-padded sequence keeps
// lexicographic order equal to ledger order.
func EventKey(batchID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", eventPrefix, batchID, seq))
}

func ensureAlgorithm(db *pebble.DB, alg domain.HashAlgorithm) error {
	value, closer, err := db.Get([]byte(hashAlgorithmKey))
	if errors.Is(err, pebble.ErrNotFound) {
		if err := db.Set([]byte(hashAlgorithmKey), []byte(alg), pebble.Sync); err != nil {
			return fmt.Errorf("record hash algorithm: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read hash algorithm: %w", err)
	}
	stored := domain.HashAlgorithm(value)
	_ = closer.Close()
	if stored != alg {
		return domain.Invalid("hashAlgorithm", "ledger is sealed with %s but %s is configured", stored, alg)
	}
	return nil
}

func (s *Store) persist(_ context.Context, c domain.Commit) error {
	summary, err := json.Marshal(c.Batch)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	event, err := json.Marshal(c.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()
	if err := batch.Set(EventKey(c.Event.BatchID, c.Event.SequenceNumber), event, nil); err != nil {
		return fmt.Errorf("stage event: %w", err)
	}
	if err := batch.Set(BatchKey(c.Batch.ID), summary, nil); err != nil {
		return fmt.Errorf("stage summary: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func load(db *pebble.DB) (memory.Snapshot, error) {
	snap := memory.Snapshot{
		Batches: map[string]domain.Batch{},
		Events:  map[string][]domain.CustodyEvent{},
	}
	err := scanPrefix(db, []byte(batchPrefix), func(_, value []byte) error {
		var b domain.Batch
		if err := json.Unmarshal(value, &b); err != nil {
			return fmt.Errorf("decode batch: %w", err)
		}
		snap.Batches[b.ID] = b
		return nil
	})
	if err != nil {
		return snap, err
	}
	err = scanPrefix(db, []byte(eventPrefix), func(key, value []byte) error {
		var e domain.CustodyEvent
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("decode event %s: %w", key, err)
		}
		snap.Events[e.BatchID] = append(snap.Events[e.BatchID], e)
		return nil
	})
	return snap, err
}

func scanPrefix(db *pebble.DB, prefix []byte, fn func(key, value []byte) error) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer func() { _ = iter.Close() }()
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}
	return iter.Error()
}

// prefixUpperBound returns the exclusive upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}
	return nil
}

// DB exposes the underlying pebble handle for integration testing hooks.
func (s *Store) DB() *pebble.DB { return s.db }

// Path returns the database directory.
func (s *Store) Path() string { return s.path }

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }
