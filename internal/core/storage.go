package core

import (
	"fmt"
	"io"
	"os"

	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/internal/infra/persistence/pebblekv"
	"herbtrace/internal/infra/persistence/postgres"
	"herbtrace/internal/infra/persistence/sqlite"
	"herbtrace/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StoragePebble   StorageDriver = "pebble"   // embedded key-value store
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset. Durable stores implement io.Closer.
//
//	HERBTRACE_STORAGE_DRIVER: memory|sqlite|postgres|pebble (default sqlite)
//	HERBTRACE_SQLITE_PATH: path to sqlite file (default ./herbtrace.db)
//	HERBTRACE_POSTGRES_DSN: postgres DSN when driver=postgres
//	HERBTRACE_PEBBLE_PATH: pebble directory when driver=pebble
//	HERBTRACE_HASH_ALG: sha256|blake3 (default sha256)
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	hasher, err := domain.NewHasher(domain.HashAlgorithm(os.Getenv("HERBTRACE_HASH_ALG")))
	if err != nil {
		return nil, err
	}
	opts := []memory.Option{memory.WithHasher(hasher)}
	driver := os.Getenv("HERBTRACE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(os.Getenv("HERBTRACE_SQLITE_PATH"), engine, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(os.Getenv("HERBTRACE_POSTGRES_DSN"), engine, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePebble:
		store, err := pebblekv.NewStore(os.Getenv("HERBTRACE_PEBBLE_PATH"), engine, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// CloseStore releases a store opened by OpenPersistentStore.
func CloseStore(store PersistentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
