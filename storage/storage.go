package storage

import (
	"context"
	"errors"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned when a key format is invalid
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidData is returned when data cannot be decoded
	ErrInvalidData = errors.New("invalid data")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")

	// ErrCollectionNotFound is returned when a named collection does not exist
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidCollection is returned when a collection name is malformed
	ErrInvalidCollection = errors.New("invalid collection name")

	// ErrNotInScope is returned when a cursor is requested for a collection
	// the transaction was not opened on
	ErrNotInScope = errors.New("collection not in transaction scope")

	// ErrTxnAborted is returned by a cursor whose transaction was aborted by the engine
	ErrTxnAborted = errors.New("transaction aborted")

	// ErrTxnClosed is returned when using a transaction after Close
	ErrTxnClosed = errors.New("transaction closed")
)

// Store is an opened storage environment holding named collections.
// Multiple read transactions may be open at the same time.
type Store interface {
	// BeginRead opens a read-only transaction scoped to the named collections.
	// It fails with ErrClosed or ErrCollectionNotFound before anything is read.
	BeginRead(ctx context.Context, collections ...string) (ReadTxn, error)

	// Close closes the storage, aborting open read transactions
	Close() error
}

// ReadTxn is a consistent read-only view over a set of collections
type ReadTxn interface {
	// Cursor opens a forward cursor over all records of a collection
	// in ascending primary-key order
	Cursor(collection string) (Cursor, error)

	// Close releases the transaction. Safe to call more than once.
	Close() error
}

// Cursor walks a collection one record at a time.
//
//	for cur.Next() {
//		use(cur.Key(), cur.Value())
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor interface {
	// Next advances to the next record. It returns false at the end of the
	// collection or on failure; Err distinguishes the two.
	Next() bool

	// Key returns the primary key of the current record
	Key() uint64

	// Value returns a copy of the current record's value
	Value() []byte

	// Err returns the error that stopped the cursor, if any
	Err() error

	// Close releases the cursor. Safe to call more than once.
	Close() error
}

// Writer provides write access to collections
type Writer interface {
	// CreateCollection creates a collection; creating an existing one is a no-op
	CreateCollection(ctx context.Context, name string) error

	// HasCollection reports whether a collection exists
	HasCollection(ctx context.Context, name string) (bool, error)

	// Add stores a value under the next auto-increment key and returns that key
	Add(ctx context.Context, collection string, value []byte) (uint64, error)

	// Put stores a value under an explicit key, replacing any existing value
	Put(ctx context.Context, collection string, key uint64, value []byte) error

	// Get returns the value stored under a key
	Get(ctx context.Context, collection string, key uint64) ([]byte, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, collection string, key uint64) error

	// Count returns the number of records in a collection
	Count(ctx context.Context, collection string) (uint64, error)
}

// Storage combines read transactions and writes
type Storage interface {
	Store
	Writer
}

// Backend names accepted by Open
const (
	BackendPebble = "pebble"
	BackendSQLite = "sqlite"
)

// Config holds storage configuration
type Config struct {
	// Backend selects the engine: "pebble" or "sqlite" (default: pebble)
	Backend string

	// Path to the database directory (pebble) or file (sqlite)
	Path string

	// Cache size in MB (default: 128, pebble only)
	Cache int

	// MaxOpenFiles is the maximum number of open files (default: 1000, pebble only)
	MaxOpenFiles int

	// WriteBuffer size in MB (default: 64, pebble only)
	WriteBuffer int

	// DisableWAL disables write-ahead log (not recommended)
	DisableWAL bool

	// ReadOnly opens the database in read-only mode
	ReadOnly bool

	// CompactionConcurrency for background compaction (default: 1, pebble only)
	CompactionConcurrency int
}

// DefaultConfig returns a default configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Backend:               BackendPebble,
		Path:                  path,
		Cache:                 128, // 128 MB
		MaxOpenFiles:          1000,
		WriteBuffer:           64, // 64 MB
		DisableWAL:            false,
		ReadOnly:              false,
		CompactionConcurrency: 1,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	switch c.Backend {
	case "", BackendPebble, BackendSQLite:
	default:
		return errors.New("backend must be one of: pebble, sqlite")
	}
	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	if c.WriteBuffer < 0 {
		return errors.New("write buffer size cannot be negative")
	}
	if c.CompactionConcurrency < 1 {
		return errors.New("compaction concurrency must be at least 1")
	}
	return nil
}

// Open opens the engine selected by cfg.Backend
func Open(cfg *Config) (Storage, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Backend == BackendSQLite {
		return NewSQLiteStorage(cfg)
	}
	return NewPebbleStorage(cfg)
}
