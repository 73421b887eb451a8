package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Ensure PebbleStorage implements Storage
var _ Storage = (*PebbleStorage)(nil)

// PebbleStorage implements Storage using PebbleDB
type PebbleStorage struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	// mu is held shared by every engine access and exclusively by Close
	// while it flips closed, so no access straddles the close.
	mu sync.RWMutex

	// txns counts read transactions that have not been released yet
	txns sync.WaitGroup

	// seqMu serializes auto-increment key allocation
	seqMu sync.Mutex
}

// NewPebbleStorage creates a new PebbleDB storage
func NewPebbleStorage(cfg *Config) (*PebbleStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Configure PebbleDB options
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(int64(cfg.Cache) << 20), // Convert MB to bytes
		MaxOpenFiles:             cfg.MaxOpenFiles,
		MemTableSize:             uint64(cfg.WriteBuffer) << 20,
		DisableWAL:               cfg.DisableWAL,
		MaxConcurrentCompactions: func() int { return cfg.CompactionConcurrency },
		ErrorIfExists:            false,
		ErrorIfNotExists:         false,
	}
	defer opts.Cache.Unref()

	if cfg.ReadOnly {
		opts.ReadOnly = true
	}

	// Open database
	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &PebbleStorage{
		db:     db,
		config: cfg,
		logger: zap.NewNop(), // Use nop logger by default
	}, nil
}

// SetLogger sets the logger for the storage
func (s *PebbleStorage) SetLogger(logger *zap.Logger) {
	s.logger = logger
}

// ensureNotClosed checks if storage is closed
func (s *PebbleStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ensureNotReadOnly checks if storage is read-only
func (s *PebbleStorage) ensureNotReadOnly() error {
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// Close closes the storage and releases resources.
// Open read transactions are aborted: their cursors stop with ErrTxnAborted.
// Close returns once every aborted transaction has been closed by its owner.
func (s *PebbleStorage) Close() error {
	s.mu.Lock()
	if s.closed.Swap(true) {
		s.mu.Unlock()
		return nil // Already closed
	}
	s.mu.Unlock()

	s.txns.Wait()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateCollection registers a collection
func (s *PebbleStorage) CreateCollection(ctx context.Context, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return err
	}

	if err := s.db.Set(CollectionKey(name), []byte{1}, pebble.Sync); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// HasCollection reports whether a collection exists
func (s *PebbleStorage) HasCollection(ctx context.Context, name string) (bool, error) {
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return false, err
	}

	return hasKey(s.db, CollectionKey(name))
}

// reader is the read surface shared by *pebble.DB and *pebble.Snapshot
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func hasKey(r reader, key []byte) (bool, error) {
	_, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get key: %w", err)
	}
	closer.Close()
	return true, nil
}

// requireCollection returns ErrCollectionNotFound for unknown collections.
// Callers hold s.mu.
func (s *PebbleStorage) requireCollection(name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	ok, err := hasKey(s.db, CollectionKey(name))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return nil
}

// nextSequence returns the next auto-increment key. Callers hold s.seqMu.
func (s *PebbleStorage) nextSequence(collection string) (uint64, error) {
	value, closer, err := s.db.Get(SequenceKey(collection))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 1, nil
		}
		return 0, fmt.Errorf("failed to get sequence: %w", err)
	}
	defer closer.Close()

	seq, err := DecodeUint64(value)
	if err != nil {
		return 0, fmt.Errorf("failed to decode sequence: %w", err)
	}
	return seq, nil
}

// Add stores a value under the next auto-increment key
func (s *PebbleStorage) Add(ctx context.Context, collection string, value []byte) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return 0, err
	}
	if err := s.requireCollection(collection); err != nil {
		return 0, err
	}

	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	key, err := s.nextSequence(collection)
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(RecordKey(collection, key), value, nil); err != nil {
		return 0, fmt.Errorf("failed to set record: %w", err)
	}
	if err := batch.Set(SequenceKey(collection), EncodeUint64(key+1), nil); err != nil {
		return 0, fmt.Errorf("failed to set sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	return key, nil
}

// Put stores a value under an explicit key.
// Keys at or above the auto-increment sequence advance it past the key.
func (s *PebbleStorage) Put(ctx context.Context, collection string, key uint64, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return err
	}
	if err := s.requireCollection(collection); err != nil {
		return err
	}

	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	seq, err := s.nextSequence(collection)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(RecordKey(collection, key), value, nil); err != nil {
		return fmt.Errorf("failed to set record: %w", err)
	}
	if key >= seq && key < ^uint64(0) {
		if err := batch.Set(SequenceKey(collection), EncodeUint64(key+1), nil); err != nil {
			return fmt.Errorf("failed to set sequence: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	return nil
}

// Get returns the value stored under a key
func (s *PebbleStorage) Get(ctx context.Context, collection string, key uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	if err := s.requireCollection(collection); err != nil {
		return nil, err
	}

	value, closer, err := s.db.Get(RecordKey(collection, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Delete removes a key
func (s *PebbleStorage) Delete(ctx context.Context, collection string, key uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return err
	}
	if err := s.requireCollection(collection); err != nil {
		return err
	}

	if err := s.db.Delete(RecordKey(collection, key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Count returns the number of records in a collection
func (s *PebbleStorage) Count(ctx context.Context, collection string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}
	if err := s.requireCollection(collection); err != nil {
		return 0, err
	}

	lower, upper := RecordKeyRange(collection)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var count uint64
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}

	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterator error: %w", err)
	}

	return count, nil
}

// BeginRead opens a snapshot-backed read transaction
func (s *PebbleStorage) BeginRead(ctx context.Context, collections ...string) (ReadTxn, error) {
	if len(collections) == 0 {
		return nil, fmt.Errorf("%w: no collections named", ErrInvalidCollection)
	}
	for _, name := range collections {
		if err := ValidateCollectionName(name); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	snap := s.db.NewSnapshot()
	scope := make(map[string]struct{}, len(collections))
	for _, name := range collections {
		ok, err := hasKey(snap, CollectionKey(name))
		if err != nil || !ok {
			snap.Close()
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		scope[name] = struct{}{}
	}

	s.txns.Add(1)
	s.logger.Debug("read transaction opened", zap.Strings("collections", collections))

	return &pebbleReadTxn{
		storage: s,
		snap:    snap,
		scope:   scope,
	}, nil
}

// pebbleReadTxn is a read-only transaction over a Pebble snapshot
type pebbleReadTxn struct {
	storage *PebbleStorage
	snap    *pebble.Snapshot
	scope   map[string]struct{}

	mu      sync.Mutex
	cursors []*pebbleCursor
	closed  bool
}

func (t *pebbleReadTxn) Cursor(collection string) (Cursor, error) {
	if _, ok := t.scope[collection]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInScope, collection)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTxnClosed
	}

	s := t.storage
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return nil, ErrTxnAborted
	}

	lower, upper := RecordKeyRange(collection)
	iter, err := t.snap.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}

	cur := &pebbleCursor{txn: t, iter: iter}
	t.cursors = append(t.cursors, cur)
	return cur, nil
}

func (t *pebbleReadTxn) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	for _, cur := range t.cursors {
		if err := cur.release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.cursors = nil

	if err := t.snap.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close snapshot: %w", err)
	}

	t.storage.txns.Done()
	return firstErr
}

// pebbleCursor walks a bounded snapshot iterator.
// A cursor is used by one goroutine at a time.
type pebbleCursor struct {
	txn     *pebbleReadTxn
	iter    *pebble.Iterator
	started bool
	done    bool
	key     uint64
	value   []byte
	err     error
}

func (c *pebbleCursor) Next() bool {
	if c.done || c.iter == nil {
		return false
	}

	s := c.txn.storage
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		s.logger.Debug("read transaction aborted by close")
		return c.stop(ErrTxnAborted)
	}

	var ok bool
	if !c.started {
		c.started = true
		ok = c.iter.First()
	} else {
		ok = c.iter.Next()
	}
	if !ok {
		if err := c.iter.Error(); err != nil {
			return c.stop(fmt.Errorf("iterator error: %w", err))
		}
		return c.stop(nil)
	}

	_, pk, err := ParseRecordKey(c.iter.Key())
	if err != nil {
		return c.stop(err)
	}

	c.key = pk
	c.value = append(c.value[:0:0], c.iter.Value()...)
	return true
}

func (c *pebbleCursor) stop(err error) bool {
	c.done = true
	c.err = err
	c.key = 0
	c.value = nil
	return false
}

func (c *pebbleCursor) Key() uint64   { return c.key }
func (c *pebbleCursor) Value() []byte { return c.value }
func (c *pebbleCursor) Err() error    { return c.err }

func (c *pebbleCursor) Close() error {
	c.txn.mu.Lock()
	defer c.txn.mu.Unlock()
	return c.release()
}

// release closes the iterator. Callers hold c.txn.mu.
func (c *pebbleCursor) release() error {
	if c.iter == nil {
		return nil
	}
	err := c.iter.Close()
	c.iter = nil
	c.done = true
	return err
}
