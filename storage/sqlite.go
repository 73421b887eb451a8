package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Ensure SQLiteStorage implements Storage
var _ Storage = (*SQLiteStorage)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name     TEXT PRIMARY KEY,
	next_key INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS records (
	collection TEXT    NOT NULL,
	key        INTEGER NOT NULL,
	value      BLOB    NOT NULL,
	PRIMARY KEY (collection, key)
) WITHOUT ROWID;
`

// SQLiteStorage implements Storage on a single SQLite file
type SQLiteStorage struct {
	db     *sql.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	mu   sync.RWMutex
	txns sync.WaitGroup
}

// NewSQLiteStorage opens (and if needed initializes) a SQLite storage
func NewSQLiteStorage(cfg *Config) (*SQLiteStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dsn := "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if cfg.ReadOnly {
		dsn = "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=query_only(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if !cfg.ReadOnly {
		if _, err := db.Exec(sqliteSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLiteStorage{
		db:     db,
		config: cfg,
		logger: zap.NewNop(),
	}, nil
}

// SetLogger sets the logger for the storage
func (s *SQLiteStorage) SetLogger(logger *zap.Logger) {
	s.logger = logger
}

func (s *SQLiteStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *SQLiteStorage) ensureNotReadOnly() error {
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// Close aborts open read transactions, waits for their release, then
// closes the database
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed.Swap(true) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.txns.Wait()
	return s.db.Close()
}

// sqlKey converts a primary key to SQLite's signed INTEGER
func sqlKey(key uint64) (int64, error) {
	if key > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d exceeds the sqlite key range", ErrInvalidKey, key)
	}
	return int64(key), nil
}

// CreateCollection registers a collection
func (s *SQLiteStorage) CreateCollection(ctx context.Context, name string) error {
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

	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO collections (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// HasCollection reports whether a collection exists
func (s *SQLiteStorage) HasCollection(ctx context.Context, name string) (bool, error) {
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return false, err
	}

	return s.hasCollection(ctx, s.db, name)
}

// querier is the read surface shared by *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStorage) hasCollection(ctx context.Context, q querier, name string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE name = ?`, name).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up collection: %w", err)
	}
	return true, nil
}

func (s *SQLiteStorage) requireCollection(ctx context.Context, q querier, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	ok, err := s.hasCollection(ctx, q, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return nil
}

// Add stores a value under the next auto-increment key
func (s *SQLiteStorage) Add(ctx context.Context, collection string, value []byte) (uint64, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx, `SELECT next_key FROM collections WHERE name = ?`, collection).Scan(&next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return 0, fmt.Errorf("failed to get sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO records (collection, key, value) VALUES (?, ?, ?)`, collection, next, value); err != nil {
		return 0, fmt.Errorf("failed to set record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE collections SET next_key = ? WHERE name = ?`, next+1, collection); err != nil {
		return 0, fmt.Errorf("failed to set sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return uint64(next), nil
}

// Put stores a value under an explicit key
func (s *SQLiteStorage) Put(ctx context.Context, collection string, key uint64, value []byte) error {
	k, err := sqlKey(key)
	if err != nil {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.requireCollection(ctx, tx, collection); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO records (collection, key, value) VALUES (?, ?, ?)`, collection, k, value); err != nil {
		return fmt.Errorf("failed to set record: %w", err)
	}
	if k < math.MaxInt64 {
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET next_key = ? WHERE name = ? AND next_key <= ?`, k+1, collection, k); err != nil {
			return fmt.Errorf("failed to set sequence: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get returns the value stored under a key
func (s *SQLiteStorage) Get(ctx context.Context, collection string, key uint64) ([]byte, error) {
	k, err := sqlKey(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	if err := s.requireCollection(ctx, s.db, collection); err != nil {
		return nil, err
	}

	var value []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM records WHERE collection = ? AND key = ?`, collection, k).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return value, nil
}

// Delete removes a key
func (s *SQLiteStorage) Delete(ctx context.Context, collection string, key uint64) error {
	k, err := sqlKey(key)
	if err != nil {
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
	if err := s.requireCollection(ctx, s.db, collection); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND key = ?`, collection, k); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Count returns the number of records in a collection
func (s *SQLiteStorage) Count(ctx context.Context, collection string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}
	if err := s.requireCollection(ctx, s.db, collection); err != nil {
		return 0, err
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return uint64(count), nil
}

// BeginRead opens a SQL transaction used only for reads.
// The transaction is detached from ctx cancellation: once opened it lives
// until Close.
func (s *SQLiteStorage) BeginRead(ctx context.Context, collections ...string) (ReadTxn, error) {
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

	txCtx := context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	scope := make(map[string]struct{}, len(collections))
	for _, name := range collections {
		if err := s.requireCollection(txCtx, tx, name); err != nil {
			tx.Rollback()
			return nil, err
		}
		scope[name] = struct{}{}
	}

	s.txns.Add(1)
	s.logger.Debug("read transaction opened", zap.Strings("collections", collections))

	return &sqliteReadTxn{
		storage: s,
		ctx:     txCtx,
		tx:      tx,
		scope:   scope,
	}, nil
}

// sqliteReadTxn is a read-only use of a SQL transaction
type sqliteReadTxn struct {
	storage *SQLiteStorage
	ctx     context.Context
	tx      *sql.Tx
	scope   map[string]struct{}

	mu      sync.Mutex
	cursors []*sqliteCursor
	closed  bool
}

func (t *sqliteReadTxn) Cursor(collection string) (Cursor, error) {
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

	rows, err := t.tx.QueryContext(t.ctx, `SELECT key, value FROM records WHERE collection = ? ORDER BY key ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	cur := &sqliteCursor{txn: t, rows: rows}
	t.cursors = append(t.cursors, cur)
	return cur, nil
}

func (t *sqliteReadTxn) Close() error {
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

	// Nothing was written, so rolling back only ends the transaction
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) && firstErr == nil {
		firstErr = fmt.Errorf("failed to end transaction: %w", err)
	}

	t.storage.txns.Done()
	return firstErr
}

// sqliteCursor walks an ordered result set
type sqliteCursor struct {
	txn   *sqliteReadTxn
	rows  *sql.Rows
	done  bool
	key   uint64
	value []byte
	err   error
}

func (c *sqliteCursor) Next() bool {
	if c.done || c.rows == nil {
		return false
	}

	s := c.txn.storage
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		s.logger.Debug("read transaction aborted by close")
		return c.stop(ErrTxnAborted)
	}

	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return c.stop(fmt.Errorf("cursor error: %w", err))
		}
		return c.stop(nil)
	}

	var (
		key   int64
		value []byte
	)
	if err := c.rows.Scan(&key, &value); err != nil {
		return c.stop(fmt.Errorf("%w: %v", ErrInvalidData, err))
	}
	if key < 0 {
		return c.stop(fmt.Errorf("%w: negative key %d", ErrInvalidKey, key))
	}

	c.key = uint64(key)
	c.value = value
	return true
}

func (c *sqliteCursor) stop(err error) bool {
	c.done = true
	c.err = err
	c.key = 0
	c.value = nil
	return false
}

func (c *sqliteCursor) Key() uint64   { return c.key }
func (c *sqliteCursor) Value() []byte { return c.value }
func (c *sqliteCursor) Err() error    { return c.err }

func (c *sqliteCursor) Close() error {
	c.txn.mu.Lock()
	defer c.txn.mu.Unlock()
	return c.release()
}

func (c *sqliteCursor) release() error {
	if c.rows == nil {
		return nil
	}
	err := c.rows.Close()
	c.rows = nil
	c.done = true
	return err
}
