package testutil

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/0xmhha/contactstore/internal/constants"
	"github.com/0xmhha/contactstore/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Record is a raw contact object as stored in a collection
type Record map[string]interface{}

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// NewTestStorage opens a storage engine in a temp directory with an empty
// contacts collection. The storage is closed on test cleanup.
func NewTestStorage(t *testing.T, backend string) storage.Storage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "db")
	if backend == storage.BackendSQLite {
		path += ".sqlite"
	}

	cfg := storage.DefaultConfig(path)
	cfg.Backend = backend
	cfg.Cache = 8

	st, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open %s storage: %v", backend, err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.CreateCollection(context.Background(), constants.ContactsCollection); err != nil {
		t.Fatalf("Failed to create contacts collection: %v", err)
	}
	return st
}

// Backends lists every storage engine for table-driven tests
func Backends() []string {
	return []string{storage.BackendPebble, storage.BackendSQLite}
}

// NewContact builds a well-formed contact record
func NewContact(name, email string) Record {
	return Record{"name": name, "email": email}
}

// SampleContacts returns a small fixed collection in insertion order
func SampleContacts() []Record {
	return []Record{
		NewContact("Bob Smith", "bob@x.com"),
		NewContact("Ann Lee", "ann@bob.com"),
		NewContact("Carol Díaz", "carol@example.org"),
		NewContact("dave", "DAVE@EXAMPLE.ORG"),
	}
}

// MustEncode marshals a record to JSON or fails the test
func MustEncode(t *testing.T, r Record) []byte {
	t.Helper()
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Failed to encode record: %v", err)
	}
	return data
}

// Fill adds records to the collection and returns their assigned keys
func Fill(t *testing.T, w storage.Writer, collection string, records ...Record) []uint64 {
	t.Helper()
	keys := make([]uint64, 0, len(records))
	for _, r := range records {
		key, err := w.Add(context.Background(), collection, MustEncode(t, r))
		if err != nil {
			t.Fatalf("Failed to add record: %v", err)
		}
		keys = append(keys, key)
	}
	return keys
}
