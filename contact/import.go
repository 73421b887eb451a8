package contact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/0xmhha/contactstore/internal/constants"
	"github.com/0xmhha/contactstore/storage"
	"gopkg.in/yaml.v3"
)

// Import reads a YAML or JSON list of contact objects from r and adds each
// one to the "contacts" collection under a new key, creating the collection
// if needed. Every entry is validated before anything is written.
func Import(ctx context.Context, w storage.Writer, r io.Reader) (int, error) {
	return ImportInto(ctx, w, constants.ContactsCollection, r)
}

// ImportInto is Import for a named collection
func ImportInto(ctx context.Context, w storage.Writer, collection string, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed: %w", err)
	}

	// YAML is a superset of JSON, so one decoder handles both
	var entries []map[string]interface{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("failed to parse seed: %w", err)
	}

	values := make([][]byte, 0, len(entries))
	for i, entry := range entries {
		value, err := json.Marshal(entry)
		if err != nil {
			return 0, fmt.Errorf("seed entry %d: %w", i, err)
		}
		if _, err := DecodeContact(0, value); err != nil {
			return 0, fmt.Errorf("seed entry %d: %w", i, err)
		}
		values = append(values, value)
	}

	if err := w.CreateCollection(ctx, collection); err != nil {
		return 0, fmt.Errorf("failed to create collection %q: %w", collection, err)
	}

	for i, value := range values {
		if _, err := w.Add(ctx, collection, value); err != nil {
			return i, fmt.Errorf("failed to add seed entry %d: %w", i, err)
		}
	}

	return len(values), nil
}
