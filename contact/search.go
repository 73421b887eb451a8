package contact

import (
	"context"
	"fmt"
	"strings"

	"github.com/0xmhha/contactstore/internal/constants"
	"github.com/0xmhha/contactstore/storage"
)

// RecordPolicy decides what a search does with a record that is not a valid contact
type RecordPolicy string

const (
	// PolicyStrict fails the search with ErrRecord
	PolicyStrict RecordPolicy = constants.RecordPolicyStrict

	// PolicySkip leaves the record out of the result and keeps scanning
	PolicySkip RecordPolicy = constants.RecordPolicySkip
)

// ParseRecordPolicy parses "strict" or "skip". The empty string is strict.
func ParseRecordPolicy(s string) (RecordPolicy, error) {
	switch RecordPolicy(s) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicySkip:
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Options tunes a scan
type Options struct {
	// Collection to scan (default: "contacts")
	Collection string

	// Policy for malformed records (default: strict)
	Policy RecordPolicy

	// OnSkip is called for every record left out under PolicySkip
	OnSkip func(key uint64, err error)
}

// Stats counts what a scan saw
type Stats struct {
	Visited int
	Matched int
	Skipped int
}

// SearchContacts returns every contact in the "contacts" collection whose
// name or email contains query, ignoring case, in ascending key order.
// The whole collection is scanned inside one read transaction.
// On failure no contacts are returned and the error is a *SearchError.
func SearchContacts(ctx context.Context, store storage.Store, query string) ([]Contact, error) {
	contacts, _, err := Scan(ctx, store, query, Options{})
	return contacts, err
}

// Scan is SearchContacts with options and scan statistics.
// Stats are filled in even when the scan fails.
func Scan(ctx context.Context, store storage.Store, query string, opts Options) ([]Contact, Stats, error) {
	var stats Stats

	collection := opts.Collection
	if collection == "" {
		collection = constants.ContactsCollection
	}

	if store == nil {
		return nil, stats, &SearchError{Kind: ErrConnection, Err: ErrNilStore}
	}

	txn, err := store.BeginRead(ctx, collection)
	if err != nil {
		return nil, stats, &SearchError{Kind: ErrConnection, Err: err}
	}
	defer txn.Close()

	cur, err := txn.Cursor(collection)
	if err != nil {
		return nil, stats, &SearchError{Kind: ErrTransaction, Err: fmt.Errorf("failed to open cursor: %w", err)}
	}
	defer cur.Close()

	needle := strings.ToLower(query)
	results := make([]Contact, 0)

	for cur.Next() {
		stats.Visited++

		c, err := DecodeContact(cur.Key(), cur.Value())
		if err != nil {
			if opts.Policy == PolicySkip {
				stats.Skipped++
				if opts.OnSkip != nil {
					opts.OnSkip(cur.Key(), err)
				}
				continue
			}
			return nil, stats, &SearchError{Kind: ErrRecord, Key: cur.Key(), Err: err}
		}

		if c.matchesLower(needle) {
			results = append(results, c)
			stats.Matched++
		}
	}

	if err := cur.Err(); err != nil {
		return nil, stats, &SearchError{Kind: ErrTransaction, Err: err}
	}

	return results, stats, nil
}
