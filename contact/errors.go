package contact

import (
	"errors"
	"fmt"
)

// Error kinds reported by a search. Every search failure matches exactly one.
var (
	// ErrConnection means no read transaction could be opened on the store.
	// Nothing was read.
	ErrConnection = errors.New("connection error")

	// ErrTransaction means the read transaction failed or was aborted
	// during the scan. Partial results are discarded.
	ErrTransaction = errors.New("transaction error")

	// ErrRecord means a visited record was not a valid contact
	ErrRecord = errors.New("record error")
)

var (
	// ErrMalformedRecord is returned when a stored value is not a contact object
	ErrMalformedRecord = errors.New("malformed contact record")

	// ErrNilStore is returned when searching without a store
	ErrNilStore = errors.New("store is nil")

	// ErrInvalidPolicy is returned when parsing an unknown record policy
	ErrInvalidPolicy = errors.New("invalid record policy")
)

// Kind names used on the wire
const (
	KindConnection  = "connection"
	KindTransaction = "transaction"
	KindRecord      = "record"
)

// SearchError wraps a search failure with its kind
type SearchError struct {
	Kind error
	// Key is the primary key of the offending record for ErrRecord
	Key uint64
	Err error
}

// Error implements the error interface.
func (e *SearchError) Error() string {
	if e.Kind == ErrRecord {
		return fmt.Sprintf("contact search: %v: key %d: %v", e.Kind, e.Key, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("contact search: %v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("contact search: %v", e.Kind)
}

// Unwrap returns the underlying error.
func (e *SearchError) Unwrap() error {
	return e.Err
}

// Is checks if the target error matches.
func (e *SearchError) Is(target error) bool {
	return errors.Is(e.Kind, target) || errors.Is(e.Err, target)
}

// KindOf returns the wire name of a search error's kind, or "" for other errors
func KindOf(err error) string {
	var se *SearchError
	if !errors.As(err, &se) {
		return ""
	}
	switch se.Kind {
	case ErrConnection:
		return KindConnection
	case ErrTransaction:
		return KindTransaction
	case ErrRecord:
		return KindRecord
	default:
		return ""
	}
}
