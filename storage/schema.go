package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Key prefixes for different data types
const (
	prefixMeta        = "/meta/"
	prefixData        = "/data/"
	prefixCollections = "/meta/coll/"
	prefixSequences   = "/meta/seq/"
)

// MaxCollectionNameLength bounds collection names
const MaxCollectionNameLength = 128

// ValidateCollectionName checks that a name can be embedded in a key
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCollection)
	}
	if len(name) > MaxCollectionNameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidCollection, MaxCollectionNameLength)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidCollection, name)
	}
	return nil
}

// CollectionKey returns the registry key marking a collection as existing
// Format: /meta/coll/{name}
func CollectionKey(name string) []byte {
	return []byte(prefixCollections + name)
}

// SequenceKey returns the key holding the next auto-increment key of a collection
// Format: /meta/seq/{name}
func SequenceKey(name string) []byte {
	return []byte(prefixSequences + name)
}

// RecordKey returns the key for storing a record
// Format: /data/{collection}/{key}
// Uses zero-padded fixed-width format for proper lexicographic sorting
func RecordKey(collection string, key uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefixData, collection, key))
}

// RecordKeyPrefix returns the key prefix shared by all records of a collection
func RecordKeyPrefix(collection string) []byte {
	return []byte(fmt.Sprintf("%s%s/", prefixData, collection))
}

// RecordKeyRange returns the [lower, upper) bounds covering a collection
func RecordKeyRange(collection string) ([]byte, []byte) {
	prefix := RecordKeyPrefix(collection)
	// Must copy to avoid modifying the prefix slice
	upper := make([]byte, len(prefix), len(prefix)+1)
	copy(upper, prefix)
	upper = append(upper, 0xff)
	return prefix, upper
}

// ParseRecordKey parses a record key and returns the collection and primary key
func ParseRecordKey(key []byte) (string, uint64, error) {
	keyStr := string(key)
	if !strings.HasPrefix(keyStr, prefixData) {
		return "", 0, fmt.Errorf("%w: invalid record key prefix: %s", ErrInvalidKey, keyStr)
	}

	rest := strings.TrimPrefix(keyStr, prefixData)
	idx := strings.LastIndexByte(rest, '/')
	if idx <= 0 || idx == len(rest)-1 {
		return "", 0, fmt.Errorf("%w: invalid record key format: %s", ErrInvalidKey, keyStr)
	}

	pk, err := strconv.ParseUint(rest[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: invalid record key number: %v", ErrInvalidKey, err)
	}

	return rest[:idx], pk, nil
}

// EncodeUint64 encodes uint64 to bytes in big-endian format
func EncodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeUint64 decodes bytes to uint64 in big-endian format
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 data length: %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// IsMetadataKey checks if key is a metadata key
func IsMetadataKey(key []byte) bool {
	return bytes.HasPrefix(key, []byte(prefixMeta))
}

// IsDataKey checks if key is a data key
func IsDataKey(key []byte) bool {
	return bytes.HasPrefix(key, []byte(prefixData))
}
