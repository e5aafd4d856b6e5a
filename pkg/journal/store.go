// Package journal keeps a per-session record of what a cmtspeech connection
// did: protocol rows, recoveries, watchdog cleanups and control signals.
//
// Records are msgpack encoded and stored under hierarchical keys
// (["cmtspeech", "journal", <session>, <seq>]) in a Store. Badger backs
// the on-disk journal; Memory serves tests and short-lived bridges.
package journal

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("journal: not found")

// Key is a hierarchical path. Segments must not contain the separator.
type Key []string

// String returns the key joined with ':'.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Entry is a key-value pair returned by List and used by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path-based keys.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a key-value pair.
	Set(ctx context.Context, key Key, value []byte) error

	// List iterates over all entries whose key starts with prefix, in
	// lexicographic order of the encoded key.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet atomically stores multiple key-value pairs.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete atomically removes multiple keys.
	BatchDelete(ctx context.Context, keys []Key) error

	Close() error
}

const separator byte = ':'

func encodeKey(k Key) []byte {
	n := 0
	for i, seg := range k {
		if i > 0 {
			n++
		}
		n += len(seg)
	}
	buf := make([]byte, 0, n)
	for i, seg := range k {
		if i > 0 {
			buf = append(buf, separator)
		}
		buf = append(buf, seg...)
	}
	return buf
}

func decodeKey(b []byte) Key {
	return Key(strings.Split(string(b), string(separator)))
}

// prefixBytes appends the separator so "a:b" does not match "a:bc". An
// empty prefix matches everything.
func prefixBytes(prefix Key) []byte {
	p := encodeKey(prefix)
	if len(p) == 0 {
		return nil
	}
	return append(p, separator)
}
