package storage

import (
	"strings"

	"github.com/pkg/errors"
)

// Store is an ordered byte-keyed store.
type Store interface {
	// Get returns the value under key or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Has reports whether key is present.
	Has(key []byte) (bool, error)

	// Put stores value under key, replacing any previous value.
	Put(key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// Iterate calls fn for every entry whose key starts with prefix, in
	// ascending key order. The entries are read before the first call so
	// fn may mutate the store. Returning ErrStopIteration ends the walk.
	Iterate(prefix []byte, fn func(key, value []byte) error) error

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(prefix []byte) error

	// Begin starts a transaction. Until Commit or Rollback every read
	// sees the transaction's own writes and no write is durable.
	// Transactions do not nest.
	Begin() error

	// Commit makes the writes of the current transaction durable.
	Commit() error

	// Rollback discards the writes of the current transaction.
	Rollback() error

	// Close releases the backend.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open returns a store for the named backend. path is ignored by the
// memory backend.
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "backend %q", backend)
	}
}

// prefixEnd returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
