package storage

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// change is a pending write of an open transaction.
type change struct {
	value   []byte
	deleted bool
}

// MemoryStore is a Store kept in process memory. An open transaction
// is an overlay of pending changes applied on Commit.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	pending map[string]change
	closed  bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// lookup reads key through the overlay. The caller holds mu.
func (s *MemoryStore) lookup(key string) ([]byte, bool) {
	if c, ok := s.pending[key]; ok {
		return c.value, !c.deleted
	}
	v, ok := s.data[key]
	return v, ok
}

// view returns the visible entries under prefix. The caller holds mu.
func (s *MemoryStore) view(prefix []byte) map[string][]byte {
	out := make(map[string][]byte)
	for k, v := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			out[k] = v
		}
	}
	for k, c := range s.pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if c.deleted {
			delete(out, k)
		} else {
			out[k] = c.value
		}
	}
	return out
}

func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.lookup(string(key))
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Has(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.lookup(string(key))
	return ok, nil
}

func (s *MemoryStore) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	value = append([]byte(nil), value...)
	if s.pending != nil {
		s.pending[string(key)] = change{value: value}
		return nil
	}
	s.data[string(key)] = value
	return nil
}

func (s *MemoryStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.pending != nil {
		s.pending[string(key)] = change{deleted: true}
		return nil
	}
	delete(s.data, string(key))
	return nil
}

func (s *MemoryStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	type entry struct{ k, v []byte }

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	visible := s.view(prefix)
	entries := make([]entry, 0, len(visible))
	for k, v := range visible {
		entries = append(entries, entry{k: []byte(k), v: append([]byte(nil), v...)})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].k, entries[j].k) < 0 })
	for _, e := range entries {
		if err := fn(e.k, e.v); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *MemoryStore) DeletePrefix(prefix []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.pending != nil {
		for k := range s.view(prefix) {
			s.pending[k] = change{deleted: true}
		}
		return nil
	}
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *MemoryStore) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.pending != nil {
		return ErrTxnActive
	}
	s.pending = make(map[string]change)
	return nil
}

func (s *MemoryStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ErrNoTxn
	}
	for k, c := range s.pending {
		if c.deleted {
			delete(s.data, k)
		} else {
			s.data[k] = c.value
		}
	}
	s.pending = nil
	return nil
}

func (s *MemoryStore) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ErrNoTxn
	}
	s.pending = nil
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	return nil
}

// Len returns the number of visible keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.view(nil))
}
