package storage

import (
	"github.com/pkg/errors"
)

// Map is a typed key-value collection under a fixed prefix.
type Map[K Key, V any] struct {
	store  Store
	prefix []byte
}

// NewMap returns a map stored under prefix.
func NewMap[K Key, V any](store Store, prefix string) Map[K, V] {
	return Map[K, V]{store: store, prefix: []byte(prefix)}
}

func (m Map[K, V]) key(k K) []byte {
	return concat(m.prefix, k.Bytes())
}

// Get returns the value under k and whether it exists.
func (m Map[K, V]) Get(k K) (V, bool, error) {
	var out V
	b, err := m.store.Get(m.key(k))
	if errors.Is(err, ErrNotFound) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := Decode(b, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

// Contains reports whether k is present.
func (m Map[K, V]) Contains(k K) (bool, error) {
	return m.store.Has(m.key(k))
}

// Insert stores v under k, replacing any previous value.
func (m Map[K, V]) Insert(k K, v V) error {
	b, err := Encode(v)
	if err != nil {
		return err
	}
	return m.store.Put(m.key(k), b)
}

// Remove deletes k.
func (m Map[K, V]) Remove(k K) error {
	return m.store.Delete(m.key(k))
}

// Take returns the value under k and deletes it.
func (m Map[K, V]) Take(k K) (V, bool, error) {
	out, ok, err := m.Get(k)
	if err != nil || !ok {
		return out, ok, err
	}
	return out, true, m.Remove(k)
}

// Iter calls fn for every entry in key order. key is the raw key
// without the map prefix.
func (m Map[K, V]) Iter(fn func(key []byte, v V) error) error {
	return m.store.Iterate(m.prefix, func(k, b []byte) error {
		var v V
		if err := Decode(b, &v); err != nil {
			return err
		}
		return fn(k[len(m.prefix):], v)
	})
}

// Count returns the number of entries.
func (m Map[K, V]) Count() (uint64, error) {
	var n uint64
	err := m.store.Iterate(m.prefix, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Clear removes every entry.
func (m Map[K, V]) Clear() error {
	return m.store.DeletePrefix(m.prefix)
}

// DoubleMap is a typed collection keyed by (K1, K2). K1 must have a fixed
// byte length so that entries sharing a K1 are contiguous.
type DoubleMap[K1 Key, K2 Key, V any] struct {
	store  Store
	prefix []byte
}

// NewDoubleMap returns a double map stored under prefix.
func NewDoubleMap[K1 Key, K2 Key, V any](store Store, prefix string) DoubleMap[K1, K2, V] {
	return DoubleMap[K1, K2, V]{store: store, prefix: []byte(prefix)}
}

func (m DoubleMap[K1, K2, V]) key(k1 K1, k2 K2) []byte {
	return concat(m.prefix, k1.Bytes(), k2.Bytes())
}

func (m DoubleMap[K1, K2, V]) first(k1 K1) []byte {
	return concat(m.prefix, k1.Bytes())
}

// Get returns the value under (k1, k2) and whether it exists.
func (m DoubleMap[K1, K2, V]) Get(k1 K1, k2 K2) (V, bool, error) {
	var out V
	b, err := m.store.Get(m.key(k1, k2))
	if errors.Is(err, ErrNotFound) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := Decode(b, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

// Contains reports whether (k1, k2) is present.
func (m DoubleMap[K1, K2, V]) Contains(k1 K1, k2 K2) (bool, error) {
	return m.store.Has(m.key(k1, k2))
}

// Insert stores v under (k1, k2).
func (m DoubleMap[K1, K2, V]) Insert(k1 K1, k2 K2, v V) error {
	b, err := Encode(v)
	if err != nil {
		return err
	}
	return m.store.Put(m.key(k1, k2), b)
}

// Remove deletes (k1, k2).
func (m DoubleMap[K1, K2, V]) Remove(k1 K1, k2 K2) error {
	return m.store.Delete(m.key(k1, k2))
}

// Take returns the value under (k1, k2) and deletes it.
func (m DoubleMap[K1, K2, V]) Take(k1 K1, k2 K2) (V, bool, error) {
	out, ok, err := m.Get(k1, k2)
	if err != nil || !ok {
		return out, ok, err
	}
	return out, true, m.Remove(k1, k2)
}

// IterPrefix calls fn for every entry under k1 in key order.
func (m DoubleMap[K1, K2, V]) IterPrefix(k1 K1, fn func(v V) error) error {
	return m.store.Iterate(m.first(k1), func(_, b []byte) error {
		var v V
		if err := Decode(b, &v); err != nil {
			return err
		}
		return fn(v)
	})
}

// Iter calls fn for every entry in key order.
func (m DoubleMap[K1, K2, V]) Iter(fn func(v V) error) error {
	return m.store.Iterate(m.prefix, func(_, b []byte) error {
		var v V
		if err := Decode(b, &v); err != nil {
			return err
		}
		return fn(v)
	})
}

// DrainPrefix removes and returns every entry under k1 in key order.
func (m DoubleMap[K1, K2, V]) DrainPrefix(k1 K1) ([]V, error) {
	var out []V
	if err := m.IterPrefix(k1, func(v V) error {
		out = append(out, v)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := m.store.DeletePrefix(m.first(k1)); err != nil {
		return nil, err
	}
	return out, nil
}

// RemovePrefix deletes every entry under k1.
func (m DoubleMap[K1, K2, V]) RemovePrefix(k1 K1) error {
	return m.store.DeletePrefix(m.first(k1))
}

// CountPrefix returns the number of entries under k1.
func (m DoubleMap[K1, K2, V]) CountPrefix(k1 K1) (uint64, error) {
	var n uint64
	err := m.store.Iterate(m.first(k1), func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Count returns the number of entries.
func (m DoubleMap[K1, K2, V]) Count() (uint64, error) {
	var n uint64
	err := m.store.Iterate(m.prefix, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Clear removes every entry.
func (m DoubleMap[K1, K2, V]) Clear() error {
	return m.store.DeletePrefix(m.prefix)
}
