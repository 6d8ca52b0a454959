package storage

import "github.com/pkg/errors"

// Key is anything with a canonical byte form.
type Key interface {
	Bytes() []byte
}

// Value is a singleton typed cell at a fixed key.
type Value[T any] struct {
	store Store
	key   []byte
}

// NewValue returns a typed cell stored at key.
func NewValue[T any](store Store, key string) Value[T] {
	return Value[T]{store: store, key: []byte(key)}
}

// Get returns the stored value and whether it exists.
func (v Value[T]) Get() (T, bool, error) {
	var out T
	b, err := v.store.Get(v.key)
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

// Put stores val.
func (v Value[T]) Put(val T) error {
	b, err := Encode(val)
	if err != nil {
		return err
	}
	return v.store.Put(v.key, b)
}

// Take returns the stored value and removes it.
func (v Value[T]) Take() (T, bool, error) {
	out, ok, err := v.Get()
	if err != nil || !ok {
		return out, ok, err
	}
	return out, true, v.store.Delete(v.key)
}

// Exists reports whether a value is stored.
func (v Value[T]) Exists() (bool, error) {
	return v.store.Has(v.key)
}

// Kill removes the stored value.
func (v Value[T]) Kill() error {
	return v.store.Delete(v.key)
}
