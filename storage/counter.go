package storage

import "math"

// Counter is a persisted uint32 counter. An absent counter reads as zero.
type Counter struct {
	v Value[uint32]
}

// NewCounter returns a counter stored at key.
func NewCounter(store Store, key string) Counter {
	return Counter{v: NewValue[uint32](store, key)}
}

// Get returns the current count.
func (c Counter) Get() (uint32, error) {
	n, _, err := c.v.Get()
	return n, err
}

// Increase adds one, saturating at the maximum.
func (c Counter) Increase() error {
	n, err := c.Get()
	if err != nil {
		return err
	}
	if n == math.MaxUint32 {
		return nil
	}
	return c.v.Put(n + 1)
}

// Decrease subtracts one, saturating at zero.
func (c Counter) Decrease() error {
	n, err := c.Get()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return c.v.Put(n - 1)
}

// Reset sets the counter back to zero.
func (c Counter) Reset() error {
	return c.v.Kill()
}

// Toggle is a persisted boolean flag. An absent toggle reads as allowed.
type Toggle struct {
	v Value[bool]
}

// NewToggle returns a toggle stored at key.
func NewToggle(store Store, key string) Toggle {
	return Toggle{v: NewValue[bool](store, key)}
}

// Allowed reports the current state.
func (t Toggle) Allowed() (bool, error) {
	allowed, ok, err := t.v.Get()
	if err != nil {
		return false, err
	}
	return !ok || allowed, nil
}

// Allow sets the flag.
func (t Toggle) Allow() error {
	return t.v.Kill()
}

// Deny clears the flag.
func (t Toggle) Deny() error {
	return t.v.Put(false)
}
