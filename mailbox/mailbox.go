// Package mailbox stores messages addressed to user accounts, keyed by
// recipient and message id.
package mailbox

import (
	"errors"
	"fmt"

	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/storage"
)

var (
	// ErrDuplicateKey is returned when inserting an already present message.
	ErrDuplicateKey = errors.New("mailbox: duplicate key")

	// ErrElementNotFound is returned when removing an absent message.
	ErrElementNotFound = errors.New("mailbox: element not found")
)

// Callbacks hook into insertion and removal. OnInsert runs before the
// message is stored and OnRemove after it is taken; an error from either
// leaves the mailbox unchanged.
type Callbacks struct {
	OnInsert func(core.StoredMessage) error
	OnRemove func(core.StoredMessage) error
}

// Mailbox is a durable per-recipient message store.
type Mailbox struct {
	entries storage.DoubleMap[core.ProgramID, core.MessageID, core.StoredMessage]
	cb      Callbacks
}

// New returns a mailbox persisted under prefix.
func New(store storage.Store, prefix string, cb Callbacks) *Mailbox {
	return &Mailbox{
		entries: storage.NewDoubleMap[core.ProgramID, core.MessageID, core.StoredMessage](store, prefix),
		cb:      cb,
	}
}

// Contains reports whether recipient has message id.
func (m *Mailbox) Contains(recipient core.ProgramID, id core.MessageID) (bool, error) {
	return m.entries.Contains(recipient, id)
}

// Get returns the message without removing it.
func (m *Mailbox) Get(recipient core.ProgramID, id core.MessageID) (core.StoredMessage, bool, error) {
	return m.entries.Get(recipient, id)
}

// Insert stores msg under its destination.
func (m *Mailbox) Insert(msg core.StoredMessage) error {
	exists, err := m.entries.Contains(msg.Destination, msg.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s for %s", ErrDuplicateKey, msg.ID, msg.Destination)
	}
	if m.cb.OnInsert != nil {
		if err := m.cb.OnInsert(msg); err != nil {
			return err
		}
	}
	return m.entries.Insert(msg.Destination, msg.ID, msg)
}

// Remove takes the message and runs OnRemove. If OnRemove fails the
// message is put back and the error returned.
func (m *Mailbox) Remove(recipient core.ProgramID, id core.MessageID) (core.StoredMessage, error) {
	msg, ok, err := m.entries.Take(recipient, id)
	if err != nil {
		return msg, err
	}
	if !ok {
		return msg, fmt.Errorf("%w: %s for %s", ErrElementNotFound, id, recipient)
	}
	if m.cb.OnRemove != nil {
		if err := m.cb.OnRemove(msg); err != nil {
			if rerr := m.entries.Insert(recipient, id, msg); rerr != nil {
				return core.StoredMessage{}, errors.Join(err, rerr)
			}
			return core.StoredMessage{}, err
		}
	}
	return msg, nil
}

// RemoveAll clears every mailbox without running callbacks.
func (m *Mailbox) RemoveAll() error {
	return m.entries.Clear()
}

// Len returns the number of messages held for recipient.
func (m *Mailbox) Len(recipient core.ProgramID) (uint64, error) {
	return m.entries.CountPrefix(recipient)
}

// Iter calls fn for each message of recipient in id order.
func (m *Mailbox) Iter(recipient core.ProgramID, fn func(core.StoredMessage) error) error {
	return m.entries.IterPrefix(recipient, fn)
}

// Messages returns every message held for recipient in id order.
func (m *Mailbox) Messages(recipient core.ProgramID) ([]core.StoredMessage, error) {
	var out []core.StoredMessage
	err := m.Iter(recipient, func(msg core.StoredMessage) error {
		out = append(out, msg)
		return nil
	})
	return out, err
}

// Drain removes every message of recipient without running callbacks
// and returns them in id order.
func (m *Mailbox) Drain(recipient core.ProgramID) ([]core.StoredMessage, error) {
	return m.entries.DrainPrefix(recipient)
}
