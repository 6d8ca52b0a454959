// Package messenger composes the dispatch queue, the mailbox, the per-block
// counters and the queue processing toggle into one aggregate.
package messenger

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/balances"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/mailbox"
	"github.com/najoast/gearledger/queue"
	"github.com/najoast/gearledger/storage"
	"github.com/rs/zerolog"
)

// Currency moves reserved value when a mailbox message is claimed.
type Currency interface {
	RepatriateReserved(from, to core.ProgramID, amount *uint256.Int, status balances.Status) error
}

// Options configures a Messenger.
type Options struct {
	// Prefix namespaces every key the messenger writes
	Prefix string

	// ClearStoragesOnReset empties the queue and mailbox on every Reset.
	// This is a bootstrap mode that avoids schema migrations and is meant
	// to be switched off once stored layouts are stable.
	ClearStoragesOnReset bool

	// Logger receives debug output
	Logger zerolog.Logger
}

// DefaultOptions returns the options used by a fresh node.
func DefaultOptions() Options {
	return Options{
		Prefix:               "msg/",
		ClearStoragesOnReset: true,
		Logger:               zerolog.Nop(),
	}
}

// Messenger is the single entry point to message routing state.
type Messenger struct {
	Queue           *queue.Queue[core.StoredDispatch]
	Mailbox         *mailbox.Mailbox
	Sent            storage.Counter
	Dequeued        storage.Counter
	QueueProcessing storage.Toggle

	opts Options
	log  zerolog.Logger
}

// New builds a messenger over store. currency pays out mailbox claims.
func New(store storage.Store, currency Currency, opts Options) *Messenger {
	m := &Messenger{
		Sent:            storage.NewCounter(store, opts.Prefix+"sent"),
		Dequeued:        storage.NewCounter(store, opts.Prefix+"dequeued"),
		QueueProcessing: storage.NewToggle(store, opts.Prefix+"processing"),
		opts:            opts,
		log:             opts.Logger.With().Str("component", "messenger").Logger(),
	}

	m.Queue = queue.New[core.StoredDispatch](store, opts.Prefix+"queue/",
		func(d core.StoredDispatch) core.MessageID { return d.ID() },
		queue.Callbacks[core.StoredDispatch]{
			OnPopFront: func(core.StoredDispatch) error {
				return m.Dequeued.Increase()
			},
			OnPushFront: func(core.StoredDispatch) error {
				if err := m.Dequeued.Decrease(); err != nil {
					return err
				}
				return m.QueueProcessing.Deny()
			},
		})

	m.Mailbox = mailbox.New(store, opts.Prefix+"mailbox/", mailbox.Callbacks{
		OnRemove: func(msg core.StoredMessage) error {
			if !msg.HasValue() {
				return nil
			}
			if err := currency.RepatriateReserved(msg.Source, msg.Destination, msg.Value, balances.Free); err != nil {
				return fmt.Errorf("claim %s from mailbox: %w", msg.ID, err)
			}
			m.log.Debug().
				Stringer("message", msg.ID).
				Stringer("to", msg.Destination).
				Str("value", msg.Value.Dec()).
				Msg("mailbox value claimed")
			return nil
		},
	})

	return m
}

// Reset prepares the messenger for a new block.
func (m *Messenger) Reset() error {
	if err := m.Sent.Reset(); err != nil {
		return err
	}
	if err := m.Dequeued.Reset(); err != nil {
		return err
	}
	if err := m.QueueProcessing.Allow(); err != nil {
		return err
	}
	if !m.opts.ClearStoragesOnReset {
		return nil
	}
	if err := m.Queue.RemoveAll(); err != nil {
		return err
	}
	return m.Mailbox.RemoveAll()
}
