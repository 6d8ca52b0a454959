package storage

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned by Store.Get for an absent key.
	ErrNotFound = errors.New("storage: key not found")

	// ErrStopIteration ends an Iterate call early without error.
	ErrStopIteration = errors.New("storage: stop iteration")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage: store closed")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("storage: unknown backend")

	// ErrTxnActive is returned by Begin while a transaction is open.
	ErrTxnActive = errors.New("storage: transaction already open")

	// ErrNoTxn is returned by Commit and Rollback without an open transaction.
	ErrNoTxn = errors.New("storage: no open transaction")
)
