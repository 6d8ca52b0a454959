package gas

import "errors"

var (
	// ErrNodeNotFound is returned for an unknown gas node.
	ErrNodeNotFound = errors.New("gas: node not found")

	// ErrNodeAlreadyExists is returned when creating or splitting into a used key.
	ErrNodeAlreadyExists = errors.New("gas: node already exists")

	// ErrNodeWasConsumed is returned when operating on a consumed node.
	ErrNodeWasConsumed = errors.New("gas: node was consumed")

	// ErrInsufficientBalance means the value node cannot cover the amount.
	ErrInsufficientBalance = errors.New("gas: insufficient balance")

	// ErrParentNotFound means a node links to a missing parent. The tree is corrupt.
	ErrParentNotFound = errors.New("gas: parent not found")
)
