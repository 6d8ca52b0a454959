package queue

import "errors"

var (
	// ErrDuplicateKey is returned when pushing a value whose key is already queued.
	ErrDuplicateKey = errors.New("queue: duplicate key")

	// ErrElementNotFound is returned when a linked node is missing.
	ErrElementNotFound = errors.New("queue: element not found")

	// ErrHeadShouldBeSet means a tail exists without a head.
	ErrHeadShouldBeSet = errors.New("queue: head should be set")

	// ErrHeadShouldNotBeSet means a head exists without a tail.
	ErrHeadShouldNotBeSet = errors.New("queue: head should not be set")

	// ErrTailHasNextKey means the tail node links to another node.
	ErrTailHasNextKey = errors.New("queue: tail has next key")

	// ErrTailParentNotFound means no node links to the tail.
	ErrTailParentNotFound = errors.New("queue: tail parent not found")

	// ErrTailShouldBeSet means a head exists without a tail.
	ErrTailShouldBeSet = errors.New("queue: tail should be set")

	// ErrTailShouldNotBeSet means a tail exists without a head.
	ErrTailShouldNotBeSet = errors.New("queue: tail should not be set")
)

// IsCorruption reports whether err signals an inconsistent linked
// structure. Such errors are unrecoverable.
func IsCorruption(err error) bool {
	switch {
	case errors.Is(err, ErrElementNotFound),
		errors.Is(err, ErrHeadShouldBeSet),
		errors.Is(err, ErrHeadShouldNotBeSet),
		errors.Is(err, ErrTailHasNextKey),
		errors.Is(err, ErrTailParentNotFound),
		errors.Is(err, ErrTailShouldBeSet),
		errors.Is(err, ErrTailShouldNotBeSet):
		return true
	default:
		return false
	}
}
