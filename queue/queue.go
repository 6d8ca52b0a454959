// Package queue implements a durable FIFO as a linked list of nodes in a
// key-value store.
//
// Each node is stored under its message id and carries the id of the
// next node. Two singleton keys hold the head and tail ids. The queue
// keeps no in-memory state, so it survives restarts unchanged.
package queue

import (
	"errors"
	"fmt"

	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/storage"
)

// Node is a stored queue element.
type Node[V any] struct {
	Value V
	Next  *core.MessageID `rlp:"nil"`
}

// Callbacks are invoked exactly once after each successful mutation and
// never after a failed one. A nil callback is skipped.
type Callbacks[V any] struct {
	OnPushBack  func(V) error
	OnPushFront func(V) error
	OnPopFront  func(V) error
	OnPopBack   func(V) error
	OnRemoveAll func() error
}

// Queue is a durable linked FIFO of values keyed by message id.
type Queue[V any] struct {
	head  storage.Value[core.MessageID]
	tail  storage.Value[core.MessageID]
	count storage.Value[uint64]
	nodes storage.Map[core.MessageID, Node[V]]
	keyOf func(V) core.MessageID
	cb    Callbacks[V]
}

// New returns a queue persisted under prefix. keyOf extracts the unique
// key of a value.
func New[V any](store storage.Store, prefix string, keyOf func(V) core.MessageID, cb Callbacks[V]) *Queue[V] {
	return &Queue[V]{
		head:  storage.NewValue[core.MessageID](store, prefix+"head"),
		tail:  storage.NewValue[core.MessageID](store, prefix+"tail"),
		count: storage.NewValue[uint64](store, prefix+"len"),
		nodes: storage.NewMap[core.MessageID, Node[V]](store, prefix+"node/"),
		keyOf: keyOf,
		cb:    cb,
	}
}

func (q *Queue[V]) checkDuplicate(key core.MessageID) error {
	exists, err := q.nodes.Contains(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	return nil
}

func (q *Queue[V]) addLen(delta int) error {
	n, _, err := q.count.Get()
	if err != nil {
		return err
	}
	switch {
	case delta > 0:
		n += uint64(delta)
	case uint64(-delta) > n:
		n = 0
	default:
		n -= uint64(-delta)
	}
	if n == 0 {
		return q.count.Kill()
	}
	return q.count.Put(n)
}

// PushBack appends v at the tail.
func (q *Queue[V]) PushBack(v V) error {
	key := q.keyOf(v)
	if err := q.checkDuplicate(key); err != nil {
		return err
	}

	tailKey, hasTail, err := q.tail.Get()
	if err != nil {
		return err
	}
	if hasTail {
		tailNode, ok, err := q.nodes.Get(tailKey)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: tail %s", ErrElementNotFound, tailKey)
		}
		if tailNode.Next != nil {
			return ErrTailHasNextKey
		}
		next := key
		tailNode.Next = &next
		if err := q.nodes.Insert(tailKey, tailNode); err != nil {
			return err
		}
	} else {
		hasHead, err := q.head.Exists()
		if err != nil {
			return err
		}
		if hasHead {
			return ErrHeadShouldNotBeSet
		}
		if err := q.head.Put(key); err != nil {
			return err
		}
	}

	if err := q.nodes.Insert(key, Node[V]{Value: v}); err != nil {
		return err
	}
	if err := q.tail.Put(key); err != nil {
		return err
	}
	if err := q.addLen(1); err != nil {
		return err
	}
	return call(q.cb.OnPushBack, v)
}

// PushFront inserts v at the head.
func (q *Queue[V]) PushFront(v V) error {
	key := q.keyOf(v)
	if err := q.checkDuplicate(key); err != nil {
		return err
	}

	node := Node[V]{Value: v}
	headKey, hasHead, err := q.head.Get()
	if err != nil {
		return err
	}
	if hasHead {
		next := headKey
		node.Next = &next
	} else {
		hasTail, err := q.tail.Exists()
		if err != nil {
			return err
		}
		if hasTail {
			return ErrTailShouldNotBeSet
		}
		if err := q.tail.Put(key); err != nil {
			return err
		}
	}

	if err := q.nodes.Insert(key, node); err != nil {
		return err
	}
	if err := q.head.Put(key); err != nil {
		return err
	}
	if err := q.addLen(1); err != nil {
		return err
	}
	return call(q.cb.OnPushFront, v)
}

// PopFront removes and returns the head value. ok is false when the
// queue is empty.
func (q *Queue[V]) PopFront() (v V, ok bool, err error) {
	headKey, hasHead, err := q.head.Get()
	if err != nil {
		return v, false, err
	}
	if !hasHead {
		hasTail, err := q.tail.Exists()
		if err != nil {
			return v, false, err
		}
		if hasTail {
			return v, false, ErrTailShouldNotBeSet
		}
		return v, false, nil
	}

	node, found, err := q.nodes.Take(headKey)
	if err != nil {
		return v, false, err
	}
	if !found {
		return v, false, fmt.Errorf("%w: head %s", ErrElementNotFound, headKey)
	}

	if node.Next != nil {
		if err := q.head.Put(*node.Next); err != nil {
			return v, false, err
		}
	} else {
		hasTail, err := q.tail.Exists()
		if err != nil {
			return v, false, err
		}
		if !hasTail {
			return v, false, ErrTailShouldBeSet
		}
		if err := q.head.Kill(); err != nil {
			return v, false, err
		}
		if err := q.tail.Kill(); err != nil {
			return v, false, err
		}
	}

	if err := q.addLen(-1); err != nil {
		return v, false, err
	}
	if err := call(q.cb.OnPopFront, node.Value); err != nil {
		return v, false, err
	}
	return node.Value, true, nil
}

// PopBack removes and returns the tail value. It walks the chain from
// the head to find the new tail, so it is linear in the queue length.
func (q *Queue[V]) PopBack() (v V, ok bool, err error) {
	tailKey, hasTail, err := q.tail.Get()
	if err != nil {
		return v, false, err
	}
	headKey, hasHead, err := q.head.Get()
	if err != nil {
		return v, false, err
	}
	if !hasTail {
		if hasHead {
			return v, false, ErrTailShouldBeSet
		}
		return v, false, nil
	}
	if !hasHead {
		return v, false, ErrHeadShouldBeSet
	}

	tailNode, found, err := q.nodes.Get(tailKey)
	if err != nil {
		return v, false, err
	}
	if !found {
		return v, false, fmt.Errorf("%w: tail %s", ErrElementNotFound, tailKey)
	}
	if tailNode.Next != nil {
		return v, false, ErrTailHasNextKey
	}

	if headKey == tailKey {
		if err := q.head.Kill(); err != nil {
			return v, false, err
		}
		if err := q.tail.Kill(); err != nil {
			return v, false, err
		}
	} else {
		parentKey, parent, err := q.findParent(headKey, tailKey)
		if err != nil {
			return v, false, err
		}
		parent.Next = nil
		if err := q.nodes.Insert(parentKey, parent); err != nil {
			return v, false, err
		}
		if err := q.tail.Put(parentKey); err != nil {
			return v, false, err
		}
	}

	if err := q.nodes.Remove(tailKey); err != nil {
		return v, false, err
	}
	if err := q.addLen(-1); err != nil {
		return v, false, err
	}
	if err := call(q.cb.OnPopBack, tailNode.Value); err != nil {
		return v, false, err
	}
	return tailNode.Value, true, nil
}

func (q *Queue[V]) findParent(from, target core.MessageID) (core.MessageID, Node[V], error) {
	key := from
	for {
		node, found, err := q.nodes.Get(key)
		if err != nil {
			return key, node, err
		}
		if !found || node.Next == nil {
			return key, node, ErrTailParentNotFound
		}
		if *node.Next == target {
			return key, node, nil
		}
		key = *node.Next
	}
}

// RemoveAll clears the queue.
func (q *Queue[V]) RemoveAll() error {
	if err := q.head.Kill(); err != nil {
		return err
	}
	if err := q.tail.Kill(); err != nil {
		return err
	}
	if err := q.count.Kill(); err != nil {
		return err
	}
	if err := q.nodes.Clear(); err != nil {
		return err
	}
	if q.cb.OnRemoveAll != nil {
		return q.cb.OnRemoveAll()
	}
	return nil
}

// Len returns the number of queued values.
func (q *Queue[V]) Len() (uint64, error) {
	n, _, err := q.count.Get()
	return n, err
}

// IsEmpty reports whether the queue has no head.
func (q *Queue[V]) IsEmpty() (bool, error) {
	hasHead, err := q.head.Exists()
	return !hasHead, err
}

// Iter calls fn for each value from head to tail. Returning
// storage.ErrStopIteration ends the walk early.
func (q *Queue[V]) Iter(fn func(V) error) error {
	key, ok, err := q.head.Get()
	if err != nil || !ok {
		return err
	}
	for {
		node, found, err := q.nodes.Get(key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrElementNotFound, key)
		}
		if err := fn(node.Value); err != nil {
			if errors.Is(err, storage.ErrStopIteration) {
				return nil
			}
			return err
		}
		if node.Next == nil {
			return nil
		}
		key = *node.Next
	}
}

// Values returns every queued value from head to tail.
func (q *Queue[V]) Values() ([]V, error) {
	var out []V
	err := q.Iter(func(v V) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

func call[V any](fn func(V) error, v V) error {
	if fn == nil {
		return nil
	}
	return fn(v)
}
