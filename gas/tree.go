// Package gas tracks gas ownership as a tree rooted at externally funded
// messages, and the per-block gas allowance.
//
// A message submitted from outside creates an external root holding its
// gas limit. Executing a message may split gas to children: a split with
// value moves an amount into a child that owns it, a plain split lets the
// child draw on the nearest ancestor that owns value. Consuming a node
// returns what it still owns to its parent; once the root is consumed and
// has no children left, its remaining gas is handed back for refund.
package gas

import (
	"errors"
	"fmt"

	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/storage"
)

// NodeKind distinguishes how a node holds gas.
type NodeKind uint8

const (
	// External is a root funded by an account
	External NodeKind = iota
	// SpecifiedLocal is a child owning its own value
	SpecifiedLocal
	// UnspecifiedLocal is a child drawing on its nearest valued ancestor
	UnspecifiedLocal
)

// String returns the string representation of NodeKind.
func (k NodeKind) String() string {
	switch k {
	case External:
		return "external"
	case SpecifiedLocal:
		return "specified_local"
	case UnspecifiedLocal:
		return "unspecified_local"
	default:
		return "unknown"
	}
}

// Node is a stored gas tree node.
type Node struct {
	Kind     NodeKind
	Origin   core.ProgramID
	Parent   *core.MessageID `rlp:"nil"`
	Value    uint64
	Refs     uint32
	Consumed bool
}

// ConsumeOutcome is returned when consuming releases a root.
type ConsumeOutcome struct {
	GasLeft uint64
	Origin  core.ProgramID
}

// Tree is the durable gas tree.
type Tree struct {
	nodes  storage.Map[core.MessageID, Node]
	supply storage.Value[uint64]
}

// NewTree returns a gas tree persisted under prefix.
func NewTree(store storage.Store, prefix string) *Tree {
	return &Tree{
		nodes:  storage.NewMap[core.MessageID, Node](store, prefix+"node/"),
		supply: storage.NewValue[uint64](store, prefix+"supply"),
	}
}

func (t *Tree) get(key core.MessageID) (Node, error) {
	node, ok, err := t.nodes.Get(key)
	if err != nil {
		return node, err
	}
	if !ok {
		return node, fmt.Errorf("%w: %s", ErrNodeNotFound, key)
	}
	return node, nil
}

func (t *Tree) parent(node Node) (core.MessageID, Node, error) {
	if node.Parent == nil {
		return core.MessageID{}, Node{}, ErrParentNotFound
	}
	key := *node.Parent
	parent, ok, err := t.nodes.Get(key)
	if err != nil {
		return key, parent, err
	}
	if !ok {
		return key, parent, fmt.Errorf("%w: %s", ErrParentNotFound, key)
	}
	return key, parent, nil
}

// valueNode returns the node owning the gas key draws on.
func (t *Tree) valueNode(key core.MessageID) (core.MessageID, Node, error) {
	node, err := t.get(key)
	if err != nil {
		return key, node, err
	}
	for node.Kind == UnspecifiedLocal {
		key, node, err = t.parent(node)
		if err != nil {
			return key, node, err
		}
	}
	return key, node, nil
}

func (t *Tree) addSupply(amount uint64, add bool) error {
	cur, _, err := t.supply.Get()
	if err != nil {
		return err
	}
	if add {
		cur += amount
	} else if amount > cur {
		cur = 0
	} else {
		cur -= amount
	}
	return t.supply.Put(cur)
}

// TotalSupply returns the gas currently held by the tree.
func (t *Tree) TotalSupply() (uint64, error) {
	n, _, err := t.supply.Get()
	return n, err
}

// Create adds an external root for key funded by origin.
func (t *Tree) Create(origin core.ProgramID, key core.MessageID, amount uint64) error {
	exists, err := t.nodes.Contains(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExists, key)
	}
	if err := t.nodes.Insert(key, Node{Kind: External, Origin: origin, Value: amount}); err != nil {
		return err
	}
	return t.addSupply(amount, true)
}

// Exists reports whether key has a node.
func (t *Tree) Exists(key core.MessageID) (bool, error) {
	return t.nodes.Contains(key)
}

// GetLimit returns the gas available to key.
func (t *Tree) GetLimit(key core.MessageID) (uint64, bool, error) {
	_, node, err := t.valueNode(key)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return node.Value, true, nil
}

// GetOrigin returns the account that funded the root of key.
func (t *Tree) GetOrigin(key core.MessageID) (core.ProgramID, bool, error) {
	node, err := t.get(key)
	if err != nil {
		if isNotFound(err) {
			return core.ProgramID{}, false, nil
		}
		return core.ProgramID{}, false, err
	}
	for node.Kind != External {
		_, node, err = t.parent(node)
		if err != nil {
			return core.ProgramID{}, false, err
		}
	}
	return node.Origin, true, nil
}

// Spend burns amount from the gas available to key.
func (t *Tree) Spend(key core.MessageID, amount uint64) error {
	vkey, node, err := t.valueNode(key)
	if err != nil {
		return err
	}
	if node.Value < amount {
		return fmt.Errorf("%w: spend %d from %s (has %d)", ErrInsufficientBalance, amount, key, node.Value)
	}
	node.Value -= amount
	if err := t.nodes.Insert(vkey, node); err != nil {
		return err
	}
	return t.addSupply(amount, false)
}

func (t *Tree) prepareSplit(key, newKey core.MessageID) (Node, error) {
	node, err := t.get(key)
	if err != nil {
		return node, err
	}
	if node.Consumed {
		return node, fmt.Errorf("%w: %s", ErrNodeWasConsumed, key)
	}
	exists, err := t.nodes.Contains(newKey)
	if err != nil {
		return node, err
	}
	if exists {
		return node, fmt.Errorf("%w: %s", ErrNodeAlreadyExists, newKey)
	}
	return node, nil
}

// Split creates a child of key that shares its gas.
func (t *Tree) Split(key, newKey core.MessageID) error {
	node, err := t.prepareSplit(key, newKey)
	if err != nil {
		return err
	}
	parent := key
	node.Refs++
	if err := t.nodes.Insert(key, node); err != nil {
		return err
	}
	return t.nodes.Insert(newKey, Node{Kind: UnspecifiedLocal, Parent: &parent})
}

// SplitWithValue moves amount from the gas available to key into a new child.
func (t *Tree) SplitWithValue(key, newKey core.MessageID, amount uint64) error {
	node, err := t.prepareSplit(key, newKey)
	if err != nil {
		return err
	}
	vkey, vnode, err := t.valueNode(key)
	if err != nil {
		return err
	}
	if vnode.Value < amount {
		return fmt.Errorf("%w: split %d from %s (has %d)", ErrInsufficientBalance, amount, key, vnode.Value)
	}
	vnode.Value -= amount
	if vkey == key {
		node.Value = vnode.Value
	} else if err := t.nodes.Insert(vkey, vnode); err != nil {
		return err
	}

	parent := key
	node.Refs++
	if err := t.nodes.Insert(key, node); err != nil {
		return err
	}
	return t.nodes.Insert(newKey, Node{Kind: SpecifiedLocal, Parent: &parent, Value: amount})
}

// Consume marks key as consumed. Gas it still owns returns to its
// nearest valued ancestor once it has no children; a root with no
// children left is removed and its remaining gas returned in the outcome.
func (t *Tree) Consume(key core.MessageID) (*ConsumeOutcome, error) {
	node, err := t.get(key)
	if err != nil {
		return nil, err
	}
	if node.Consumed {
		return nil, fmt.Errorf("%w: %s", ErrNodeWasConsumed, key)
	}
	node.Consumed = true
	if node.Refs > 0 {
		return nil, t.nodes.Insert(key, node)
	}
	return t.release(key, node)
}

func (t *Tree) release(key core.MessageID, node Node) (*ConsumeOutcome, error) {
	for {
		if err := t.nodes.Remove(key); err != nil {
			return nil, err
		}
		if node.Kind == External {
			if err := t.addSupply(node.Value, false); err != nil {
				return nil, err
			}
			return &ConsumeOutcome{GasLeft: node.Value, Origin: node.Origin}, nil
		}

		parentKey, parent, err := t.parent(node)
		if err != nil {
			return nil, err
		}
		if parent.Refs > 0 {
			parent.Refs--
		}
		if node.Kind == SpecifiedLocal && node.Value > 0 {
			if parent.Kind != UnspecifiedLocal {
				parent.Value += node.Value
			} else {
				hkey, holder, err := t.valueNode(parentKey)
				if err != nil {
					return nil, err
				}
				holder.Value += node.Value
				if err := t.nodes.Insert(hkey, holder); err != nil {
					return nil, err
				}
			}
		}
		if err := t.nodes.Insert(parentKey, parent); err != nil {
			return nil, err
		}
		if !parent.Consumed || parent.Refs > 0 {
			return nil, nil
		}
		key, node = parentKey, parent
	}
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNodeNotFound)
}
