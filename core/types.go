package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MessageID uniquely identifies a message across the whole ledger.
type MessageID [32]byte

// ProgramID addresses an actor. Programs and user accounts share the
// same address space; an address is a program only if a program record
// exists for it.
type ProgramID [32]byte

// CodeID is the content hash of a program's code.
type CodeID [32]byte

// Bytes returns the raw identifier.
func (id MessageID) Bytes() []byte { return id[:] }

// String returns the 0x-prefixed hex form.
func (id MessageID) String() string { return common.Hash(id).Hex() }

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool { return id == MessageID{} }

// Bytes returns the raw identifier.
func (id ProgramID) Bytes() []byte { return id[:] }

// String returns the 0x-prefixed hex form.
func (id ProgramID) String() string { return common.Hash(id).Hex() }

// IsZero reports whether the id is unset.
func (id ProgramID) IsZero() bool { return id == ProgramID{} }

// Bytes returns the raw identifier.
func (id CodeID) Bytes() []byte { return id[:] }

// String returns the 0x-prefixed hex form.
func (id CodeID) String() string { return common.Hash(id).Hex() }

// ProgramIDFromUint64 builds an address with n in its last eight bytes.
// Used for well-known accounts in tests and genesis configuration.
func ProgramIDFromUint64(n uint64) ProgramID {
	var id ProgramID
	for i := 0; i < 8; i++ {
		id[31-i] = byte(n >> (8 * i))
	}
	return id
}

// ProgramIDFromHex parses a 0x-prefixed or bare hex address.
func ProgramIDFromHex(s string) ProgramID {
	return ProgramID(common.HexToHash(s))
}

// DispatchKind is the execution entry point a dispatch targets.
type DispatchKind uint8

const (
	// DispatchInit runs the program constructor
	DispatchInit DispatchKind = iota

	// DispatchHandle runs the program's message handler
	DispatchHandle

	// DispatchReply delivers a reply to a previously sent message
	DispatchReply
)

// String returns the string representation of DispatchKind.
func (k DispatchKind) String() string {
	switch k {
	case DispatchInit:
		return "init"
	case DispatchHandle:
		return "handle"
	case DispatchReply:
		return "reply"
	default:
		return "unknown"
	}
}

// ExitCode is the status a reply carries. Zero means success.
type ExitCode uint32

// ReplyDetails links a reply to the message it answers.
type ReplyDetails struct {
	ReplyTo  MessageID
	ExitCode ExitCode
}

// StoredMessage is a message at rest in the queue, mailbox or waitlist.
type StoredMessage struct {
	// ID is the globally unique message identifier
	ID MessageID

	// Source is the sending program or user
	Source ProgramID

	// Destination is the receiving program or user
	Destination ProgramID

	// Payload is opaque to the ledger
	Payload []byte

	// Value is the attached amount, reserved against Source while in transit
	Value *uint256.Int

	// Reply is set when the message answers another message
	Reply *ReplyDetails `rlp:"nil"`
}

// ValueOrZero returns the attached value, treating nil as zero.
func (m *StoredMessage) ValueOrZero() *uint256.Int {
	if m.Value == nil {
		return new(uint256.Int)
	}
	return m.Value
}

// HasValue reports whether a nonzero value is attached.
func (m *StoredMessage) HasValue() bool {
	return m.Value != nil && !m.Value.IsZero()
}

// StoredDispatch is a message plus its routing kind, as kept in durable storage.
// Its gas lives in the gas tree under the message id.
type StoredDispatch struct {
	Kind    DispatchKind
	Message StoredMessage
}

// ID returns the id of the wrapped message.
func (d *StoredDispatch) ID() MessageID { return d.Message.ID }

// Destination returns the program the dispatch is addressed to.
func (d *StoredDispatch) Destination() ProgramID { return d.Message.Destination }

// Source returns the sender of the dispatch.
func (d *StoredDispatch) Source() ProgramID { return d.Message.Source }

// Dispatch is an outgoing dispatch as produced by execution, before it
// is stored. A nil GasLimit means the child shares its parent's gas.
type Dispatch struct {
	Kind     DispatchKind
	Message  StoredMessage
	GasLimit *uint64
}

// IntoStored drops the gas limit, which is tracked by the gas tree once routed.
func (d Dispatch) IntoStored() StoredDispatch {
	return StoredDispatch{Kind: d.Kind, Message: d.Message}
}

// WaitlistEntry is a dispatch parked by its destination program together
// with the block number it was parked at.
type WaitlistEntry struct {
	Dispatch    StoredDispatch
	BlockNumber uint32
}
