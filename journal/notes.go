// Package journal applies the effects of executing one message.
//
// Execution produces an ordered list of notes. Apply feeds them, in
// order and exactly once, to a Handler. Manager is the Handler that
// mutates ledger state: gas, balances, the queue and mailbox, the
// waitlist and program records.
package journal

import (
	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/core"
)

// OutcomeKind classifies how a dispatch finished.
type OutcomeKind uint8

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTrap
	OutcomeInitSuccess
	OutcomeInitFailure
	OutcomeNotExecuted
)

// String returns the string representation of OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTrap:
		return "trap"
	case OutcomeInitSuccess:
		return "init_success"
	case OutcomeInitFailure:
		return "init_failure"
	case OutcomeNotExecuted:
		return "not_executed"
	default:
		return "unknown"
	}
}

// DispatchOutcome is the result of executing one dispatch.
type DispatchOutcome struct {
	Kind      OutcomeKind
	MessageID core.MessageID
	ProgramID core.ProgramID
	Origin    core.ProgramID
	Reason    string
}

// Candidate is a program to create together with its init message.
type Candidate struct {
	ProgramID   core.ProgramID
	InitMessage core.MessageID
}

// Note is one effect record of a journal.
type Note interface {
	isNote()
}

// MessageDispatched reports the outcome of the executed dispatch.
type MessageDispatched struct {
	Outcome DispatchOutcome
}

// GasBurned charges gas used by the message.
type GasBurned struct {
	MessageID core.MessageID
	Amount    uint64
}

// ExitDispatch terminates a program and sweeps its balance.
type ExitDispatch struct {
	ProgramID        core.ProgramID
	ValueDestination core.ProgramID
}

// MessageConsumed finalizes gas accounting of the message.
type MessageConsumed struct {
	MessageID core.MessageID
}

// SendDispatch routes an outgoing dispatch created while handling MessageID.
type SendDispatch struct {
	MessageID core.MessageID
	Dispatch  core.Dispatch
}

// WaitDispatch parks the dispatch on its destination's waitlist.
type WaitDispatch struct {
	Dispatch core.StoredDispatch
}

// WakeMessage moves AwakeningID from the waitlist of ProgramID back to the queue.
type WakeMessage struct {
	MessageID   core.MessageID
	ProgramID   core.ProgramID
	AwakeningID core.MessageID
}

// UpdatePagesData writes memory pages of a program.
type UpdatePagesData struct {
	ProgramID core.ProgramID
	Pages     map[core.PageNumber][]byte
}

// UpdateAllocations replaces the allocation set of a program.
type UpdateAllocations struct {
	ProgramID   core.ProgramID
	Allocations []core.WasmPageNumber
}

// SendValue moves reserved value. A nil To returns it to From.
type SendValue struct {
	From  core.ProgramID
	To    *core.ProgramID
	Value *uint256.Int
}

// StoreNewPrograms creates programs from stored code.
type StoreNewPrograms struct {
	CodeID     core.CodeID
	Candidates []Candidate
}

// StopProcessing requeues Dispatch because the block ran out of gas.
type StopProcessing struct {
	Dispatch  core.StoredDispatch
	GasBurned uint64
}

func (MessageDispatched) isNote() {}
func (GasBurned) isNote()         {}
func (ExitDispatch) isNote()      {}
func (MessageConsumed) isNote()   {}
func (SendDispatch) isNote()      {}
func (WaitDispatch) isNote()      {}
func (WakeMessage) isNote()       {}
func (UpdatePagesData) isNote()   {}
func (UpdateAllocations) isNote() {}
func (SendValue) isNote()         {}
func (StoreNewPrograms) isNote()  {}
func (StopProcessing) isNote()    {}
