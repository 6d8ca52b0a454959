package journal

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/core"
)

// InvariantError is a violated ledger invariant. The block that hit it
// must not be committed.
type InvariantError struct {
	Op  string
	Err error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("journal: invariant violated in %s: %v", e.Op, e.Err)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is an invariant violation.
func IsFatal(err error) bool {
	var inv *InvariantError
	return errors.As(err, &inv)
}

// ErrUnknownNote is returned by Apply for a note type it cannot route.
var ErrUnknownNote = errors.New("journal: unknown note")

// Handler receives the notes of a journal.
type Handler interface {
	MessageDispatched(outcome DispatchOutcome) error
	GasBurned(messageID core.MessageID, amount uint64) error
	ExitDispatch(exited, valueDestination core.ProgramID) error
	MessageConsumed(messageID core.MessageID) error
	SendDispatch(messageID core.MessageID, dispatch core.Dispatch) error
	WaitDispatch(dispatch core.StoredDispatch) error
	WakeMessage(messageID core.MessageID, programID core.ProgramID, awakeningID core.MessageID) error
	UpdatePagesData(programID core.ProgramID, pages map[core.PageNumber][]byte) error
	UpdateAllocations(programID core.ProgramID, allocations []core.WasmPageNumber) error
	SendValue(from core.ProgramID, to *core.ProgramID, value *uint256.Int) error
	StoreNewPrograms(codeID core.CodeID, candidates []Candidate) error
	StopProcessing(dispatch core.StoredDispatch, gasBurned uint64) error
}

// scoped handlers hold state that lives for one journal.
type scoped interface {
	beginJournal()
}

// Apply feeds notes to h in order and stops at the first error.
func Apply(h Handler, notes []Note) error {
	if s, ok := h.(scoped); ok {
		s.beginJournal()
	}
	for i, note := range notes {
		if err := applyNote(h, note); err != nil {
			return fmt.Errorf("note %d (%T): %w", i, note, err)
		}
	}
	return nil
}

func applyNote(h Handler, note Note) error {
	switch n := note.(type) {
	case MessageDispatched:
		return h.MessageDispatched(n.Outcome)
	case GasBurned:
		return h.GasBurned(n.MessageID, n.Amount)
	case ExitDispatch:
		return h.ExitDispatch(n.ProgramID, n.ValueDestination)
	case MessageConsumed:
		return h.MessageConsumed(n.MessageID)
	case SendDispatch:
		return h.SendDispatch(n.MessageID, n.Dispatch)
	case WaitDispatch:
		return h.WaitDispatch(n.Dispatch)
	case WakeMessage:
		return h.WakeMessage(n.MessageID, n.ProgramID, n.AwakeningID)
	case UpdatePagesData:
		return h.UpdatePagesData(n.ProgramID, n.Pages)
	case UpdateAllocations:
		return h.UpdateAllocations(n.ProgramID, n.Allocations)
	case SendValue:
		return h.SendValue(n.From, n.To, n.Value)
	case StoreNewPrograms:
		return h.StoreNewPrograms(n.CodeID, n.Candidates)
	case StopProcessing:
		return h.StopProcessing(n.Dispatch, n.GasBurned)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownNote, note)
	}
}
