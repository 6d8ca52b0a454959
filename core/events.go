package core

import "github.com/holiman/uint256"

// EventKind tags a ledger event.
type EventKind uint8

const (
	EventMessageEnqueued EventKind = iota
	EventMessagesDequeued
	EventMessageDispatched
	EventInitSuccess
	EventInitFailure
	EventMessageNotExecuted
	EventLog
	EventAddedToWaitList
	EventRemovedFromWaitList
	EventClaimedValue
	EventCodeSaved
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventMessageEnqueued:
		return "message_enqueued"
	case EventMessagesDequeued:
		return "messages_dequeued"
	case EventMessageDispatched:
		return "message_dispatched"
	case EventInitSuccess:
		return "init_success"
	case EventInitFailure:
		return "init_failure"
	case EventMessageNotExecuted:
		return "message_not_executed"
	case EventLog:
		return "log"
	case EventAddedToWaitList:
		return "added_to_wait_list"
	case EventRemovedFromWaitList:
		return "removed_from_wait_list"
	case EventClaimedValue:
		return "claimed_value"
	case EventCodeSaved:
		return "code_saved"
	default:
		return "unknown"
	}
}

// Event is an observable ledger occurrence. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind        EventKind
	MessageID   MessageID
	Source      ProgramID
	Destination ProgramID
	ProgramID   ProgramID
	CodeID      CodeID
	Value       *uint256.Int
	Count       uint32
	Reason      string
	Message     *StoredMessage
}
