package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/balances"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/mailbox"
)

func (l *Ledger) checkValue(value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return nil
	}
	if value.Lt(l.Balances.MinimumBalance()) {
		return fmt.Errorf("%w: %s", ErrValueTooLow, value.Dec())
	}
	return nil
}

func (l *Ledger) checkGas(gasLimit uint64) error {
	if gasLimit > l.cfg.BlockGasLimit {
		return fmt.Errorf("%w: %d > %d", ErrGasLimitTooHigh, gasLimit, l.cfg.BlockGasLimit)
	}
	return nil
}

// reserveFor reserves the price of gasLimit plus value against origin.
func (l *Ledger) reserveFor(origin core.ProgramID, gasLimit uint64, value *uint256.Int) error {
	amount := l.GasPrice(gasLimit)
	if value != nil {
		amount.Add(amount, value)
	}
	ok, err := l.Balances.CanReserve(origin, amount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s needs %s", ErrInsufficientBalance, origin, amount.Dec())
	}
	return l.Balances.Reserve(origin, amount)
}

func (l *Ledger) nextMessageID(origin core.ProgramID) (core.MessageID, error) {
	nonce, err := l.Messenger.Sent.Get()
	if err != nil {
		return core.MessageID{}, err
	}
	if err := l.Messenger.Sent.Increase(); err != nil {
		return core.MessageID{}, err
	}
	return core.NewMessageID(l.number, origin, uint64(nonce)), nil
}

func (l *Ledger) enqueue(origin core.ProgramID, kind core.DispatchKind, msg core.StoredMessage, gasLimit uint64) error {
	if err := l.Gas.Create(origin, msg.ID, gasLimit); err != nil {
		return err
	}
	if err := l.Messenger.Queue.PushBack(core.StoredDispatch{Kind: kind, Message: msg}); err != nil {
		return err
	}
	l.Stats.MessagesSubmitted.Inc()
	l.Emit(core.Event{
		Kind:        core.EventMessageEnqueued,
		MessageID:   msg.ID,
		Source:      origin,
		Destination: msg.Destination,
	})
	return nil
}

func (l *Ledger) checkSubmission(gasLimit uint64, value *uint256.Int) error {
	if !l.open {
		return ErrNoBlock
	}
	if err := l.checkValue(value); err != nil {
		return err
	}
	return l.checkGas(gasLimit)
}

// SubmitProgram stores code, creates the program derived from it and
// salt and queues its init message.
func (l *Ledger) SubmitProgram(origin core.ProgramID, code, salt, initPayload []byte, gasLimit uint64, value *uint256.Int) (programID core.ProgramID, id core.MessageID, err error) {
	err = l.atomic(func() error {
		programID, id, err = l.submitProgram(origin, code, salt, initPayload, gasLimit, value)
		return err
	})
	return programID, id, err
}

func (l *Ledger) submitProgram(origin core.ProgramID, code, salt, initPayload []byte, gasLimit uint64, value *uint256.Int) (core.ProgramID, core.MessageID, error) {
	if err := l.checkSubmission(gasLimit, value); err != nil {
		return core.ProgramID{}, core.MessageID{}, err
	}

	codeID := core.CodeIDFrom(code)
	programID := core.ProgramIDFrom(codeID, salt)
	exists, err := l.Programs.Exists(programID)
	if err != nil {
		return programID, core.MessageID{}, err
	}
	if exists {
		return programID, core.MessageID{}, fmt.Errorf("%w: %s", ErrProgramAlreadyExists, programID)
	}

	if err := l.reserveFor(origin, gasLimit, value); err != nil {
		return programID, core.MessageID{}, err
	}

	known, err := l.Programs.CodeExists(codeID)
	if err != nil {
		return programID, core.MessageID{}, err
	}
	if !known {
		if _, err := l.Programs.AddCode(code); err != nil {
			return programID, core.MessageID{}, err
		}
		l.Emit(core.Event{Kind: core.EventCodeSaved, CodeID: codeID, Source: origin})
	}

	id, err := l.nextMessageID(origin)
	if err != nil {
		return programID, id, err
	}
	if err := l.Programs.Set(programID, core.NewProgram(codeID, id)); err != nil {
		return programID, id, err
	}

	msg := core.StoredMessage{ID: id, Source: origin, Destination: programID, Payload: initPayload, Value: valueOrZero(value)}
	return programID, id, l.enqueue(origin, core.DispatchInit, msg, gasLimit)
}

// SendMessage queues a handle message to destination. A destination
// that is not a program receives value as a plain transfer and the
// message is only logged.
func (l *Ledger) SendMessage(origin, destination core.ProgramID, payload []byte, gasLimit uint64, value *uint256.Int) (id core.MessageID, err error) {
	err = l.atomic(func() error {
		id, err = l.sendMessage(origin, destination, payload, gasLimit, value)
		return err
	})
	return id, err
}

func (l *Ledger) sendMessage(origin, destination core.ProgramID, payload []byte, gasLimit uint64, value *uint256.Int) (core.MessageID, error) {
	if err := l.checkSubmission(gasLimit, value); err != nil {
		return core.MessageID{}, err
	}

	isProgram, err := l.Programs.Exists(destination)
	if err != nil {
		return core.MessageID{}, err
	}

	if !isProgram {
		id, err := l.nextMessageID(origin)
		if err != nil {
			return id, err
		}
		if value != nil && !value.IsZero() {
			if err := l.Balances.Transfer(origin, destination, value, balances.AllowDeath); err != nil {
				return id, err
			}
		}
		msg := core.StoredMessage{ID: id, Source: origin, Destination: destination, Payload: payload, Value: valueOrZero(value)}
		l.Emit(core.Event{Kind: core.EventLog, MessageID: id, Source: origin, Destination: destination, Value: msg.Value, Message: &msg})
		return id, nil
	}

	if err := l.reserveFor(origin, gasLimit, value); err != nil {
		return core.MessageID{}, err
	}
	id, err := l.nextMessageID(origin)
	if err != nil {
		return id, err
	}
	msg := core.StoredMessage{ID: id, Source: origin, Destination: destination, Payload: payload, Value: valueOrZero(value)}
	return id, l.enqueue(origin, core.DispatchHandle, msg, gasLimit)
}

// SendReply answers a message in origin's mailbox. The answered message
// is removed and its value claimed.
func (l *Ledger) SendReply(origin core.ProgramID, replyTo core.MessageID, payload []byte, gasLimit uint64, value *uint256.Int) (id core.MessageID, err error) {
	err = l.atomic(func() error {
		id, err = l.sendReply(origin, replyTo, payload, gasLimit, value)
		return err
	})
	return id, err
}

func (l *Ledger) sendReply(origin core.ProgramID, replyTo core.MessageID, payload []byte, gasLimit uint64, value *uint256.Int) (core.MessageID, error) {
	if err := l.checkSubmission(gasLimit, value); err != nil {
		return core.MessageID{}, err
	}

	original, ok, err := l.Messenger.Mailbox.Get(origin, replyTo)
	if err != nil {
		return core.MessageID{}, err
	}
	if !ok {
		return core.MessageID{}, fmt.Errorf("%w: %s", mailbox.ErrElementNotFound, replyTo)
	}
	isProgram, err := l.Programs.Exists(original.Source)
	if err != nil {
		return core.MessageID{}, err
	}
	if !isProgram {
		return core.MessageID{}, fmt.Errorf("%w: %s", ErrNotReplyable, original.Source)
	}

	if err := l.reserveFor(origin, gasLimit, value); err != nil {
		return core.MessageID{}, err
	}
	if _, err := l.Messenger.Mailbox.Remove(origin, replyTo); err != nil {
		return core.MessageID{}, err
	}
	id := core.NewReplyMessageID(replyTo)
	if err := l.Messenger.Sent.Increase(); err != nil {
		return id, err
	}
	msg := core.StoredMessage{
		ID:          id,
		Source:      origin,
		Destination: original.Source,
		Payload:     payload,
		Value:       valueOrZero(value),
		Reply:       &core.ReplyDetails{ReplyTo: replyTo},
	}
	return id, l.enqueue(origin, core.DispatchReply, msg, gasLimit)
}

// ClaimValueFromMailbox removes a message from origin's mailbox and
// releases its value to origin.
func (l *Ledger) ClaimValueFromMailbox(origin core.ProgramID, id core.MessageID) error {
	return l.atomic(func() error { return l.claimValue(origin, id) })
}

func (l *Ledger) claimValue(origin core.ProgramID, id core.MessageID) error {
	msg, err := l.Messenger.Mailbox.Remove(origin, id)
	if err != nil {
		return err
	}
	l.Emit(core.Event{
		Kind:        core.EventClaimedValue,
		MessageID:   id,
		Source:      msg.Source,
		Destination: origin,
		Value:       msg.ValueOrZero(),
	})
	return nil
}

func valueOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
