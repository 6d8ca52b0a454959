package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/executor"
	"github.com/najoast/gearledger/journal"
	"github.com/najoast/gearledger/programs"
)

// ProcessQueue drains the queue through exec until it is empty, the
// block's gas allowance is spent or processing has been denied. Each
// dispatch is popped and its journal applied in one store transaction,
// so a failing dispatch leaves the store as it was before the pop. Any
// error must still halt the node.
func (l *Ledger) ProcessQueue(ctx context.Context, exec executor.Executor) error {
	if !l.open {
		return ErrNoBlock
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, err := l.Messenger.QueueProcessing.Allowed()
		if err != nil {
			return err
		}
		if !allowed {
			break
		}
		allowance, err := l.Allowance.Get()
		if err != nil {
			return err
		}
		if allowance == 0 {
			break
		}

		// the pop and the journal of the dispatch commit together
		empty := false
		err = l.atomic(func() error {
			dispatch, ok, err := l.Messenger.Queue.PopFront()
			if err != nil {
				return fmt.Errorf("pop dispatch: %w", err)
			}
			if !ok {
				empty = true
				return nil
			}

			notes, err := l.execute(ctx, exec, dispatch, allowance)
			if err != nil {
				return fmt.Errorf("execute %s: %w", dispatch.ID(), err)
			}
			if err := l.manager.Apply(notes); err != nil {
				return fmt.Errorf("apply journal of %s: %w", dispatch.ID(), err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if empty {
			break
		}
		l.Stats.MessagesProcessed.Inc()
	}

	dequeued, err := l.Messenger.Dequeued.Get()
	if err != nil {
		return err
	}
	if dequeued > 0 {
		l.Emit(core.Event{Kind: core.EventMessagesDequeued, Count: dequeued})
	}
	return nil
}

func (l *Ledger) execute(ctx context.Context, exec executor.Executor, d core.StoredDispatch, allowance uint64) ([]journal.Note, error) {
	dest := d.Destination()
	program, ok, err := l.Programs.Get(dest)
	if err != nil {
		return nil, err
	}
	if !ok || !program.IsActive() {
		return notExecuted(d), nil
	}

	if program.State == core.ProgramUninitialized && d.Kind != core.DispatchInit {
		// parked until the program's init message completes
		if err := l.Programs.InsertWaiting(dest, d, l.number); err != nil {
			return nil, err
		}
		if err := l.Programs.AppendWaitingInit(dest, d.ID()); err != nil {
			return nil, err
		}
		l.Emit(core.Event{Kind: core.EventAddedToWaitList, MessageID: d.ID(), Source: d.Source(), Destination: dest})
		return nil, nil
	}

	code, err := l.Programs.Code(program.CodeID)
	if errors.Is(err, programs.ErrCodeNotFound) {
		return notExecuted(d), nil
	}
	if err != nil {
		return nil, err
	}
	gasLimit, _, err := l.Gas.GetLimit(d.ID())
	if err != nil {
		return nil, err
	}
	balance, err := l.Balances.FreeBalance(dest)
	if err != nil {
		return nil, err
	}

	return exec.Execute(ctx, executor.Input{
		Dispatch:     d,
		ProgramID:    dest,
		Program:      program,
		Code:         code,
		GasLimit:     gasLimit,
		GasAllowance: allowance,
		BlockNumber:  l.number,
		Balance:      balance,
	})
}

// notExecuted returns the journal for a dispatch whose destination
// cannot run: the value goes back to the sender and the gas is released.
func notExecuted(d core.StoredDispatch) []journal.Note {
	notes := []journal.Note{journal.MessageDispatched{Outcome: journal.DispatchOutcome{
		Kind:      journal.OutcomeNotExecuted,
		MessageID: d.ID(),
		ProgramID: d.Destination(),
		Origin:    d.Source(),
	}}}
	if d.Message.HasValue() {
		notes = append(notes, journal.SendValue{From: d.Source(), Value: d.Message.Value})
	}
	return append(notes, journal.MessageConsumed{MessageID: d.ID()})
}
