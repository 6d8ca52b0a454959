package executor

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/journal"
)

// Echo payload commands. Any other payload is echoed back to the sender.
var (
	CommandWait = []byte("wait")
	CommandExit = []byte("exit")
	CommandWake = []byte("wake:")
)

// Echo is a demo program backend. It charges a flat gas cost per
// dispatch and replies to handle messages with their own payload.
type Echo struct {
	InitCost   uint64
	HandleCost uint64
}

// NewEcho returns an Echo with the default costs.
func NewEcho() *Echo {
	return &Echo{InitCost: 1_000, HandleCost: 1_000}
}

func (e *Echo) Execute(ctx context.Context, in Input) ([]journal.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := in.Dispatch
	msg := d.Message
	cost := e.HandleCost
	if d.Kind == core.DispatchInit {
		cost = e.InitCost
	}

	if cost > in.GasAllowance {
		return []journal.Note{journal.StopProcessing{Dispatch: d, GasBurned: 0}}, nil
	}

	outcome := journal.DispatchOutcome{
		Kind:      journal.OutcomeSuccess,
		MessageID: msg.ID,
		ProgramID: in.ProgramID,
		Origin:    msg.Source,
	}

	if in.GasLimit < cost {
		outcome.Kind = journal.OutcomeTrap
		outcome.Reason = "gas limit exceeded"
		if d.Kind == core.DispatchInit {
			outcome.Kind = journal.OutcomeInitFailure
		}
		return []journal.Note{
			journal.GasBurned{MessageID: msg.ID, Amount: in.GasLimit},
			journal.MessageDispatched{Outcome: outcome},
			journal.SendValue{From: msg.Source, Value: msg.ValueOrZero()},
			journal.MessageConsumed{MessageID: msg.ID},
		}, nil
	}

	notes := []journal.Note{journal.GasBurned{MessageID: msg.ID, Amount: cost}}
	receive := journal.SendValue{From: msg.Source, To: &in.ProgramID, Value: msg.ValueOrZero()}

	switch {
	case d.Kind == core.DispatchInit:
		outcome.Kind = journal.OutcomeInitSuccess
		return append(notes,
			journal.MessageDispatched{Outcome: outcome},
			receive,
			journal.MessageConsumed{MessageID: msg.ID},
		), nil

	case d.Kind == core.DispatchReply:

	case bytes.Equal(msg.Payload, CommandWait):
		return append(notes, journal.WaitDispatch{Dispatch: d}), nil

	case bytes.Equal(msg.Payload, CommandExit):
		return append(notes,
			journal.MessageDispatched{Outcome: outcome},
			receive,
			journal.ExitDispatch{ProgramID: in.ProgramID, ValueDestination: msg.Source},
			journal.MessageConsumed{MessageID: msg.ID},
		), nil

	case bytes.HasPrefix(msg.Payload, CommandWake):
		raw, err := hex.DecodeString(string(msg.Payload[len(CommandWake):]))
		if err == nil && len(raw) == len(core.MessageID{}) {
			var target core.MessageID
			copy(target[:], raw)
			notes = append(notes, journal.WakeMessage{MessageID: msg.ID, ProgramID: in.ProgramID, AwakeningID: target})
		}

	default:
		notes = append(notes, journal.SendDispatch{
			MessageID: msg.ID,
			Dispatch: core.Dispatch{
				Kind: core.DispatchReply,
				Message: core.StoredMessage{
					ID:          core.NewReplyMessageID(msg.ID),
					Source:      in.ProgramID,
					Destination: msg.Source,
					Payload:     append([]byte(nil), msg.Payload...),
					Reply:       &core.ReplyDetails{ReplyTo: msg.ID},
				},
			},
		})
	}

	return append(notes,
		journal.MessageDispatched{Outcome: outcome},
		receive,
		journal.MessageConsumed{MessageID: msg.ID},
	), nil
}

// WakePayload builds the payload that makes Echo wake id.
func WakePayload(id core.MessageID) []byte {
	return append(append([]byte(nil), CommandWake...), hex.EncodeToString(id[:])...)
}
