package executor

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	user = core.ProgramIDFromUint64(1)
	prog = core.ProgramIDFromUint64(100)
)

func input(kind core.DispatchKind, payload []byte, gasLimit uint64) Input {
	return Input{
		Dispatch: core.StoredDispatch{
			Kind: kind,
			Message: core.StoredMessage{
				ID: core.MessageID{1}, Source: user, Destination: prog, Payload: payload, Value: uint256.NewInt(0),
			},
		},
		ProgramID:    prog,
		GasLimit:     gasLimit,
		GasAllowance: 1_000_000,
	}
}

func TestEchoReplies(t *testing.T) {
	notes, err := NewEcho().Execute(context.Background(), input(core.DispatchHandle, []byte("ping"), 5_000))
	require.NoError(t, err)
	require.Len(t, notes, 5)

	send, ok := notes[1].(journal.SendDispatch)
	require.True(t, ok)
	assert.Equal(t, user, send.Dispatch.Message.Destination)
	assert.Equal(t, []byte("ping"), send.Dispatch.Message.Payload)
	assert.Equal(t, core.DispatchReply, send.Dispatch.Kind)
	assert.Equal(t, core.NewReplyMessageID(core.MessageID{1}), send.Dispatch.Message.ID)

	assert.IsType(t, journal.MessageConsumed{}, notes[4])
}

func TestEchoInit(t *testing.T) {
	notes, err := NewEcho().Execute(context.Background(), input(core.DispatchInit, nil, 5_000))
	require.NoError(t, err)
	out, ok := notes[1].(journal.MessageDispatched)
	require.True(t, ok)
	assert.Equal(t, journal.OutcomeInitSuccess, out.Outcome.Kind)
}

func TestEchoTraps(t *testing.T) {
	notes, err := NewEcho().Execute(context.Background(), input(core.DispatchInit, nil, 10))
	require.NoError(t, err)
	require.Len(t, notes, 4)
	out := notes[1].(journal.MessageDispatched)
	assert.Equal(t, journal.OutcomeInitFailure, out.Outcome.Kind)
	back := notes[2].(journal.SendValue)
	assert.Nil(t, back.To)
}

func TestEchoStopsWithoutAllowance(t *testing.T) {
	in := input(core.DispatchHandle, nil, 5_000)
	in.GasAllowance = 10
	notes, err := NewEcho().Execute(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.IsType(t, journal.StopProcessing{}, notes[0])
}

func TestEchoCommands(t *testing.T) {
	notes, err := NewEcho().Execute(context.Background(), input(core.DispatchHandle, CommandWait, 5_000))
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.IsType(t, journal.WaitDispatch{}, notes[1])

	target := core.MessageID{9, 9}
	notes, err = NewEcho().Execute(context.Background(), input(core.DispatchHandle, WakePayload(target), 5_000))
	require.NoError(t, err)
	wake, ok := notes[1].(journal.WakeMessage)
	require.True(t, ok)
	assert.Equal(t, target, wake.AwakeningID)

	notes, err = NewEcho().Execute(context.Background(), input(core.DispatchHandle, CommandExit, 5_000))
	require.NoError(t, err)
	exit, ok := notes[3].(journal.ExitDispatch)
	require.True(t, ok)
	assert.Equal(t, user, exit.ValueDestination)
}

func TestEchoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEcho().Execute(ctx, input(core.DispatchHandle, nil, 5_000))
	require.ErrorIs(t, err, context.Canceled)
}
