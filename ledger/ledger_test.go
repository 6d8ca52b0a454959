package ledger

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/balances"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/executor"
	"github.com/najoast/gearledger/journal"
	"github.com/najoast/gearledger/logging/testlog"
	"github.com/najoast/gearledger/mailbox"
	"github.com/najoast/gearledger/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aliceFunds = 1_000_000_000

var (
	alice  = core.ProgramIDFromUint64(1)
	bob    = core.ProgramIDFromUint64(2)
	author = core.ProgramIDFromUint64(255)

	echoCode = []byte("echo")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

type harness struct {
	t    *testing.T
	l    *Ledger
	exec *executor.Echo
	ctx  context.Context
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	l := New(storage.NewMemoryStore(), cfg, testlog.Start(t))
	require.NoError(t, l.Balances.Deposit(alice, u(aliceFunds)))
	require.NoError(t, l.Balances.Deposit(author, u(cfg.ExistentialDeposit)))
	return &harness{t: t, l: l, exec: executor.NewEcho(), ctx: context.Background()}
}

// persistentConfig keeps the queue and mailbox between blocks.
func persistentConfig() Config {
	cfg := DefaultConfig()
	cfg.ClearStoragesOnReset = false
	return cfg
}

func (h *harness) begin(number uint32) {
	h.t.Helper()
	require.NoError(h.t, h.l.BeginBlock(number, author))
}

func (h *harness) process() {
	h.t.Helper()
	require.NoError(h.t, h.l.ProcessQueue(h.ctx, h.exec))
}

func (h *harness) deploy(salt string) core.ProgramID {
	h.t.Helper()
	id, _, err := h.l.SubmitProgram(alice, echoCode, []byte(salt), nil, 10_000, nil)
	require.NoError(h.t, err)
	h.process()
	p, ok, err := h.l.Programs.Get(id)
	require.NoError(h.t, err)
	require.True(h.t, ok)
	require.Equal(h.t, core.ProgramInitialized, p.State)
	return id
}

func (h *harness) free(who core.ProgramID) uint64 {
	h.t.Helper()
	v, err := h.l.Balances.FreeBalance(who)
	require.NoError(h.t, err)
	return v.Uint64()
}

func (h *harness) reserved(who core.ProgramID) uint64 {
	h.t.Helper()
	v, err := h.l.Balances.ReservedBalance(who)
	require.NoError(h.t, err)
	return v.Uint64()
}

func (h *harness) total(who core.ProgramID) uint64 {
	h.t.Helper()
	v, err := h.l.Balances.TotalBalance(who)
	require.NoError(h.t, err)
	return v.Uint64()
}

func (h *harness) gasSupply() uint64 {
	h.t.Helper()
	v, err := h.l.Gas.TotalSupply()
	require.NoError(h.t, err)
	return v
}

func (h *harness) assertIssuance(accounts ...core.ProgramID) {
	h.t.Helper()
	issuance, err := h.l.Balances.TotalIssuance()
	require.NoError(h.t, err)
	var sum uint64
	for _, a := range accounts {
		sum += h.total(a)
	}
	assert.Equal(h.t, issuance.Uint64(), sum)
}

func (h *harness) hasEvent(kind core.EventKind) bool {
	for _, ev := range h.l.Events() {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestSubmitProgramRunsInit(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.begin(1)

	id, initID, err := h.l.SubmitProgram(alice, echoCode, []byte("salt"), nil, 10_000, nil)
	require.NoError(t, err)
	assert.Equal(t, core.ProgramIDFrom(core.CodeIDFrom(echoCode), []byte("salt")), id)
	assert.Equal(t, uint64(10_000), h.reserved(alice))

	p, ok, err := h.l.Programs.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.ProgramUninitialized, p.State)
	assert.Equal(t, initID, p.InitMessage)

	h.process()

	p, _, err = h.l.Programs.Get(id)
	require.NoError(t, err)
	assert.Equal(t, core.ProgramInitialized, p.State)
	assert.Equal(t, uint64(aliceFunds-1_000), h.free(alice))
	assert.Zero(t, h.reserved(alice))
	assert.Equal(t, uint64(500+1_000), h.free(author))
	assert.Zero(t, h.gasSupply())

	kinds := make([]core.EventKind, 0)
	for _, ev := range h.l.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []core.EventKind{
		core.EventCodeSaved,
		core.EventMessageEnqueued,
		core.EventInitSuccess,
		core.EventMessagesDequeued,
	}, kinds)

	s, err := h.l.EndBlock()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), s.Sent)
	assert.Equal(t, uint32(1), s.Dequeued)
	assert.Zero(t, s.QueueLen)
	assert.Equal(t, uint64(1), h.l.Stats.Snapshot().MessagesProcessed)
}

func TestInitFailureTerminatesProgram(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.begin(1)

	id, _, err := h.l.SubmitProgram(alice, echoCode, nil, nil, 500, nil)
	require.NoError(t, err)
	h.process()

	p, _, err := h.l.Programs.Get(id)
	require.NoError(t, err)
	assert.Equal(t, core.ProgramTerminated, p.State)
	assert.True(t, h.hasEvent(core.EventInitFailure))
	assert.Equal(t, uint64(aliceFunds-500), h.free(alice))
	assert.Zero(t, h.reserved(alice))
	assert.Zero(t, h.gasSupply())
}

func TestHandleRepliesToMailbox(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.begin(1)
	prog := h.deploy("a")

	msgID, err := h.l.SendMessage(alice, prog, []byte("ping"), 10_000, u(1_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(11_000), h.reserved(alice))
	h.process()

	// init and handle each cost 1000 gas, plus the value sent to the program
	assert.Equal(t, uint64(aliceFunds-3_000), h.free(alice))
	assert.Zero(t, h.reserved(alice))
	assert.Equal(t, uint64(1_000), h.free(prog))
	assert.True(t, h.hasEvent(core.EventLog))

	msgs, err := h.l.Messenger.Mailbox.Messages(alice)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, core.NewReplyMessageID(msgID), msgs[0].ID)
	assert.Equal(t, prog, msgs[0].Source)
	assert.Equal(t, []byte("ping"), msgs[0].Payload)
	require.NotNil(t, msgs[0].Reply)
	assert.Equal(t, msgID, msgs[0].Reply.ReplyTo)

	require.NoError(t, h.l.ClaimValueFromMailbox(alice, msgs[0].ID))
	n, err := h.l.Messenger.Mailbox.Len(alice)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, h.hasEvent(core.EventClaimedValue))

	err = h.l.ClaimValueFromMailbox(alice, msgs[0].ID)
	assert.ErrorIs(t, err, mailbox.ErrElementNotFound)

	h.assertIssuance(alice, author, prog)
}

func TestSendReply(t *testing.T) {
	h := newHarness(t, persistentConfig())
	h.begin(1)
	prog := h.deploy("a")

	msgID, err := h.l.SendMessage(alice, prog, []byte("ping"), 10_000, nil)
	require.NoError(t, err)
	h.process()
	_, err = h.l.EndBlock()
	require.NoError(t, err)

	h.begin(2)
	replyTo := core.NewReplyMessageID(msgID)
	replyID, err := h.l.SendReply(alice, replyTo, []byte("pong"), 10_000, nil)
	require.NoError(t, err)
	assert.Equal(t, core.NewReplyMessageID(replyTo), replyID)

	n, err := h.l.Messenger.Mailbox.Len(alice)
	require.NoError(t, err)
	assert.Zero(t, n)

	queued, err := h.l.Messenger.Queue.Values()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, core.DispatchReply, queued[0].Kind)
	assert.Equal(t, prog, queued[0].Destination())

	h.process()
	assert.Equal(t, uint64(aliceFunds-3_000), h.free(alice))
	assert.Zero(t, h.reserved(alice))
	assert.Zero(t, h.gasSupply())

	_, err = h.l.SendReply(alice, replyTo, nil, 10_000, nil)
	assert.ErrorIs(t, err, mailbox.ErrElementNotFound)
	assert.Zero(t, h.reserved(alice))
}

func TestSendMessageToUserTransfers(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.begin(1)

	_, err := h.l.SendMessage(alice, bob, []byte("hi"), 10_000, u(700))
	require.NoError(t, err)

	assert.Equal(t, uint64(700), h.free(bob))
	assert.Equal(t, uint64(aliceFunds-700), h.free(alice))
	assert.True(t, h.hasEvent(core.EventLog))

	queued, err := h.l.Messenger.Queue.Len()
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestWaitAndWake(t *testing.T) {
	h := newHarness(t, persistentConfig())
	h.begin(1)
	prog := h.deploy("a")

	waitID, err := h.l.SendMessage(alice, prog, executor.CommandWait, 10_000, nil)
	require.NoError(t, err)
	h.process()

	n, err := h.l.Programs.WaitlistLen(prog)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	left, _, err := h.l.Gas.GetLimit(waitID)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_000), left)
	_, err = h.l.EndBlock()
	require.NoError(t, err)

	h.begin(3)
	_, err = h.l.SendMessage(alice, prog, executor.WakePayload(waitID), 10_000, nil)
	require.NoError(t, err)
	h.process()
	assert.True(t, h.hasEvent(core.EventRemovedFromWaitList))

	// the waker paid two blocks of rent; the woken message only ran and waited again
	left, _, err = h.l.Gas.GetLimit(waitID)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_000-1_000), left)

	var entries []core.WaitlistEntry
	require.NoError(t, h.l.Programs.IterWaitlist(func(e core.WaitlistEntry) error {
		entries = append(entries, e)
		return nil
	}))
	require.Len(t, entries, 1)
	assert.Equal(t, waitID, entries[0].Dispatch.ID())
	assert.Equal(t, uint32(3), entries[0].BlockNumber)

	assert.Equal(t, uint64(8_000), h.reserved(alice))
	assert.Equal(t, uint64(500+1_000+1_000+1_000+2_000+1_000), h.free(author))
	h.assertIssuance(alice, author)

	dequeued, err := h.l.Messenger.Dequeued.Get()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), dequeued)
}

func TestExitSendsBalanceAndStopsExecution(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.begin(1)
	prog := h.deploy("a")

	_, err := h.l.SendMessage(alice, prog, []byte("fund"), 10_000, u(5_000))
	require.NoError(t, err)
	h.process()
	assert.Equal(t, uint64(5_000), h.free(prog))

	_, err = h.l.SendMessage(alice, prog, executor.CommandExit, 10_000, nil)
	require.NoError(t, err)
	h.process()

	p, _, err := h.l.Programs.Get(prog)
	require.NoError(t, err)
	assert.Equal(t, core.ProgramTerminated, p.State)
	assert.Zero(t, h.total(prog))
	assert.Equal(t, uint64(aliceFunds-3_000), h.free(alice))

	before := h.free(alice)
	_, err = h.l.SendMessage(alice, prog, []byte("late"), 10_000, u(1_000))
	require.NoError(t, err)
	h.process()

	assert.True(t, h.hasEvent(core.EventMessageNotExecuted))
	assert.Equal(t, before, h.free(alice))
	assert.Zero(t, h.reserved(alice))
	assert.Zero(t, h.gasSupply())
	h.assertIssuance(alice, author, prog)
}

func TestStopProcessingResumesNextBlock(t *testing.T) {
	cfg := persistentConfig()
	cfg.BlockGasLimit = 1_500
	h := newHarness(t, cfg)
	h.begin(1)

	prog, _, err := h.l.SubmitProgram(alice, echoCode, nil, nil, 1_000, nil)
	require.NoError(t, err)
	msgID, err := h.l.SendMessage(alice, prog, []byte("ping"), 1_000, nil)
	require.NoError(t, err)

	h.process()

	allowed, err := h.l.Messenger.QueueProcessing.Allowed()
	require.NoError(t, err)
	assert.False(t, allowed)
	queued, err := h.l.Messenger.Queue.Values()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, msgID, queued[0].ID())

	s, err := h.l.EndBlock()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), s.Dequeued)
	assert.Equal(t, uint64(500), s.GasLeft)

	h.begin(2)
	h.process()

	queued, err = h.l.Messenger.Queue.Values()
	require.NoError(t, err)
	assert.Empty(t, queued)
	n, err := h.l.Messenger.Mailbox.Len(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestDispatchWaitsForInit(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.begin(1)

	prog, _, err := h.l.SubmitProgram(alice, echoCode, nil, nil, 10_000, nil)
	require.NoError(t, err)
	_, err = h.l.SendMessage(alice, prog, []byte("early"), 10_000, nil)
	require.NoError(t, err)

	// move the init message behind the handle message
	initDispatch, ok, err := h.l.Messenger.Queue.PopFront()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h.l.Messenger.Queue.PushBack(initDispatch))

	h.process()

	assert.True(t, h.hasEvent(core.EventAddedToWaitList))
	assert.True(t, h.hasEvent(core.EventInitSuccess))
	n, err := h.l.Programs.WaitlistLen(prog)
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs, err := h.l.Messenger.Mailbox.Messages(alice)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("early"), msgs[0].Payload)
	assert.Zero(t, h.gasSupply())
}

func TestClearStoragesOnReset(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.begin(1)
	prog := h.deploy("a")

	_, err := h.l.SendMessage(alice, prog, []byte("ping"), 10_000, nil)
	require.NoError(t, err)
	h.process()
	_, err = h.l.SendMessage(alice, prog, []byte("pending"), 10_000, nil)
	require.NoError(t, err)
	_, err = h.l.EndBlock()
	require.NoError(t, err)

	h.begin(2)
	queued, err := h.l.Messenger.Queue.Len()
	require.NoError(t, err)
	assert.Zero(t, queued)
	n, err := h.l.Messenger.Mailbox.Len(alice)
	require.NoError(t, err)
	assert.Zero(t, n)
	sent, err := h.l.Messenger.Sent.Get()
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestSubmissionValidation(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	_, err := h.l.SendMessage(alice, bob, nil, 1_000, nil)
	assert.ErrorIs(t, err, ErrNoBlock)
	assert.ErrorIs(t, h.l.ProcessQueue(h.ctx, h.exec), ErrNoBlock)
	_, err = h.l.EndBlock()
	assert.ErrorIs(t, err, ErrNoBlock)

	h.begin(1)
	require.NoError(t, h.l.Balances.Deposit(bob, u(600)))

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{
			name: "value below existential deposit",
			call: func() error {
				_, err := h.l.SendMessage(alice, bob, nil, 1_000, u(100))
				return err
			},
			want: ErrValueTooLow,
		},
		{
			name: "gas above block limit",
			call: func() error {
				_, _, err := h.l.SubmitProgram(alice, echoCode, nil, nil, DefaultConfig().BlockGasLimit+1, nil)
				return err
			},
			want: ErrGasLimitTooHigh,
		},
		{
			name: "cannot pay for gas",
			call: func() error {
				_, _, err := h.l.SubmitProgram(bob, echoCode, nil, nil, 10_000, nil)
				return err
			},
			want: ErrInsufficientBalance,
		},
		{
			name: "reply to unknown message",
			call: func() error {
				_, err := h.l.SendReply(alice, core.MessageID{1}, nil, 1_000, nil)
				return err
			},
			want: mailbox.ErrElementNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.want)
		})
	}

	_, _, err = h.l.SubmitProgram(alice, echoCode, []byte("x"), nil, 10_000, nil)
	require.NoError(t, err)
	_, _, err = h.l.SubmitProgram(alice, echoCode, []byte("x"), nil, 10_000, nil)
	assert.ErrorIs(t, err, ErrProgramAlreadyExists)
}

func TestProcessQueueHonorsContext(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.begin(1)
	_, _, err := h.l.SubmitProgram(alice, echoCode, nil, nil, 10_000, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.l.ProcessQueue(ctx, h.exec), context.Canceled)

	queued, err := h.l.Messenger.Queue.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), queued)
}

func TestFailedJournalRollsBackDispatch(t *testing.T) {
	h := newHarness(t, persistentConfig())
	h.begin(1)
	prog := h.deploy("a")

	id, err := h.l.SendMessage(alice, prog, []byte("ping"), 10_000, nil)
	require.NoError(t, err)

	queuedBefore, err := h.l.Messenger.Queue.Values()
	require.NoError(t, err)
	dequeuedBefore, err := h.l.Messenger.Dequeued.Get()
	require.NoError(t, err)
	supplyBefore := h.gasSupply()
	reservedBefore := h.reserved(alice)
	eventsBefore := len(h.l.Events())
	processedBefore := h.l.Stats.Snapshot().MessagesProcessed

	// the child is routed before the journal hits an unfunded sender
	stranger := core.ProgramIDFromUint64(77)
	faulty := executor.Func(func(_ context.Context, in executor.Input) ([]journal.Note, error) {
		child := core.StoredMessage{
			ID:          core.NewOutgoingMessageID(in.Dispatch.ID(), 0),
			Source:      prog,
			Destination: prog,
		}
		return []journal.Note{
			journal.SendDispatch{MessageID: in.Dispatch.ID(), Dispatch: core.Dispatch{Kind: core.DispatchHandle, Message: child}},
			journal.SendValue{From: stranger, Value: u(1_000)},
		}, nil
	})
	err = h.l.ProcessQueue(h.ctx, faulty)
	require.Error(t, err)
	assert.True(t, journal.IsFatal(err))

	queuedAfter, err := h.l.Messenger.Queue.Values()
	require.NoError(t, err)
	require.Len(t, queuedAfter, 1)
	assert.Equal(t, queuedBefore, queuedAfter)
	assert.Equal(t, id, queuedAfter[0].ID())
	dequeuedAfter, err := h.l.Messenger.Dequeued.Get()
	require.NoError(t, err)
	assert.Equal(t, dequeuedBefore, dequeuedAfter)
	assert.Equal(t, supplyBefore, h.gasSupply())
	assert.Equal(t, reservedBefore, h.reserved(alice))
	assert.Len(t, h.l.Events(), eventsBefore)
	assert.Equal(t, processedBefore, h.l.Stats.Snapshot().MessagesProcessed)

	// the untouched dispatch still runs normally
	h.process()
	reply := core.NewReplyMessageID(id)
	ok, err := h.l.Messenger.Mailbox.Contains(alice, reply)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFailedSubmissionLeavesNoTrace(t *testing.T) {
	h := newHarness(t, persistentConfig())
	h.begin(1)

	freeBefore := h.free(alice)
	sentBefore, err := h.l.Messenger.Sent.Get()
	require.NoError(t, err)
	eventsBefore := len(h.l.Events())

	// the nonce is taken before the transfer is refused
	_, err = h.l.SendMessage(alice, bob, []byte("hi"), 0, u(2*aliceFunds))
	require.ErrorIs(t, err, balances.ErrInsufficientBalance)

	assert.Equal(t, freeBefore, h.free(alice))
	sentAfter, err := h.l.Messenger.Sent.Get()
	require.NoError(t, err)
	assert.Equal(t, sentBefore, sentAfter)
	assert.Len(t, h.l.Events(), eventsBefore)
}
