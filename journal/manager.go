package journal

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/balances"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/gas"
	"github.com/najoast/gearledger/messenger"
	"github.com/najoast/gearledger/programs"
	"github.com/rs/zerolog"
)

// Currency is the balance ledger the manager moves value through.
type Currency interface {
	Reserve(who core.ProgramID, amount *uint256.Int) error
	Unreserve(who core.ProgramID, amount *uint256.Int) (*uint256.Int, error)
	RepatriateReserved(from, to core.ProgramID, amount *uint256.Int, status balances.Status) error
	Transfer(from, to core.ProgramID, amount *uint256.Int, existence balances.Existence) error
	FreeBalance(who core.ProgramID) (*uint256.Int, error)
	CanReserve(who core.ProgramID, amount *uint256.Int) (bool, error)
	MinimumBalance() *uint256.Int
}

// GasTree is the gas ownership tree.
type GasTree interface {
	Spend(key core.MessageID, amount uint64) error
	Consume(key core.MessageID) (*gas.ConsumeOutcome, error)
	GetOrigin(key core.MessageID) (core.ProgramID, bool, error)
	Split(key, newKey core.MessageID) error
	SplitWithValue(key, newKey core.MessageID, amount uint64) error
}

// GasAllowance is the gas left in the current block.
type GasAllowance interface {
	Get() (uint64, error)
	Decrease(amount uint64) error
}

// Programs is program and waitlist storage.
type Programs interface {
	Exists(id core.ProgramID) (bool, error)
	Get(id core.ProgramID) (core.Program, bool, error)
	Set(id core.ProgramID, p core.Program) error
	SetInitialized(id core.ProgramID) error
	SetTerminated(id core.ProgramID) error
	SetPageData(id core.ProgramID, page core.PageNumber, data []byte) error
	SetAllocations(id core.ProgramID, allocations []core.WasmPageNumber) error
	CodeExists(id core.CodeID) (bool, error)
	InsertWaiting(program core.ProgramID, dispatch core.StoredDispatch, blockNumber uint32) error
	RemoveWaiting(program core.ProgramID, id core.MessageID) (core.WaitlistEntry, bool, error)
	DrainWaitlist(program core.ProgramID) ([]core.WaitlistEntry, error)
	TakeWaitingInit(program core.ProgramID) ([]core.MessageID, error)
}

// BlockInfo exposes the block being built.
type BlockInfo interface {
	BlockNumber() uint32
	BlockAuthor() core.ProgramID
}

// EventSink records ledger events.
type EventSink interface {
	Emit(core.Event)
}

// Params are the economic constants of the ledger.
type Params struct {
	// WaitListFeePerBlock is the gas charged per block a dispatch spends on the waitlist
	WaitListFeePerBlock uint64

	// GasPrice converts gas to currency linearly
	GasPrice uint64
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Messenger *messenger.Messenger
	Currency  Currency
	Gas       GasTree
	Allowance GasAllowance
	Programs  Programs
	Block     BlockInfo
	Events    EventSink
	Logger    zerolog.Logger
}

// Manager applies journal notes to ledger state.
type Manager struct {
	deps   Deps
	params Params
	log    zerolog.Logger

	// destinations treated as programs until the current journal ends
	marked map[core.ProgramID]struct{}
}

var _ Handler = (*Manager)(nil)

// NewManager returns a Manager over deps.
func NewManager(deps Deps, params Params) *Manager {
	return &Manager{
		deps:   deps,
		params: params,
		log:    deps.Logger.With().Str("component", "journal").Logger(),
		marked: make(map[core.ProgramID]struct{}),
	}
}

func (m *Manager) beginJournal() {
	m.marked = make(map[core.ProgramID]struct{})
}

// Apply applies one journal.
func (m *Manager) Apply(notes []Note) error {
	return Apply(m, notes)
}

func fatal(op string, err error) error {
	return &InvariantError{Op: op, Err: err}
}

// GasPrice converts gas to currency.
func (m *Manager) GasPrice(gasAmount uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(gasAmount), uint256.NewInt(m.params.GasPrice))
}

func (m *Manager) emit(ev core.Event) {
	if m.deps.Events != nil {
		m.deps.Events.Emit(ev)
	}
}

func (m *Manager) requeueWaitingInit(program core.ProgramID) error {
	ids, err := m.deps.Programs.TakeWaitingInit(program)
	if err != nil {
		return err
	}
	for _, id := range ids {
		entry, ok, err := m.deps.Programs.RemoveWaiting(program, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := m.deps.Messenger.Queue.PushBack(entry.Dispatch); err != nil {
			return fatal("requeue waiting init", err)
		}
	}
	return nil
}

func (m *Manager) MessageDispatched(outcome DispatchOutcome) error {
	ev := core.Event{
		MessageID: outcome.MessageID,
		ProgramID: outcome.ProgramID,
		Source:    outcome.Origin,
		Reason:    outcome.Reason,
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		m.log.Trace().Stringer("message", outcome.MessageID).Msg("dispatch outcome success")
		ev.Kind = core.EventMessageDispatched

	case OutcomeTrap:
		m.log.Info().
			Stringer("program", outcome.ProgramID).
			Str("trap", outcome.Reason).
			Msg("program terminated with a trap")
		ev.Kind = core.EventMessageDispatched

	case OutcomeInitSuccess:
		if err := m.deps.Programs.SetInitialized(outcome.ProgramID); err != nil {
			return fatal("init success", err)
		}
		if err := m.requeueWaitingInit(outcome.ProgramID); err != nil {
			return err
		}
		m.log.Trace().
			Stringer("message", outcome.MessageID).
			Stringer("program", outcome.ProgramID).
			Msg("init success")
		ev.Kind = core.EventInitSuccess

	case OutcomeInitFailure:
		p, ok, err := m.deps.Programs.Get(outcome.ProgramID)
		if err != nil {
			return err
		}
		if !ok || p.State != core.ProgramUninitialized {
			return fatal("init failure", fmt.Errorf("%w: %s is not uninitialized", programs.ErrInvalidTransition, outcome.ProgramID))
		}
		if err := m.requeueWaitingInit(outcome.ProgramID); err != nil {
			return err
		}
		if err := m.deps.Programs.SetTerminated(outcome.ProgramID); err != nil {
			return fatal("init failure", err)
		}
		m.log.Trace().
			Stringer("message", outcome.MessageID).
			Stringer("program", outcome.ProgramID).
			Msg("init failure")
		ev.Kind = core.EventInitFailure

	case OutcomeNotExecuted:
		ev.Kind = core.EventMessageNotExecuted

	default:
		return fatal("message dispatched", errors.New("unknown outcome "+outcome.Kind.String()))
	}

	m.emit(ev)
	return nil
}

// charge burns amount of key's gas and pays its price to the block author.
func (m *Manager) charge(op string, key core.MessageID, amount uint64) error {
	if err := m.deps.Gas.Spend(key, amount); err != nil {
		m.log.Debug().Err(err).
			Stringer("message", key).
			Uint64("amount", amount).
			Msg("gas spend declined")
		return nil
	}

	origin, ok, err := m.deps.Gas.GetOrigin(key)
	if err != nil {
		return fatal(op, err)
	}
	if !ok {
		m.log.Debug().Stringer("message", key).Msg("no gas origin")
		return nil
	}

	price := m.GasPrice(amount)
	author := m.deps.Block.BlockAuthor()
	if err := m.deps.Currency.RepatriateReserved(origin, author, price, balances.Free); err != nil {
		m.log.Debug().Err(err).
			Stringer("origin", origin).
			Stringer("author", author).
			Str("charge", price.Dec()).
			Msg("gas charge not paid")
	}
	return nil
}

func (m *Manager) GasBurned(messageID core.MessageID, amount uint64) error {
	m.log.Debug().Stringer("message", messageID).Uint64("amount", amount).Msg("gas burned")

	if err := m.deps.Allowance.Decrease(amount); err != nil {
		return err
	}
	return m.charge("gas burned", messageID, amount)
}

func (m *Manager) ExitDispatch(exited, valueDestination core.ProgramID) error {
	entries, err := m.deps.Programs.DrainWaitlist(exited)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.deps.Messenger.Queue.PushBack(e.Dispatch); err != nil {
			return fatal("exit dispatch", err)
		}
	}

	if err := m.deps.Programs.SetTerminated(exited); err != nil {
		return fatal("exit dispatch", err)
	}

	// reserved funds still back messages in flight, only free balance moves
	free, err := m.deps.Currency.FreeBalance(exited)
	if err != nil {
		return err
	}
	if free.IsZero() {
		return nil
	}
	if err := m.deps.Currency.Transfer(exited, valueDestination, free, balances.AllowDeath); err != nil {
		return fatal("exit dispatch", err)
	}
	return nil
}

func (m *Manager) MessageConsumed(messageID core.MessageID) error {
	outcome, err := m.deps.Gas.Consume(messageID)
	if err != nil {
		return fatal("message consumed", err)
	}
	if outcome == nil || outcome.GasLeft == 0 {
		return nil
	}

	refund := m.GasPrice(outcome.GasLeft)
	m.log.Debug().
		Stringer("origin", outcome.Origin).
		Uint64("gas_left", outcome.GasLeft).
		Msg("unreserve on message processed")

	notFreed, err := m.deps.Currency.Unreserve(outcome.Origin, refund)
	if err != nil {
		m.log.Debug().Err(err).Stringer("origin", outcome.Origin).Msg("refund failed")
		return nil
	}
	if !notFreed.IsZero() {
		m.log.Debug().Str("not_freed", notFreed.Dec()).Stringer("origin", outcome.Origin).Msg("refund partially freed")
	}
	return nil
}

func (m *Manager) isDestinationProgram(id core.ProgramID) (bool, error) {
	exists, err := m.deps.Programs.Exists(id)
	if err != nil || exists {
		return exists, err
	}
	_, marked := m.marked[id]
	return marked, nil
}

func (m *Manager) SendDispatch(messageID core.MessageID, dispatch core.Dispatch) error {
	stored := dispatch.IntoStored()
	msg := stored.Message

	if msg.HasValue() {
		if err := m.deps.Currency.Reserve(msg.Source, msg.Value); err != nil {
			return fatal("send dispatch", err)
		}
	}

	m.log.Debug().
		Stringer("message", msg.ID).
		Stringer("from", messageID).
		Stringer("destination", msg.Destination).
		Msg("sending message")

	isProgram, err := m.isDestinationProgram(msg.Destination)
	if err != nil {
		return err
	}

	if isProgram {
		if dispatch.GasLimit != nil {
			err = m.deps.Gas.SplitWithValue(messageID, msg.ID, *dispatch.GasLimit)
		} else {
			err = m.deps.Gas.Split(messageID, msg.ID)
		}
		if err != nil {
			m.log.Debug().Err(err).Stringer("message", msg.ID).Msg("gas split failed")
		}
		if err := m.deps.Messenger.Queue.PushBack(stored); err != nil {
			return fatal("send dispatch", err)
		}
		return nil
	}

	// the mailbox ends a message's life, its gas stays with the parent
	if err := m.deps.Messenger.Mailbox.Insert(msg); err != nil {
		m.log.Error().Err(err).Stringer("message", msg.ID).Msg("error occurred in mailbox insertion")
		return nil
	}
	m.emit(core.Event{
		Kind:        core.EventLog,
		MessageID:   msg.ID,
		Source:      msg.Source,
		Destination: msg.Destination,
		Value:       msg.ValueOrZero(),
		Message:     &msg,
	})
	return nil
}

func (m *Manager) WaitDispatch(dispatch core.StoredDispatch) error {
	if err := m.deps.Programs.InsertWaiting(dispatch.Destination(), dispatch, m.deps.Block.BlockNumber()); err != nil {
		return err
	}
	m.emit(core.Event{
		Kind:        core.EventAddedToWaitList,
		MessageID:   dispatch.ID(),
		Source:      dispatch.Source(),
		Destination: dispatch.Destination(),
	})
	return nil
}

func (m *Manager) WakeMessage(messageID core.MessageID, programID core.ProgramID, awakeningID core.MessageID) error {
	entry, ok, err := m.deps.Programs.RemoveWaiting(programID, awakeningID)
	if err != nil {
		return err
	}
	if !ok {
		m.log.Debug().
			Stringer("awakening", awakeningID).
			Stringer("from", messageID).
			Msg("attempt to awaken unknown message")
		return nil
	}

	var elapsed uint64
	if bn := m.deps.Block.BlockNumber(); bn > entry.BlockNumber {
		elapsed = uint64(bn - entry.BlockNumber)
	}
	if rent := m.params.WaitListFeePerBlock * elapsed; rent > 0 {
		// the waker pays for the time the woken message spent waiting
		if err := m.charge("wake message", messageID, rent); err != nil {
			return err
		}
	}

	if err := m.deps.Messenger.Queue.PushBack(entry.Dispatch); err != nil {
		return fatal("wake message", err)
	}
	m.emit(core.Event{
		Kind:        core.EventRemovedFromWaitList,
		MessageID:   awakeningID,
		Destination: programID,
	})
	return nil
}

func programFault(op string, err error) error {
	if errors.Is(err, programs.ErrProgramNotFound) || errors.Is(err, programs.ErrInvalidTransition) {
		return fatal(op, err)
	}
	return err
}

func (m *Manager) UpdatePagesData(programID core.ProgramID, pages map[core.PageNumber][]byte) error {
	order := make([]core.PageNumber, 0, len(pages))
	for p := range pages {
		order = append(order, p)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, p := range order {
		if err := m.deps.Programs.SetPageData(programID, p, pages[p]); err != nil {
			return programFault("update pages data", err)
		}
	}
	return nil
}

func (m *Manager) UpdateAllocations(programID core.ProgramID, allocations []core.WasmPageNumber) error {
	if err := m.deps.Programs.SetAllocations(programID, allocations); err != nil {
		return programFault("update allocations", err)
	}
	return nil
}

func (m *Manager) SendValue(from core.ProgramID, to *core.ProgramID, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return nil
	}

	if to == nil {
		notFreed, err := m.deps.Currency.Unreserve(from, value)
		if err != nil {
			return fatal("send value", err)
		}
		if !notFreed.IsZero() {
			return fatal("send value", errors.New("unreserve left "+notFreed.Dec()+" reserved"))
		}
		m.log.Debug().Str("value", value.Dec()).Stringer("from", from).Msg("value unreserved")
		return nil
	}

	m.log.Debug().
		Str("value", value.Dec()).
		Stringer("from", from).
		Stringer("to", *to).
		Msg("sending value")

	viable, err := m.deps.Currency.CanReserve(*to, m.deps.Currency.MinimumBalance())
	if err != nil {
		return err
	}
	if viable {
		if err := m.deps.Currency.RepatriateReserved(from, *to, value, balances.Free); err != nil {
			return fatal("send value", err)
		}
		return nil
	}

	notFreed, err := m.deps.Currency.Unreserve(from, value)
	if err != nil {
		return fatal("send value", err)
	}
	if !notFreed.IsZero() {
		return fatal("send value", errors.New("unreserve left "+notFreed.Dec()+" reserved"))
	}
	if err := m.deps.Currency.Transfer(from, *to, value, balances.AllowDeath); err != nil {
		return fatal("send value", err)
	}
	return nil
}

func (m *Manager) StoreNewPrograms(codeID core.CodeID, candidates []Candidate) error {
	exists, err := m.deps.Programs.CodeExists(codeID)
	if err != nil {
		return err
	}
	if !exists {
		m.log.Debug().Stringer("code", codeID).Msg("no referencing code for candidate programs")
		for _, c := range candidates {
			m.marked[c.ProgramID] = struct{}{}
		}
		return nil
	}

	for _, c := range candidates {
		present, err := m.deps.Programs.Exists(c.ProgramID)
		if err != nil {
			return err
		}
		if present {
			m.log.Debug().Stringer("program", c.ProgramID).Msg("program already exists")
			continue
		}
		if err := m.deps.Programs.Set(c.ProgramID, core.NewProgram(codeID, c.InitMessage)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) StopProcessing(dispatch core.StoredDispatch, gasBurned uint64) error {
	allowance, err := m.deps.Allowance.Get()
	if err != nil {
		return err
	}
	m.log.Debug().
		Stringer("message", dispatch.ID()).
		Uint64("allowance", allowance).
		Uint64("gas_burned", gasBurned).
		Msg("not enough gas for processing")

	if err := m.deps.Messenger.Sent.Increase(); err != nil {
		return err
	}
	if err := m.deps.Allowance.Decrease(gasBurned); err != nil {
		return err
	}
	if err := m.deps.Messenger.Queue.PushFront(dispatch); err != nil {
		return fatal("stop processing", err)
	}
	return nil
}
