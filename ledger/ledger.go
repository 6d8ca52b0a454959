// Package ledger drives blocks: it accepts messages from accounts,
// drains the dispatch queue through an executor and applies the
// resulting journals.
//
// A Ledger is not safe for concurrent use. Exactly one goroutine, the
// block producer, may call it while a block is in progress. Stats is
// the only part meant to be read from elsewhere.
package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/balances"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/gas"
	"github.com/najoast/gearledger/journal"
	"github.com/najoast/gearledger/messenger"
	"github.com/najoast/gearledger/programs"
	"github.com/najoast/gearledger/storage"
	"github.com/rs/zerolog"
)

// Config holds the ledger constants.
type Config struct {
	BlockGasLimit        uint64
	WaitListFeePerBlock  uint64
	ExistentialDeposit   uint64
	GasPrice             uint64
	ClearStoragesOnReset bool
}

// DefaultConfig returns the constants used by a development node.
func DefaultConfig() Config {
	return Config{
		BlockGasLimit:        100_000_000_000,
		WaitListFeePerBlock:  1_000,
		ExistentialDeposit:   500,
		GasPrice:             1,
		ClearStoragesOnReset: true,
	}
}

// Summary describes a finished block.
type Summary struct {
	Number    uint32
	Author    core.ProgramID
	Sent      uint32
	Dequeued  uint32
	QueueLen  uint64
	GasSupply uint64
	GasLeft   uint64
	Events    int
}

// Ledger wires the messenger, collaborators and journal manager over one store.
type Ledger struct {
	cfg   Config
	log   zerolog.Logger
	store storage.Store

	Messenger *messenger.Messenger
	Balances  *balances.Ledger
	Gas       *gas.Tree
	Allowance *gas.Allowance
	Programs  *programs.Storage
	Stats     Stats

	manager *journal.Manager
	number  uint32
	author  core.ProgramID
	open    bool
	events  []core.Event
}

// New builds a ledger over store.
func New(store storage.Store, cfg Config, logger zerolog.Logger) *Ledger {
	l := &Ledger{
		cfg:       cfg,
		log:       logger.With().Str("component", "ledger").Logger(),
		store:     store,
		Balances:  balances.New(store, "bal/", uint256.NewInt(cfg.ExistentialDeposit)),
		Gas:       gas.NewTree(store, "gas/"),
		Allowance: gas.NewAllowance(store, "gas/allowance"),
		Programs:  programs.New(store, "prog/"),
	}

	opts := messenger.DefaultOptions()
	opts.ClearStoragesOnReset = cfg.ClearStoragesOnReset
	opts.Logger = logger
	l.Messenger = messenger.New(store, l.Balances, opts)

	l.manager = journal.NewManager(journal.Deps{
		Messenger: l.Messenger,
		Currency:  l.Balances,
		Gas:       l.Gas,
		Allowance: l.Allowance,
		Programs:  l.Programs,
		Block:     l,
		Events:    l,
		Logger:    logger,
	}, journal.Params{
		WaitListFeePerBlock: cfg.WaitListFeePerBlock,
		GasPrice:            cfg.GasPrice,
	})
	return l
}

// BlockNumber returns the number of the block in progress.
func (l *Ledger) BlockNumber() uint32 { return l.number }

// BlockAuthor returns the author of the block in progress.
func (l *Ledger) BlockAuthor() core.ProgramID { return l.author }

// Emit records an event of the block in progress.
func (l *Ledger) Emit(ev core.Event) {
	l.events = append(l.events, ev)
}

// Events returns the events recorded in the current block.
func (l *Ledger) Events() []core.Event {
	return append([]core.Event(nil), l.events...)
}

// Config returns the ledger constants.
func (l *Ledger) Config() Config { return l.cfg }

// atomic runs fn in a store transaction. When fn fails its writes are
// rolled back and the events it emitted are dropped.
func (l *Ledger) atomic(fn func() error) error {
	mark := len(l.events)
	err := storage.Atomic(l.store, fn)
	if err != nil && len(l.events) > mark {
		l.events = l.events[:mark]
	}
	return err
}

// BeginBlock starts block number authored by author.
func (l *Ledger) BeginBlock(number uint32, author core.ProgramID) error {
	err := l.atomic(func() error {
		if err := l.Messenger.Reset(); err != nil {
			return fmt.Errorf("reset messenger: %w", err)
		}
		if err := l.Allowance.Reset(l.cfg.BlockGasLimit); err != nil {
			return fmt.Errorf("reset gas allowance: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.number = number
	l.author = author
	l.events = nil
	l.open = true
	l.log.Debug().Uint32("block", number).Stringer("author", author).Msg("block started")
	return nil
}

// EndBlock closes the block in progress and summarizes it.
func (l *Ledger) EndBlock() (Summary, error) {
	if !l.open {
		return Summary{}, ErrNoBlock
	}
	s := Summary{Number: l.number, Author: l.author, Events: len(l.events)}
	var err error
	if s.Sent, err = l.Messenger.Sent.Get(); err != nil {
		return s, err
	}
	if s.Dequeued, err = l.Messenger.Dequeued.Get(); err != nil {
		return s, err
	}
	if s.QueueLen, err = l.Messenger.Queue.Len(); err != nil {
		return s, err
	}
	if s.GasSupply, err = l.Gas.TotalSupply(); err != nil {
		return s, err
	}
	if s.GasLeft, err = l.Allowance.Get(); err != nil {
		return s, err
	}
	l.open = false
	l.Stats.Blocks.Inc()
	l.Stats.LastBlock.Store(l.number)
	l.log.Info().
		Uint32("block", s.Number).
		Uint32("sent", s.Sent).
		Uint32("dequeued", s.Dequeued).
		Uint64("queue_len", s.QueueLen).
		Int("events", s.Events).
		Msg("block finished")
	return s, nil
}

// GasPrice converts gas to currency.
func (l *Ledger) GasPrice(gasAmount uint64) *uint256.Int {
	return l.manager.GasPrice(gasAmount)
}
