package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/config"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/executor"
	"github.com/najoast/gearledger/ledger"
	"github.com/najoast/gearledger/storage"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Container keys.
const (
	KeyStore  = "store"
	KeyLedger = "ledger"
)

// Service names.
const (
	ServiceStorage = "storage"
	ServiceLedger  = "ledger"
)

var ErrProducerStopped = errors.New("block producer is not running")

// StorageService opens the configured store and publishes it in the container.
type StorageService struct {
	cfg       config.StorageConfig
	container Container
	log       zerolog.Logger

	mu    sync.Mutex
	store storage.Store
}

// NewStorageService returns a service for cfg.
func NewStorageService(cfg config.StorageConfig, container Container, logger zerolog.Logger) *StorageService {
	return &StorageService{
		cfg:       cfg,
		container: container,
		log:       logger.With().Str("component", "storage").Logger(),
	}
}

func (s *StorageService) Name() string { return ServiceStorage }

func (s *StorageService) Start(ctx context.Context) error {
	store, err := storage.Open(s.cfg.Backend, s.cfg.Path)
	if err != nil {
		return err
	}
	if err := s.container.RegisterInstance(KeyStore, store); err != nil {
		store.Close()
		return err
	}

	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
	s.log.Info().Str("backend", s.cfg.Backend).Str("path", s.cfg.Path).Msg("store opened")
	return nil
}

func (s *StorageService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	s.container.Remove(KeyStore)
	err := s.store.Close()
	s.store = nil
	return err
}

func (s *StorageService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return HealthStatus{State: HealthStopped, Message: "store closed"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "store open",
		Data:    map[string]interface{}{"backend": s.cfg.Backend},
	}, nil
}

// LedgerParams converts the ledger section into ledger constants.
func LedgerParams(cfg *config.Config) ledger.Config {
	return ledger.Config{
		BlockGasLimit:        cfg.Ledger.BlockGasLimit,
		WaitListFeePerBlock:  cfg.Ledger.WaitListFeePerBlock,
		ExistentialDeposit:   cfg.Ledger.ExistentialDeposit,
		GasPrice:             cfg.Ledger.GasPrice,
		ClearStoragesOnReset: cfg.Messenger.ClearStoragesOnReset,
	}
}

// BlockHook observes a block after its queue has been processed and
// before it ends. It runs on the producer goroutine.
type BlockHook func(l *ledger.Ledger, number uint32) error

// MailboxClaimer returns a hook that claims every message in the
// mailbox of recipient, calling onClaim for each. Claiming at the end
// of the block reaches replies that a reset would otherwise drop.
func MailboxClaimer(recipient core.ProgramID, onClaim func(core.StoredMessage)) BlockHook {
	return func(l *ledger.Ledger, _ uint32) error {
		msgs, err := l.Messenger.Mailbox.Messages(recipient)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := l.ClaimValueFromMailbox(recipient, m.ID); err != nil {
				return err
			}
			if onClaim != nil {
				onClaim(m)
			}
		}
		return nil
	}
}

type request struct {
	fn     func(*ledger.Ledger) error
	result chan error
}

// BlockProducer owns the ledger and produces a block every interval.
// Submissions are queued and applied by the producer goroutine at the
// start of the next block, so the ledger is only touched from one goroutine.
type BlockProducer struct {
	cfg       *config.Config
	container Container
	exec      executor.Executor
	log       zerolog.Logger

	requests chan request
	cancel   context.CancelFunc
	done     chan struct{}
	err      atomic.Error
	running  atomic.Bool
	height   atomic.Uint32

	ledger *ledger.Ledger
	blocks storage.Counter

	hooksMu sync.Mutex
	hooks   []BlockHook
}

// NewBlockProducer returns a producer that runs dispatches through exec.
func NewBlockProducer(cfg *config.Config, container Container, exec executor.Executor, logger zerolog.Logger) *BlockProducer {
	return &BlockProducer{
		cfg:       cfg,
		container: container,
		exec:      exec,
		log:       logger.With().Str("component", "producer").Logger(),
		requests:  make(chan request, 64),
	}
}

func (p *BlockProducer) Name() string { return ServiceLedger }

func (p *BlockProducer) Start(ctx context.Context) error {
	store, err := ResolveAs[storage.Store](p.container, KeyStore)
	if err != nil {
		return err
	}

	l := ledger.New(store, LedgerParams(p.cfg), p.log)
	err = storage.Atomic(store, func() error { return applyGenesis(l, p.cfg.Ledger.Genesis) })
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if err := p.container.RegisterInstance(KeyLedger, l); err != nil {
		return err
	}

	p.ledger = l
	p.blocks = storage.NewCounter(store, "node/height")
	height, err := p.blocks.Get()
	if err != nil {
		return err
	}
	p.height.Store(height)

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.err.Store(nil)
	p.running.Store(true)

	go func() {
		defer close(p.done)
		defer p.running.Store(false)
		if err := p.loop(runCtx); err != nil {
			p.err.Store(err)
			p.log.Error().Err(err).Uint32("block", p.height.Load()).Msg("block production halted")
		}
	}()

	p.log.Info().Uint32("height", height).Dur("interval", p.cfg.Ledger.BlockInterval.Duration).Msg("block producer started")
	return nil
}

func applyGenesis(l *ledger.Ledger, accounts []config.GenesisAccount) error {
	for _, acc := range accounts {
		id := core.ProgramIDFromHex(acc.Address)
		exists, err := l.Balances.Exists(id)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := l.Balances.Deposit(id, uint256.NewInt(acc.Balance)); err != nil {
			return err
		}
	}
	return nil
}

func (p *BlockProducer) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.cancel = nil
	p.container.Remove(KeyLedger)
	return p.err.Load()
}

func (p *BlockProducer) Health(ctx context.Context) (HealthStatus, error) {
	data := map[string]interface{}{"height": p.height.Load()}
	if p.ledger != nil {
		stats := p.ledger.Stats.Snapshot()
		data["messages_submitted"] = stats.MessagesSubmitted
		data["messages_processed"] = stats.MessagesProcessed
	}

	if err := p.err.Load(); err != nil {
		return HealthStatus{State: HealthCritical, Message: err.Error(), Data: data}, nil
	}
	if !p.running.Load() {
		return HealthStatus{State: HealthStopped, Data: data}, nil
	}
	return HealthStatus{State: HealthHealthy, Message: "producing blocks", Data: data}, nil
}

// Height returns the number of the last produced block.
func (p *BlockProducer) Height() uint32 {
	return p.height.Load()
}

// Wait blocks until ctx is done or the producer halts, returning the
// halting error.
func (p *BlockProducer) Wait(ctx context.Context) error {
	if p.done == nil {
		return ErrProducerStopped
	}
	select {
	case <-ctx.Done():
		return nil
	case <-p.done:
		return p.err.Load()
	}
}

// OnBlockProcessed registers hook. Hook errors are logged and do not
// halt block production.
func (p *BlockProducer) OnBlockProcessed(hook BlockHook) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	p.hooks = append(p.hooks, hook)
}

func (p *BlockProducer) runHooks(number uint32) {
	p.hooksMu.Lock()
	hooks := append([]BlockHook(nil), p.hooks...)
	p.hooksMu.Unlock()

	for _, hook := range hooks {
		if err := hook(p.ledger, number); err != nil {
			p.log.Warn().Err(err).Uint32("block", number).Msg("block hook failed")
		}
	}
}

// Submit runs fn against the ledger inside the next block and returns its error.
func (p *BlockProducer) Submit(ctx context.Context, fn func(*ledger.Ledger) error) error {
	if !p.running.Load() {
		return ErrProducerStopped
	}
	req := request{fn: fn, result: make(chan error, 1)}
	select {
	case p.requests <- req:
	case <-p.done:
		return ErrProducerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-p.done:
		return ErrProducerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *BlockProducer) loop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Ledger.BlockInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.produce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (p *BlockProducer) produce(ctx context.Context) error {
	if err := p.blocks.Increase(); err != nil {
		return err
	}
	number, err := p.blocks.Get()
	if err != nil {
		return err
	}

	author := core.ProgramIDFromHex(p.cfg.Ledger.Author)
	if err := p.ledger.BeginBlock(number, author); err != nil {
		return err
	}

	for pending := true; pending; {
		select {
		case req := <-p.requests:
			req.result <- req.fn(p.ledger)
		default:
			pending = false
		}
	}

	if err := p.ledger.ProcessQueue(ctx, p.exec); err != nil {
		return err
	}
	p.runHooks(number)
	summary, err := p.ledger.EndBlock()
	if err != nil {
		return err
	}
	p.height.Store(number)

	if summary.Dequeued > 0 || summary.Sent > 0 {
		p.log.Debug().
			Uint32("block", number).
			Uint32("sent", summary.Sent).
			Uint32("dequeued", summary.Dequeued).
			Uint64("queue_len", summary.QueueLen).
			Msg("block produced")
	}
	return nil
}
