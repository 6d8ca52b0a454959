package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/najoast/gearledger/config"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/ledger"
	"github.com/najoast/gearledger/logging/testlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainer(t *testing.T) {
	c := NewContainer()

	builds := 0
	require.NoError(t, c.Register("greeting", func(Container) (interface{}, error) {
		builds++
		return "hello", nil
	}))
	require.NoError(t, c.Register("sentence", func(c Container) (interface{}, error) {
		g, err := ResolveAs[string](c, "greeting")
		return g + " world", err
	}))

	s, err := ResolveAs[string](c, "sentence")
	require.NoError(t, err)
	assert.Equal(t, "hello world", s)

	_, err = c.Resolve("greeting")
	require.NoError(t, err)
	assert.Equal(t, 1, builds)

	_, err = ResolveAs[int](c, "greeting")
	assert.Error(t, err)

	_, err = c.Resolve("missing")
	assert.ErrorIs(t, err, ErrServiceNotFound)

	assert.ErrorIs(t, c.Register("greeting", func(Container) (interface{}, error) { return nil, nil }), ErrServiceRegistered)
	require.NoError(t, c.RegisterInstance("answer", 42))
	assert.ErrorIs(t, c.RegisterInstance("answer", 43), ErrServiceRegistered)

	assert.True(t, c.Has("answer"))
	assert.Equal(t, []string{"answer", "greeting", "sentence"}, c.Names())

	c.Remove("answer")
	assert.False(t, c.Has("answer"))
}

func TestContainerCircularResolve(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Register("a", func(c Container) (interface{}, error) { return c.Resolve("b") }))
	require.NoError(t, c.Register("b", func(c Container) (interface{}, error) { return c.Resolve("a") }))

	_, err := c.Resolve("a")
	assert.ErrorIs(t, err, ErrCircularResolve)
}

type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, s)
}

type fakeService struct {
	name     string
	rec      *recorder
	startErr error
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.rec.add("start " + s.name)
	return nil
}

func (s *fakeService) Stop(context.Context) error {
	s.rec.add("stop " + s.name)
	return nil
}

func (s *fakeService) Health(context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthHealthy}, nil
}

func TestLifecycleOrder(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager(zerolog.Nop())

	var events []string
	lm.AddListener(func(ev LifecycleEvent) { events = append(events, ev.Type) })

	require.NoError(t, lm.Register(&fakeService{name: "producer", rec: rec}, "store", "keys"))
	require.NoError(t, lm.Register(&fakeService{name: "store", rec: rec}))
	require.NoError(t, lm.Register(&fakeService{name: "keys", rec: rec}, "store"))
	assert.Error(t, lm.Register(&fakeService{name: "store", rec: rec}))

	ctx := context.Background()
	require.NoError(t, lm.Start(ctx))
	assert.Error(t, lm.Register(&fakeService{name: "late", rec: rec}))

	health := lm.Health(ctx)
	assert.Len(t, health, 3)
	assert.Equal(t, HealthHealthy, health["keys"].State)

	require.NoError(t, lm.Stop(ctx))
	assert.Equal(t, []string{
		"start store", "start keys", "start producer",
		"stop producer", "stop keys", "stop store",
	}, rec.log)
	assert.Contains(t, events, EventLifecycleStarted)
	assert.Contains(t, events, EventLifecycleStopped)
	assert.Equal(t, []string{"keys", "producer", "store"}, lm.Services())
}

func TestLifecycleStartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager(zerolog.Nop())
	boom := errors.New("boom")

	require.NoError(t, lm.Register(&fakeService{name: "a", rec: rec}))
	require.NoError(t, lm.Register(&fakeService{name: "b", rec: rec, startErr: boom}, "a"))

	err := lm.Start(context.Background())
	require.ErrorIs(t, err, boom)
	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "b", appErr.Service)
	assert.Equal(t, []string{"start a", "stop a"}, rec.log)
}

func TestLifecycleDependencyErrors(t *testing.T) {
	lm := NewLifecycleManager(zerolog.Nop())
	require.NoError(t, lm.Register(&fakeService{name: "a", rec: &recorder{}}, "ghost"))
	assert.ErrorIs(t, lm.Start(context.Background()), ErrServiceNotFound)

	lm = NewLifecycleManager(zerolog.Nop())
	require.NoError(t, lm.Register(&fakeService{name: "a", rec: &recorder{}}, "b"))
	require.NoError(t, lm.Register(&fakeService{name: "b", rec: &recorder{}}, "a"))
	assert.ErrorIs(t, lm.Start(context.Background()), ErrCircularDependency)
}

var alice = core.ProgramIDFromUint64(1)

func nodeConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Ledger.BlockInterval = config.Duration{Duration: 5 * time.Millisecond}
	cfg.Messenger.ClearStoragesOnReset = false
	cfg.Ledger.Genesis = []config.GenesisAccount{{Address: alice.String(), Balance: 1_000_000}}
	return cfg
}

func TestApplicationProducesBlocks(t *testing.T) {
	app, err := NewApplication(nodeConfig(t), nil, WithLogger(testlog.Start(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))
	defer app.Shutdown(context.Background())

	producer := app.Producer()
	var prog core.ProgramID
	require.NoError(t, producer.Submit(ctx, func(l *ledger.Ledger) error {
		var err error
		prog, _, err = l.SubmitProgram(alice, []byte("echo"), nil, nil, 10_000, nil)
		return err
	}))

	var msgID core.MessageID
	require.NoError(t, producer.Submit(ctx, func(l *ledger.Ledger) error {
		var err error
		msgID, err = l.SendMessage(alice, prog, []byte("ping"), 10_000, nil)
		return err
	}))

	var inbox []core.StoredMessage
	require.NoError(t, producer.Submit(ctx, func(l *ledger.Ledger) error {
		var err error
		inbox, err = l.Messenger.Mailbox.Messages(alice)
		return err
	}))
	require.Len(t, inbox, 1)
	assert.Equal(t, core.NewReplyMessageID(msgID), inbox[0].ID)

	health := app.LifecycleManager().Health(ctx)
	assert.Equal(t, HealthHealthy, health[ServiceStorage].State)
	assert.Equal(t, HealthHealthy, health[ServiceLedger].State)
	assert.GreaterOrEqual(t, producer.Height(), uint32(3))

	require.NoError(t, app.Shutdown(ctx))
	assert.ErrorIs(t, producer.Submit(ctx, func(*ledger.Ledger) error { return nil }), ErrProducerStopped)
}

func TestMailboxClaimerClaimsBeforeReset(t *testing.T) {
	cfg := nodeConfig(t)
	cfg.Messenger.ClearStoragesOnReset = true
	app, err := NewApplication(cfg, nil, WithLogger(testlog.Start(t)))
	require.NoError(t, err)

	claimed := make(chan core.StoredMessage, 16)
	app.Producer().OnBlockProcessed(MailboxClaimer(alice, func(m core.StoredMessage) {
		select {
		case claimed <- m:
		default:
		}
	}))
	app.Producer().OnBlockProcessed(func(*ledger.Ledger, uint32) error {
		return errors.New("hook errors are not fatal")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))
	defer app.Shutdown(context.Background())

	// deploy and ping in one block so the reply lands before the next reset
	var msgID core.MessageID
	require.NoError(t, app.Producer().Submit(ctx, func(l *ledger.Ledger) error {
		prog, _, err := l.SubmitProgram(alice, []byte("echo"), nil, nil, 10_000, nil)
		if err != nil {
			return err
		}
		msgID, err = l.SendMessage(alice, prog, []byte("ping"), 10_000, nil)
		return err
	}))

	select {
	case m := <-claimed:
		assert.Equal(t, core.NewReplyMessageID(msgID), m.ID)
		assert.Equal(t, []byte("ping"), m.Payload)
	case <-ctx.Done():
		t.Fatal("reply was never claimed")
	}
	require.NoError(t, app.Shutdown(ctx))
}

func TestApplicationRunStopsOnCancel(t *testing.T) {
	app, err := NewApplication(nodeConfig(t), nil, WithLogger(testlog.Start(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Producer().Height() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, app.Container().Has(KeyStore))
}

func TestApplicationResumesHeightFromSQLite(t *testing.T) {
	cfg := nodeConfig(t)
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	first, err := NewApplication(cfg, nil, WithLogger(testlog.Start(t)))
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	require.Eventually(t, func() bool { return first.Producer().Height() >= 2 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, first.Shutdown(ctx))
	stopped := first.Producer().Height()

	second, err := NewApplication(cfg, nil, WithLogger(testlog.Start(t)))
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	defer second.Shutdown(ctx)

	assert.GreaterOrEqual(t, second.Producer().Height(), stopped)
	require.Eventually(t, func() bool { return second.Producer().Height() > stopped }, 5*time.Second, 5*time.Millisecond)

	var free uint64
	require.NoError(t, second.Producer().Submit(ctx, func(l *ledger.Ledger) error {
		v, err := l.Balances.FreeBalance(alice)
		free = v.Uint64()
		return err
	}))
	assert.Equal(t, uint64(1_000_000), free)
}

func TestNewApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ledger.GasPrice = 0
	_, err := NewApplication(cfg, nil, WithLogger(testlog.Start(t)))
	assert.ErrorIs(t, err, config.ErrInvalidGasPrice)
}
