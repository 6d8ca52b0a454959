package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/najoast/gearledger/config"
	"github.com/najoast/gearledger/executor"
	"github.com/najoast/gearledger/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Application is a gearledger node: a store, a block producer and an
// optional configuration watcher.
type Application struct {
	id        uuid.UUID
	cfg       *config.Config
	log       zerolog.Logger
	container *DefaultContainer
	lifecycle *DefaultLifecycleManager
	producer  *BlockProducer
	watcher   *config.Watcher

	shutdownTimeout time.Duration

	mutex   sync.Mutex
	running bool
}

// Option customizes an Application.
type Option func(*Application)

// WithLogger sets the base logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Application) { a.log = logger }
}

// WithWatcher reloads configuration from w while running. Log level
// changes take effect immediately; other changes need a restart.
func WithWatcher(w *config.Watcher) Option {
	return func(a *Application) { a.watcher = w }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *Application) { a.shutdownTimeout = d }
}

// NewApplication builds a node for cfg. exec runs dispatches; nil
// selects the echo backend.
func NewApplication(cfg *config.Config, exec executor.Executor, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}
	if exec == nil {
		exec = executor.NewEcho()
	}

	app := &Application{
		id:              uuid.New(),
		cfg:             cfg,
		log:             zerolog.Nop(),
		container:       NewContainer(),
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(app)
	}
	app.log = app.log.With().Str("node", app.id.String()).Logger()
	app.lifecycle = NewLifecycleManager(app.log)

	storageSvc := NewStorageService(cfg.Storage, app.container, app.log)
	app.producer = NewBlockProducer(cfg, app.container, exec, app.log)

	if err := app.lifecycle.Register(storageSvc); err != nil {
		return nil, err
	}
	if err := app.lifecycle.Register(app.producer, ServiceStorage); err != nil {
		return nil, err
	}

	if app.watcher != nil {
		app.watcher.OnConfigChange(app.onConfigChange)
	}
	return app, nil
}

// ID returns the node instance id.
func (app *Application) ID() uuid.UUID { return app.id }

// Config returns the configuration the node was built with.
func (app *Application) Config() *config.Config { return app.cfg }

// Container returns the dependency injection container
func (app *Application) Container() Container { return app.container }

// LifecycleManager returns the lifecycle manager
func (app *Application) LifecycleManager() LifecycleManager { return app.lifecycle }

// Producer returns the block producer.
func (app *Application) Producer() *BlockProducer { return app.producer }

// Start starts every service.
func (app *Application) Start(ctx context.Context) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return fmt.Errorf("application is already running")
	}
	if err := app.lifecycle.Start(ctx); err != nil {
		return err
	}
	app.running = true
	app.log.Info().Str("app", app.cfg.App.Name).Str("env", app.cfg.App.Environment.String()).Msg("node started")
	return nil
}

// Run starts the node and blocks until ctx is done, a shutdown signal
// arrives or block production halts. Services are stopped before it returns.
func (app *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.producer.Wait(gctx); err != nil {
			return &ApplicationError{Operation: "run", Service: ServiceLedger, Err: err}
		}
		return nil
	})
	if app.watcher != nil {
		g.Go(func() error { return app.watcher.Run(gctx) })
	}
	runErr := g.Wait()
	app.log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// Shutdown stops every service.
func (app *Application) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if !app.running {
		return nil
	}
	app.running = false
	return app.lifecycle.Stop(ctx)
}

func (app *Application) onConfigChange(oldConfig, newConfig *config.Config) {
	if oldConfig.Log.Level == newConfig.Log.Level {
		return
	}
	level, ok := logging.ParseLevel(newConfig.Log.Level.String())
	if !ok {
		return
	}
	logging.SetLevel(level)
	app.log.Info().Str("level", newConfig.Log.Level.String()).Msg("log level changed")
}
