// Command gearledgerd runs a single gearledger node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/najoast/gearledger/bootstrap"
	"github.com/najoast/gearledger/config"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/executor"
	"github.com/najoast/gearledger/ledger"
	"github.com/najoast/gearledger/logging"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gearledgerd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "configuration file (yaml, json or toml)")
	watch := flag.Bool("watch", false, "reload the configuration file on change")
	demo := flag.Bool("demo", false, "deploy the echo program from the first genesis account and ping it every block")
	flag.Parse()

	logger := logging.ConfigureRuntime()

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		return err
	}
	if level, ok := logging.ParseLevel(cfg.Log.Level.String()); ok {
		logging.SetLevel(level)
	}

	opts := []bootstrap.Option{bootstrap.WithLogger(logger)}
	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath, loader, logger)
		if err != nil {
			return err
		}
		opts = append(opts, bootstrap.WithWatcher(w))
	}

	app, err := bootstrap.NewApplication(cfg, executor.NewEcho(), opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *demo {
		if len(cfg.Ledger.Genesis) == 0 {
			return fmt.Errorf("demo needs a genesis account")
		}
		origin := core.ProgramIDFromHex(cfg.Ledger.Genesis[0].Address)
		app.Producer().OnBlockProcessed(bootstrap.MailboxClaimer(origin, func(m core.StoredMessage) {
			logger.Info().Str("component", "demo").Stringer("message", m.ID).Str("payload", string(m.Payload)).Msg("reply claimed")
		}))
		go runDemo(ctx, app.Producer(), origin, cfg.Ledger.BlockInterval.Duration, logger)
	}

	return app.Run(ctx)
}

// runDemo keeps the queue busy so a fresh node has something to show.
// Replies are claimed by the block hook registered in run.
func runDemo(ctx context.Context, producer *bootstrap.BlockProducer, origin core.ProgramID, interval time.Duration, logger zerolog.Logger) {
	log := logger.With().Str("component", "demo").Logger()

	// wait for the producer to come up
	for producer.Height() == 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}

	var prog core.ProgramID
	err := producer.Submit(ctx, func(l *ledger.Ledger) error {
		var err error
		prog, _, err = l.SubmitProgram(origin, []byte("echo"), []byte(time.Now().String()), nil, 10_000, nil)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("deploy failed")
		return
	}
	log.Info().Stringer("program", prog).Msg("echo program deployed")

	for n := 0; ; n++ {
		err := producer.Submit(ctx, func(l *ledger.Ledger) error {
			id, err := l.SendMessage(origin, prog, []byte(fmt.Sprintf("ping %d", n)), 10_000, nil)
			if err != nil {
				return err
			}
			log.Debug().Stringer("message", id).Msg("ping sent")
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("ping failed")
			}
			return
		}
	}
}
