package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/post"
	"github.com/dshills/post/config"
	"github.com/dshills/post/dispatch"
)

type runOptions struct {
	receivers  int
	messages   int
	configPath string
	isolate    bool
	deferred   bool
	watch      bool
}

func newRunCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Subscribe hosts and time string dispatches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.receivers, "receivers", "r", 100, "number of subscribed hosts")
	f.IntVarP(&opts.messages, "messages", "m", 1_000_000, "number of dispatched messages")
	f.StringVarP(&opts.configPath, "config", "c", "", "configuration file (.toml, .yaml)")
	f.BoolVar(&opts.isolate, "isolate", false, "run every receiver even when one fails")
	f.BoolVar(&opts.deferred, "deferred", false, "queue subscriptions on the mutation executor")
	f.BoolVar(&opts.watch, "watch", false, "rerun whenever the configuration file changes")
	return cmd
}

// benchHost contributes one string receiver.
type benchHost struct {
	hits int
}

func (h *benchHost) OnMessage(string) { h.hits++ }

func loadConfig(opts runOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(config.DefaultEnvPrefix); err != nil {
		return cfg, err
	}
	applyFlags(&cfg, opts)
	return cfg, cfg.Validate()
}

func applyFlags(cfg *config.Config, opts runOptions) {
	if opts.isolate {
		cfg.ErrorMode = dispatch.Isolate.String()
	}
	if opts.deferred {
		cfg.Mutation = config.MutationDeferred
	}
}

func runBench(cmd *cobra.Command, opts runOptions) error {
	if opts.receivers < 0 || opts.messages < 1 {
		return fmt.Errorf("receivers must be >= 0 and messages >= 1")
	}
	if opts.watch && opts.configPath == "" {
		return fmt.Errorf("--watch requires --config")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.OutOrStdout(), TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	bus := post.New(post.WithConfig(cfg), post.WithLogger(logger))
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer bus.Close(context.Background())

	hosts := make([]*benchHost, opts.receivers)
	start := time.Now()
	for i := range hosts {
		hosts[i] = &benchHost{}
		if err := bus.SubscribeObject(hosts[i]); err != nil {
			return err
		}
	}
	if err := bus.Flush(ctx); err != nil {
		return err
	}
	logger.Info().
		Int("hosts", opts.receivers).
		Dur("elapsed", time.Since(start)).
		Str("mutation", cfg.Mutation).
		Msg("subscribed")

	if err := measure(bus, logger, opts.messages); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}

	reloaded := make(chan config.Config, 1)
	w, err := config.Watch(opts.configPath, func(next config.Config, err error) {
		if err != nil {
			logger.Warn().Err(err).Msg("configuration reload failed")
			return
		}
		applyFlags(&next, opts)
		select {
		case reloaded <- next:
		default:
		}
	}, config.WithEnv(config.DefaultEnvPrefix))
	if err != nil {
		return err
	}
	defer w.Close()

	logger.Info().Str("path", w.Path()).Msg("watching configuration")
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-reloaded:
			if err := bus.Reconfigure(next); err != nil {
				logger.Warn().Err(err).Msg("reconfigure failed")
				continue
			}
			logger.Info().Str("mode", next.ErrorMode).Bool("recover", next.RecoverPanics).Msg("reconfigured")
			if err := measure(bus, logger, opts.messages); err != nil {
				return err
			}
		}
	}
}

func measure(bus *post.Bus, logger zerolog.Logger, messages int) error {
	start := time.Now()
	for i := 0; i < messages; i++ {
		if err := bus.Dispatch("tick"); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)
	st := bus.Stats()
	logger.Info().
		Int("messages", messages).
		Int("receivers", st.Receivers).
		Int("blueprints", st.Blueprints).
		Dur("elapsed", elapsed).
		Dur("per_dispatch", elapsed/time.Duration(messages)).
		Msg("dispatched")
	return nil
}
