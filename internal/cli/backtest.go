package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradecore/config"
	"github.com/rustyeddy/tradecore/engine"
	"github.com/rustyeddy/tradecore/feed"
	"github.com/rustyeddy/tradecore/internal/id"
	"github.com/rustyeddy/tradecore/store"
)

type backtestOptions struct {
	data     string
	source   string
	strategy string
	runID    string
}

func newBacktestCmd(rc *RootConfig) *cobra.Command {
	opts := &backtestOptions{}

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run the configured strategy over historical events",
		Long: `Backtest replays historical events through the simulated venue. Orders
placed on one event fill against the next event that crosses them.

Example:
  tradecore backtest -c run.yaml
  tradecore backtest --data events.csv --strategy open-once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rc)
			if err != nil {
				return err
			}
			if opts.data != "" {
				cfg.Data.Path = opts.data
			}
			if opts.source != "" {
				cfg.Data.Source = opts.source
			}
			if opts.strategy != "" {
				cfg.Strategy.Name = opts.strategy
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBacktest(ctx, cmd, cfg, opts.runID)
		},
	}

	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "event file or store (overrides data.path)")
	cmd.Flags().StringVar(&opts.source, "source", "", "csv or pebble (overrides data.source)")
	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "", "strategy name (overrides strategy.name)")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run id (default: a new ULID)")
	return cmd
}

// openSource returns the configured historical source and a closer.
func openSource(cfg *config.Config) (feed.Source, func() error, error) {
	switch cfg.Data.Source {
	case "", "csv":
		return feed.NewCSVSource(cfg.Data.Path), func() error { return nil }, nil
	case "pebble":
		st, err := store.Open(cfg.Data.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open event store: %w", err)
		}
		return st, st.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
}

func runBacktest(ctx context.Context, cmd *cobra.Command, cfg *config.Config, runID string) error {
	if runID == "" {
		runID = id.New()
	}

	src, closeSrc, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	f, err := feed.NewHistorical(ctx, src, cfg.Symbols(), cfg.Data.Start, cfg.Data.End)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()

	sess, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}

	venue, err := cfg.SimVenue(sess.log)
	if err != nil {
		_ = sess.Close()
		return err
	}
	strat, err := cfg.NewStrategy()
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("strategy: %w", err)
	}
	ecfg, err := cfg.EngineConfig(runID, nil)
	if err != nil {
		_ = sess.Close()
		return err
	}

	e, err := engine.New(ecfg, f, venue, strat,
		engine.WithLogger(sess.log),
		engine.WithObservers(sess.observers()...))
	if err != nil {
		_ = sess.Close()
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Running backtest %s\n", runID)
	fmt.Fprintf(out, "  Strategy: %s\n", cfg.Strategy.Name)
	fmt.Fprintf(out, "  Data: %s (%s)\n\n", cfg.Data.Path, cfg.Data.Source)

	res, runErr := e.Run(ctx)
	if res != nil {
		engine.PrintResult(out, res)
	}
	return errors.Join(runErr, sess.Close())
}
