package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradecore/broker/live"
	"github.com/rustyeddy/tradecore/config"
	"github.com/rustyeddy/tradecore/engine"
	"github.com/rustyeddy/tradecore/feed"
	"github.com/rustyeddy/tradecore/internal/id"
)

func newLiveCmd(rc *RootConfig) *cobra.Command {
	var (
		url   string
		runID string
	)

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Trade the configured strategy against a live exchange",
		Long: `Live connects to the exchange adapter at live.url (or TRADECORE_LIVE_URL),
streams its market data into the engine and routes orders to it. The run
stops on SIGINT/SIGTERM, on a feed gap, or when the venue goes down.

Example:
  TRADECORE_API_KEY=... tradecore live -c live.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rc)
			if err != nil {
				return err
			}
			if url != "" {
				cfg.Live.URL = url
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runLive(ctx, cmd, cfg, runID)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "exchange websocket URL (overrides live.url)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (default: a new ULID)")
	return cmd
}

func runLive(ctx context.Context, cmd *cobra.Command, cfg *config.Config, runID string) error {
	if runID == "" {
		runID = id.New()
	}

	sess, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}

	adapter, err := cfg.Adapter(sess.log)
	if err != nil {
		_ = sess.Close()
		return err
	}
	venue, err := live.Dial(ctx, adapter, cfg.VenueConfig(), sess.log)
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := venue.Close(); err != nil {
			sess.log.Warn("venue close", zap.Error(err))
		}
	}()

	strat, err := cfg.NewStrategy()
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("strategy: %w", err)
	}
	ecfg, err := cfg.EngineConfig(runID, time.Now)
	if err != nil {
		_ = sess.Close()
		return err
	}

	f := feed.NewLive(venue.MarketData())
	defer f.Close()

	e, err := engine.New(ecfg, f, venue, strat,
		engine.WithLogger(sess.log),
		engine.WithObservers(sess.observers()...))
	if err != nil {
		_ = sess.Close()
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Live run %s on %s\n", runID, cfg.Live.URL)
	fmt.Fprintf(out, "  Strategy: %s\n", cfg.Strategy.Name)
	if cfg.Viewer.Enabled {
		fmt.Fprintf(out, "  Viewer: %s\n", cfg.Viewer.Addr)
	}
	fmt.Fprintln(out)

	res, runErr := e.Run(ctx)
	if res != nil {
		engine.PrintResult(out, res)
	}

	// Interrupting a live run is the normal way to stop it.
	var halt *engine.HaltError
	if errors.As(runErr, &halt) && halt.Reason == engine.HaltCancelled {
		runErr = nil
	}
	return errors.Join(runErr, sess.Close())
}
