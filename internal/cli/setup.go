package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradecore/config"
	"github.com/rustyeddy/tradecore/engine"
	"github.com/rustyeddy/tradecore/internal/logging"
	"github.com/rustyeddy/tradecore/journal"
	"github.com/rustyeddy/tradecore/viewer"
)

// loadConfig reads --config (or the defaults), the dotenv file and the
// flag overrides, in that order.
func loadConfig(rc *RootConfig) (*config.Config, error) {
	var cfg *config.Config
	if rc.ConfigPath != "" {
		c, err := config.LoadFromFile(rc.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.Default()
	}
	if err := cfg.LoadEnv(rc.EnvPath); err != nil {
		return nil, err
	}

	if rc.DBPath != "" {
		cfg.Journal.Type = "sqlite"
		cfg.Journal.DBPath = rc.DBPath
	}
	if rc.LogLevel != "" {
		cfg.Log.Level = rc.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// session is everything around an engine run that outlives it: logger,
// journal and viewer.
type session struct {
	cfg  *config.Config
	log  *zap.Logger
	jrnl journal.Journal
	sink *journal.Sink
	hub  *viewer.Hub

	cancel context.CancelFunc
	group  *errgroup.Group
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: log}

	if s.jrnl, err = cfg.NewJournal(); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if s.jrnl != nil {
		s.sink = journal.NewSink(s.jrnl, log)
	}

	if cfg.Viewer.Enabled {
		var store viewer.Store
		if sq, ok := s.jrnl.(*journal.SQLite); ok {
			store = sq
		}
		s.hub = viewer.NewHub(log)

		bg, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(bg)
		s.cancel, s.group = cancel, g

		srv := viewer.NewServer(store, s.hub, cfg.ViewerOptions(), log)
		g.Go(func() error {
			s.hub.Run(gctx)
			return nil
		})
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}
	return s, nil
}

func (s *session) observers() []engine.Observer {
	var out []engine.Observer
	if s.sink != nil {
		out = append(out, s.sink)
	}
	if s.hub != nil {
		out = append(out, s.hub)
	}
	return out
}

func (s *session) Close() error {
	var errs []error
	if s.group != nil {
		s.cancel()
		errs = append(errs, s.group.Wait())
	}
	if s.sink != nil {
		errs = append(errs, s.sink.Err())
	}
	if s.jrnl != nil {
		errs = append(errs, s.jrnl.Close())
	}
	_ = s.log.Sync()
	return errors.Join(errs...)
}
