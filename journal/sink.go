package journal

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradecore/engine"
)

// Sink is an engine.Observer that writes the record stream to a Journal.
// Write errors do not stop the run; they are logged and kept for Err.
type Sink struct {
	j   Journal
	log *zap.Logger

	mu     sync.Mutex
	run    Run
	orders map[uint64]struct{}
	errs   []error
}

var _ engine.Observer = (*Sink)(nil)

func NewSink(j Journal, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{j: j, log: log.Named("journal"), orders: make(map[uint64]struct{})}
}

func (s *Sink) Observe(r engine.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch r.Kind {
	case engine.RecordStarted:
		s.run = Run{RunID: r.RunID, Strategy: r.Strategy, State: engine.Running.String(), Started: r.Time}
		err = s.j.StartRun(s.run)
	case engine.RecordEvent:
		s.run.Events++
		if s.run.Started.IsZero() {
			s.run.Started = r.Time
		}
	case engine.RecordOrder:
		if r.Order == nil {
			return
		}
		s.orders[r.Order.ID] = struct{}{}
		err = s.j.RecordOrder(r.RunID, *r.Order)
	case engine.RecordFill:
		if r.Fill == nil {
			return
		}
		s.run.Fills++
		err = s.j.RecordFill(r.RunID, *r.Fill)
	case engine.RecordSnapshot:
		if r.Snapshot == nil {
			return
		}
		err = s.j.RecordSnapshot(r.RunID, *r.Snapshot)
	case engine.RecordConflict:
		if r.Conflict != nil {
			s.log.Warn("conflict", zap.String("run", r.RunID), zap.Error(r.Conflict))
		}
	case engine.RecordCompleted, engine.RecordHalted:
		err = s.finish(r)
	}
	if err != nil {
		s.log.Error("journal write failed",
			zap.String("run", r.RunID),
			zap.Stringer("kind", r.Kind),
			zap.Error(err))
		s.errs = append(s.errs, fmt.Errorf("%s record %d: %w", r.Kind, r.Seq, err))
	}
}

func (s *Sink) finish(r engine.Record) error {
	s.run.RunID = r.RunID
	s.run.Finished = r.Time
	s.run.HaltReason = r.Reason
	s.run.Orders = len(s.orders)
	if r.Kind == engine.RecordHalted {
		s.run.State = engine.Halted.String()
	} else {
		s.run.State = engine.Completed.String()
	}

	var errs []error
	if r.Snapshot != nil {
		s.run.FinalEquity = r.Snapshot.Equity
		s.run.NetPnL = r.Snapshot.NetPnL
		s.run.InitialCash = r.Snapshot.Equity.Sub(r.Snapshot.NetPnL)
		errs = append(errs, s.j.RecordSnapshot(r.RunID, *r.Snapshot))
	}
	errs = append(errs, s.j.FinishRun(s.run))
	return errors.Join(errs...)
}

// Run returns the summary accumulated so far.
func (s *Sink) Run() Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// Err joins every write error seen.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}
