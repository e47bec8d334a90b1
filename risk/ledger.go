package risk

import (
	"time"

	"github.com/rustyeddy/tradecore/portfolio"
)

// Ledger applies Limits across a run and remembers which submissions it
// allowed. Times are event times so backtests stay deterministic.
type Ledger struct {
	limits  Limits
	history []time.Time
}

func NewLedger(limits Limits) *Ledger {
	return &Ledger{limits: limits}
}

func (l *Ledger) Limits() Limits { return l.limits }

// Check runs the pre-trade checks and, when allowed, records the submission
// against the rate limit.
func (l *Ledger) Check(req Request, view portfolio.View) Decision {
	d := Check(req, view, l.limits, l.history)
	if d.Allowed {
		l.record(req.Now)
	}
	return d
}

func (l *Ledger) record(t time.Time) {
	if l.limits.MaxOrders == 0 || l.limits.RateWindow <= 0 {
		return
	}
	l.history = append(l.history, t)
	cutoff := t.Add(-l.limits.RateWindow)
	i := 0
	for i < len(l.history) && !l.history[i].After(cutoff) {
		i++
	}
	l.history = l.history[i:]
}
