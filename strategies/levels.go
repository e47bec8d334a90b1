package strategies

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/portfolio"
	"github.com/rustyeddy/tradecore/strategy"
)

// TriggerKind selects how a Trigger compares relative PnL to its
// threshold. Relative PnL is (mark - entry) / entry, signed by position
// direction.
type TriggerKind uint8

const (
	StopLoss TriggerKind = iota + 1
	TakeProfit
	// TrailingStop fires once relative PnL falls Threshold below the best
	// relative PnL seen since the position opened.
	TrailingStop
)

func (k TriggerKind) String() string {
	switch k {
	case StopLoss:
		return "stop-loss"
	case TakeProfit:
		return "take-profit"
	case TrailingStop:
		return "trailing-stop"
	}
	return "trigger"
}

type Action uint8

const (
	// Close closes the position that hit the trigger.
	Close Action = iota + 1
	// CloseAllAndPause closes every position and drops new orders from the
	// wrapped strategy for Pause.
	CloseAllAndPause
)

type Trigger struct {
	Kind      TriggerKind
	Threshold decimal.Decimal
	Action    Action
	Pause     time.Duration
}

// LevelsConfig is the config-file form of a Levels wrapper.
type LevelsConfig struct {
	StopLoss     decimal.Decimal `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit   decimal.Decimal `yaml:"take_profit" json:"take_profit"`
	TrailingStop decimal.Decimal `yaml:"trailing_stop" json:"trailing_stop"`
	// Pause, when set, turns every trigger into close-all-and-pause.
	Pause time.Duration `yaml:"pause" json:"pause"`
}

func (c LevelsConfig) Empty() bool {
	return c.StopLoss.IsZero() && c.TakeProfit.IsZero() && c.TrailingStop.IsZero()
}

func (c LevelsConfig) Triggers() []Trigger {
	action := Close
	if c.Pause > 0 {
		action = CloseAllAndPause
	}
	var out []Trigger
	add := func(k TriggerKind, th decimal.Decimal) {
		if th.IsPositive() {
			out = append(out, Trigger{Kind: k, Threshold: th, Action: action, Pause: c.Pause})
		}
	}
	add(StopLoss, c.StopLoss)
	add(TakeProfit, c.TakeProfit)
	add(TrailingStop, c.TrailingStop)
	return out
}

// Levels wraps a strategy and closes positions when price moves past
// stop-loss, take-profit or trailing-stop levels.
type Levels struct {
	inner    strategy.Strategy
	triggers []Trigger

	held    map[string]held
	closing map[string]bool
	paused  time.Time
}

// held is the best relative PnL seen for one position direction.
type held struct {
	long bool
	best decimal.Decimal
}

func NewLevels(inner strategy.Strategy, triggers ...Trigger) *Levels {
	return &Levels{
		inner:    inner,
		triggers: triggers,
		held:     make(map[string]held),
		closing:  make(map[string]bool),
	}
}

// WithLevels wraps s when cfg carries any trigger.
func WithLevels(s strategy.Strategy, cfg LevelsConfig) strategy.Strategy {
	if cfg.Empty() {
		return s
	}
	return NewLevels(s, cfg.Triggers()...)
}

func (l *Levels) Name() string { return strategy.Name(l.inner) }

func (l *Levels) OnEvent(ev market.Event, view portfolio.View) []strategy.Intent {
	inner := l.inner.OnEvent(ev, view)

	closeAll := false
	var closeOne []portfolio.Position
	for _, pos := range view.Positions() {
		if pos.Flat() {
			delete(l.held, pos.Instrument)
			delete(l.closing, pos.Instrument)
			continue
		}
		long := pos.Qty.IsPositive()
		h, ok := l.held[pos.Instrument]
		if ok && h.long != long {
			// A single fill flipped the position; it starts fresh.
			ok = false
			delete(l.closing, pos.Instrument)
		}
		if l.closing[pos.Instrument] || pos.AvgPrice.IsZero() || pos.Mark.IsZero() {
			continue
		}
		rel := relativePnL(pos)
		if !ok || rel.GreaterThan(h.best) {
			h = held{long: long, best: rel}
			l.held[pos.Instrument] = h
		}
		best := h.best
		for _, tr := range l.triggers {
			if !tr.fires(rel, best) {
				continue
			}
			switch tr.Action {
			case CloseAllAndPause:
				closeAll = true
				if until := ev.Time.Add(tr.Pause); until.After(l.paused) {
					l.paused = until
				}
			default:
				closeOne = append(closeOne, pos)
			}
			break
		}
	}

	if closeAll {
		closeOne = closeOne[:0]
		for _, pos := range view.Positions() {
			if !pos.Flat() && !l.closing[pos.Instrument] {
				closeOne = append(closeOne, pos)
			}
		}
	}
	out := l.filter(ev.Time, inner)
	for _, pos := range closeOne {
		out = append(out, l.closeIntent(pos))
	}
	return out
}

func (tr Trigger) fires(rel, best decimal.Decimal) bool {
	switch tr.Kind {
	case StopLoss:
		return rel.LessThanOrEqual(tr.Threshold.Neg())
	case TakeProfit:
		return rel.GreaterThanOrEqual(tr.Threshold)
	case TrailingStop:
		return rel.LessThanOrEqual(best.Sub(tr.Threshold))
	}
	return false
}

func relativePnL(pos portfolio.Position) decimal.Decimal {
	rel := pos.Mark.Sub(pos.AvgPrice).Div(pos.AvgPrice)
	if pos.Qty.IsNegative() {
		rel = rel.Neg()
	}
	return rel
}

func (l *Levels) closeIntent(pos portfolio.Position) strategy.Intent {
	l.closing[pos.Instrument] = true
	side := broker.Sell
	if pos.Qty.IsNegative() {
		side = broker.Buy
	}
	return strategy.MarketOrder(pos.Instrument, side, pos.Qty.Abs()).WithTag("levels")
}

// filter drops new orders from the wrapped strategy while paused.
func (l *Levels) filter(now time.Time, in []strategy.Intent) []strategy.Intent {
	if !now.Before(l.paused) {
		return in
	}
	out := in[:0]
	for _, it := range in {
		if it.Kind == strategy.Cancel {
			out = append(out, it)
		}
	}
	return out
}

func (l *Levels) OnFill(f broker.Fill, view portfolio.View) []strategy.Intent {
	return l.filter(f.Time, l.inner.OnFill(f, view))
}

func (l *Levels) OnReject(r strategy.Rejection) {
	if r.Intent.Tag == "levels" {
		delete(l.closing, r.Intent.Instrument)
		return
	}
	if h, ok := l.inner.(strategy.RejectionHandler); ok {
		h.OnReject(r)
	}
}

func (l *Levels) OnOrder(o broker.Order) {
	if o.Tag == "levels" {
		if o.Status == broker.StatusCancelled || o.Status == broker.StatusRejected {
			delete(l.closing, o.Instrument)
		}
		return
	}
	if obs, ok := l.inner.(strategy.OrderObserver); ok {
		obs.OnOrder(o)
	}
}
