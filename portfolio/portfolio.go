package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
)

var ErrInvalidFill = errors.New("invalid fill")

// Position is a signed holding in one instrument.
type Position struct {
	Instrument string          `json:"instrument"`
	Qty        decimal.Decimal `json:"qty"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Realized   decimal.Decimal `json:"realized"`
	Mark       decimal.Decimal `json:"mark"`
}

func (p Position) Flat() bool { return p.Qty.IsZero() }

// Unrealized is the open PnL at the current mark. A position that has never
// been marked is valued at its entry price.
func (p Position) Unrealized() decimal.Decimal {
	if p.Qty.IsZero() || p.Mark.IsZero() {
		return decimal.Zero
	}
	return p.Mark.Sub(p.AvgPrice).Mul(p.Qty)
}

// MarketValue is Qty * Mark (signed), falling back to the entry price.
func (p Position) MarketValue() decimal.Decimal {
	px := p.Mark
	if px.IsZero() {
		px = p.AvgPrice
	}
	return p.Qty.Mul(px)
}

// View is the read-only face of a Portfolio handed to strategies and the
// risk ledger.
type View interface {
	Cash() decimal.Decimal
	Position(instrument string) Position
	Positions() []Position
	MarkPrice(instrument string) (decimal.Decimal, bool)
	Equity() decimal.Decimal
	Realized() decimal.Decimal
}

// Portfolio tracks cash, positions and PnL. Apply is the only mutator of
// position and cash state; Mark only updates valuations.
type Portfolio struct {
	cash      decimal.Decimal
	initial   decimal.Decimal
	positions map[string]*Position
	marks     map[string]decimal.Decimal
	realized  decimal.Decimal
	fees      decimal.Decimal
	applied   map[string]struct{}
}

func New(cash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:      cash,
		initial:   cash,
		positions: make(map[string]*Position),
		marks:     make(map[string]decimal.Decimal),
		applied:   make(map[string]struct{}),
	}
}

var _ View = (*Portfolio)(nil)

// Apply books a fill. Replaying a fill id already applied is a no-op and
// returns false.
func (p *Portfolio) Apply(f broker.Fill) (bool, error) {
	if f.ID == "" {
		return false, fmt.Errorf("%w: missing fill id", ErrInvalidFill)
	}
	if !f.Qty.IsPositive() {
		return false, fmt.Errorf("%w: %s quantity %s", ErrInvalidFill, f.ID, f.Qty)
	}
	if !f.Price.IsPositive() {
		return false, fmt.Errorf("%w: %s price %s", ErrInvalidFill, f.ID, f.Price)
	}
	if f.Side != broker.Buy && f.Side != broker.Sell {
		return false, fmt.Errorf("%w: %s side %d", ErrInvalidFill, f.ID, f.Side)
	}
	if _, seen := p.applied[f.ID]; seen {
		return false, nil
	}
	p.applied[f.ID] = struct{}{}

	pos := p.positions[f.Instrument]
	if pos == nil {
		pos = &Position{Instrument: f.Instrument}
		p.positions[f.Instrument] = pos
	}

	delta := f.Qty
	if f.Side == broker.Sell {
		delta = delta.Neg()
	}

	realized := applyToPosition(pos, delta, f.Price)
	p.realized = p.realized.Add(realized)

	p.cash = p.cash.Sub(delta.Mul(f.Price)).Sub(f.Fee)
	p.fees = p.fees.Add(f.Fee)

	if mark, ok := p.marks[f.Instrument]; ok {
		pos.Mark = mark
	} else {
		pos.Mark = f.Price
	}
	return true, nil
}

// applyToPosition moves pos by delta at price and returns the PnL realized
// by the part of delta that reduced the existing position.
func applyToPosition(pos *Position, delta, price decimal.Decimal) decimal.Decimal {
	cur := pos.Qty
	next := cur.Add(delta)

	// Opening or adding in the same direction: weighted average entry.
	if cur.IsZero() || cur.Sign() == delta.Sign() {
		total := cur.Abs().Add(delta.Abs())
		pos.AvgPrice = cur.Abs().Mul(pos.AvgPrice).Add(delta.Abs().Mul(price)).Div(total)
		pos.Qty = next
		return decimal.Zero
	}

	// Reducing, closing or flipping.
	closed := decimal.Min(cur.Abs(), delta.Abs())
	pnl := price.Sub(pos.AvgPrice).Mul(closed)
	if cur.IsNegative() {
		pnl = pnl.Neg()
	}
	pos.Realized = pos.Realized.Add(pnl)
	pos.Qty = next

	switch {
	case next.IsZero():
		pos.AvgPrice = decimal.Zero
	case next.Sign() != cur.Sign():
		// Flipped: the remainder opens at the fill price.
		pos.AvgPrice = price
	}
	return pnl
}

// Applied reports whether a fill id has already been booked.
func (p *Portfolio) Applied(fillID string) bool {
	_, ok := p.applied[fillID]
	return ok
}

// Mark records the latest price for an instrument.
func (p *Portfolio) Mark(instrument string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	p.marks[instrument] = price
	if pos, ok := p.positions[instrument]; ok {
		pos.Mark = price
	}
}

func (p *Portfolio) Cash() decimal.Decimal     { return p.cash }
func (p *Portfolio) Initial() decimal.Decimal  { return p.initial }
func (p *Portfolio) Realized() decimal.Decimal { return p.realized }
func (p *Portfolio) Fees() decimal.Decimal     { return p.fees }

func (p *Portfolio) Position(instrument string) Position {
	if pos, ok := p.positions[instrument]; ok {
		return *pos
	}
	out := Position{Instrument: instrument}
	if m, ok := p.marks[instrument]; ok {
		out.Mark = m
	}
	return out
}

// Positions returns every instrument ever traded, sorted by symbol.
func (p *Portfolio) Positions() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// MarkPrice returns the last price recorded for instrument.
func (p *Portfolio) MarkPrice(instrument string) (decimal.Decimal, bool) {
	m, ok := p.marks[instrument]
	return m, ok
}

func (p *Portfolio) Unrealized() decimal.Decimal {
	sum := decimal.Zero
	for _, pos := range p.positions {
		sum = sum.Add(pos.Unrealized())
	}
	return sum
}

// Equity is cash plus the market value of all open positions.
func (p *Portfolio) Equity() decimal.Decimal {
	eq := p.cash
	for _, pos := range p.positions {
		eq = eq.Add(pos.MarketValue())
	}
	return eq
}

// GrossExposure is the sum of |Qty * Mark| across positions.
func (p *Portfolio) GrossExposure() decimal.Decimal {
	sum := decimal.Zero
	for _, pos := range p.positions {
		sum = sum.Add(pos.MarketValue().Abs())
	}
	return sum
}

// Snapshot is a point-in-time copy of the portfolio.
type Snapshot struct {
	Time       time.Time       `json:"time"`
	Cash       decimal.Decimal `json:"cash"`
	Equity     decimal.Decimal `json:"equity"`
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Fees       decimal.Decimal `json:"fees"`
	NetPnL     decimal.Decimal `json:"net_pnl"`
	Positions  []Position      `json:"positions"`
}

func (p *Portfolio) Snapshot(t time.Time) Snapshot {
	return Snapshot{
		Time:       t,
		Cash:       p.cash,
		Equity:     p.Equity(),
		Realized:   p.realized,
		Unrealized: p.Unrealized(),
		Fees:       p.fees,
		NetPnL:     p.Equity().Sub(p.initial),
		Positions:  p.Positions(),
	}
}
