package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/portfolio"
)

const (
	ReasonPositionLimit = "exceeds-position-limit"
	ReasonNotionalLimit = "exceeds-notional-limit"
	ReasonRateLimit     = "rate-limit-exceeded"
)

type Violation struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

type Decision struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`

	ProjectedPosition decimal.Decimal `json:"projected_position"`
	ProjectedNotional decimal.Decimal `json:"projected_notional"`
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason is the code of the first violation, or "" when allowed.
func (d Decision) Reason() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Code
}

// Err returns nil when the order is allowed and a *LimitError otherwise.
func (d Decision) Err(orderID uint64) error {
	if d.Allowed {
		return nil
	}
	return &LimitError{OrderID: orderID, Violations: d.Violations}
}

// LimitError is an order-level refusal from the risk checks.
type LimitError struct {
	OrderID    uint64
	Violations []Violation
}

func (e *LimitError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("order %d: risk limit exceeded", e.OrderID)
	}
	v := e.Violations[0]
	return fmt.Sprintf("order %d: %s: %s", e.OrderID, v.Code, v.Msg)
}

// Reason is the code of the first violation.
func (e *LimitError) Reason() string {
	if len(e.Violations) == 0 {
		return ""
	}
	return e.Violations[0].Code
}

// Request is an order about to be submitted together with the context the
// checks need.
type Request struct {
	Order broker.Order
	// RefPrice values the order: the limit price, or the last mark for
	// market orders.
	RefPrice decimal.Decimal
	Now      time.Time
	// Working are orders already at the venue, not yet terminal.
	Working []broker.Order
}

// Check evaluates req against limits. It does not mutate anything; history
// holds the submission times already accepted.
//
// Exposure is projected worst case for the order's side: the current
// position plus every working order on the same side, as if all of them
// fill and no opposing order does. An order is refused only when it grows
// exposure past a cap, so orders that reduce exposure always pass.
func Check(req Request, view portfolio.View, limits Limits, history []time.Time) Decision {
	d := Decision{Allowed: true}
	o := req.Order

	signed := o.Qty
	if o.Side == broker.Sell {
		signed = signed.Neg()
	}

	base := view.Position(o.Instrument).Qty
	for _, w := range req.Working {
		if w.Instrument == o.Instrument && w.ID != o.ID && w.Side == o.Side {
			base = base.Add(w.SignedRemaining())
		}
	}
	projected := base.Add(signed)
	d.ProjectedPosition = projected
	grows := projected.Abs().GreaterThan(base.Abs())

	if max := limits.PositionLimit(o.Instrument); max.IsPositive() && grows && projected.Abs().GreaterThan(max) {
		d.add(ReasonPositionLimit,
			fmt.Sprintf("projected %s position %s exceeds %s", o.Instrument, projected, max))
	}

	others := decimal.Zero
	for _, pos := range view.Positions() {
		if pos.Instrument == o.Instrument {
			continue
		}
		others = others.Add(pos.MarketValue().Abs())
	}
	notional := projected.Abs().Mul(req.RefPrice).Add(others)
	d.ProjectedNotional = notional

	if limits.MaxNotional.IsPositive() && grows && notional.GreaterThan(limits.MaxNotional) {
		d.add(ReasonNotionalLimit,
			fmt.Sprintf("projected notional %s exceeds %s", notional.StringFixed(2), limits.MaxNotional))
	}

	if limits.MaxOrders > 0 && limits.RateWindow > 0 {
		if n := countSince(history, req.Now.Add(-limits.RateWindow)); n >= limits.MaxOrders {
			d.add(ReasonRateLimit,
				fmt.Sprintf("%d orders in the last %s, max %d", n, limits.RateWindow, limits.MaxOrders))
		}
	}

	return d
}

// countSince counts times strictly after cutoff.
func countSince(ts []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range ts {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
