// Package journal persists runs, orders, fills and equity snapshots. A Sink
// turns the engine's record stream into journal writes.
package journal

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/portfolio"
)

var ErrRunNotFound = errors.New("run not found")

// Run is the summary row of one engine run.
type Run struct {
	RunID       string          `json:"run_id"`
	Strategy    string          `json:"strategy"`
	State       string          `json:"state"`
	HaltReason  string          `json:"halt_reason,omitempty"`
	Started     time.Time       `json:"started"`
	Finished    time.Time       `json:"finished"`
	InitialCash decimal.Decimal `json:"initial_cash"`
	FinalEquity decimal.Decimal `json:"final_equity"`
	NetPnL      decimal.Decimal `json:"net_pnl"`
	Events      int             `json:"events"`
	Orders      int             `json:"orders"`
	Fills       int             `json:"fills"`
}

// ReturnPct is NetPnL over InitialCash, in percent.
func (r Run) ReturnPct() decimal.Decimal {
	if !r.InitialCash.IsPositive() {
		return decimal.Zero
	}
	return r.NetPnL.Div(r.InitialCash).Mul(decimal.NewFromInt(100))
}

type Journal interface {
	StartRun(r Run) error
	FinishRun(r Run) error
	// RecordOrder stores the latest state of an order.
	RecordOrder(runID string, o broker.Order) error
	RecordFill(runID string, f broker.Fill) error
	RecordSnapshot(runID string, s portfolio.Snapshot) error
	Close() error
}
