package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/portfolio"
	"github.com/rustyeddy/tradecore/strategy"
)

// Result summarizes a finished run together with its full audit trail.
// Times come from the feed, so two identical backtests marshal to the same
// bytes.
type Result struct {
	RunID      string `json:"run_id"`
	Strategy   string `json:"strategy"`
	State      State  `json:"state"`
	HaltReason string `json:"halt_reason,omitempty"`

	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Events int       `json:"events"`

	RiskRejections  int `json:"risk_rejections"`
	VenueRejections int `json:"venue_rejections"`
	Wins            int `json:"wins"`
	Losses          int `json:"losses"`

	InitialCash    decimal.Decimal    `json:"initial_cash"`
	ReturnPct      decimal.Decimal    `json:"return_pct"`
	MaxDrawdownPct decimal.Decimal    `json:"max_drawdown_pct"`
	Final          portfolio.Snapshot `json:"final"`

	Orders    []broker.Order  `json:"orders"`
	Fills     []broker.Fill   `json:"fills"`
	Conflicts []ConflictError `json:"conflicts,omitempty"`
}

func (e *Engine) result(state State, snap portfolio.Snapshot) *Result {
	r := &Result{
		RunID:           e.cfg.RunID,
		Strategy:        strategy.Name(e.strat),
		State:           state,
		HaltReason:      e.HaltReason(),
		Start:           e.first,
		End:             e.last,
		Events:          e.events,
		RiskRejections:  e.riskRejects,
		VenueRejections: e.venueRejects,
		Wins:            e.wins,
		Losses:          e.losses,
		InitialCash:     e.cfg.InitialCash,
		MaxDrawdownPct:  e.maxDD.Round(4),
		Final:           snap,
		Orders:          e.Orders(),
		Fills:           e.Fills(),
		Conflicts:       append([]ConflictError(nil), e.conflicts...),
	}
	if e.cfg.InitialCash.IsPositive() {
		r.ReturnPct = snap.Equity.Sub(e.cfg.InitialCash).Div(e.cfg.InitialCash).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return r
}

// WinRate is the share of closing fills that realized a profit, in percent.
func (r *Result) WinRate() float64 {
	n := r.Wins + r.Losses
	if n == 0 {
		return 0
	}
	return float64(r.Wins) / float64(n) * 100
}

func PrintResult(w io.Writer, r *Result) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Run Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", r.RunID)
	fmt.Fprintf(w, "Strategy:      %s\n", r.Strategy)
	fmt.Fprintf(w, "State:         %s\n", r.State)
	if r.HaltReason != "" {
		fmt.Fprintf(w, "Halt Reason:   %s\n", r.HaltReason)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Events:        %d\n", r.Events)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Orders")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Orders:        %d\n", len(r.Orders))
	fmt.Fprintf(w, "Fills:         %d\n", len(r.Fills))
	fmt.Fprintf(w, "Risk Rejects:  %d\n", r.RiskRejections)
	fmt.Fprintf(w, "Venue Rejects: %d\n", r.VenueRejections)
	if len(r.Conflicts) > 0 {
		fmt.Fprintf(w, "Conflicts:     %d\n", len(r.Conflicts))
	}
	fmt.Fprintf(w, "Wins:          %d\n", r.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", r.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", r.WinRate())

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Cash:    %s\n", r.InitialCash.StringFixed(2))
	fmt.Fprintf(w, "End Cash:      %s\n", r.Final.Cash.StringFixed(2))
	fmt.Fprintf(w, "End Equity:    %s\n", r.Final.Equity.StringFixed(2))
	fmt.Fprintf(w, "Realized:      %s\n", r.Final.Realized.StringFixed(2))
	fmt.Fprintf(w, "Unrealized:    %s\n", r.Final.Unrealized.StringFixed(2))
	fmt.Fprintf(w, "Fees:          %s\n", r.Final.Fees.StringFixed(2))
	fmt.Fprintf(w, "Net P/L:       %s\n", r.Final.NetPnL.StringFixed(2))
	fmt.Fprintf(w, "Return:        %s%%\n", r.ReturnPct.StringFixed(2))
	if r.MaxDrawdownPct.IsPositive() {
		fmt.Fprintf(w, "Max Drawdown:  %s%%\n", r.MaxDrawdownPct.StringFixed(2))
	}

	if open := openPositions(r.Final.Positions); len(open) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Open Positions")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, p := range open {
			fmt.Fprintf(w, "- %s %s @ %s (mark %s)\n", p.Instrument, p.Qty, p.AvgPrice.StringFixed(4), p.Mark.StringFixed(4))
		}
	}
	fmt.Fprintln(w)
}

func openPositions(ps []portfolio.Position) []portfolio.Position {
	var out []portfolio.Position
	for _, p := range ps {
		if !p.Flat() {
			out = append(out, p)
		}
	}
	return out
}
