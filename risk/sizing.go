package risk

import (
	"github.com/shopspring/decimal"
)

// SizeForRisk returns the quantity that loses riskPct of equity if price
// moves from entry to stop, floored to lot. It returns zero when entry and
// stop coincide.
func SizeForRisk(equity, riskPct, entry, stop, lot decimal.Decimal) decimal.Decimal {
	move := entry.Sub(stop).Abs()
	if move.IsZero() || !equity.IsPositive() || !riskPct.IsPositive() {
		return decimal.Zero
	}
	qty := equity.Mul(riskPct).Div(move)
	if lot.IsPositive() {
		qty = qty.Div(lot).Floor().Mul(lot)
	}
	return qty
}
