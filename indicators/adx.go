package indicators

import (
	"fmt"
	"math"
)

// ADX is Wilder's Average Directional Index over closed bars.
//
// The first period deltas between bars seed the smoothed true range and
// directional movement; the next period DX values seed the ADX itself, so
// the indicator is ready after roughly 2*period+1 bars.
type ADX struct {
	n int

	prev    Bar
	hasPrev bool
	periods int

	smTR, smPlus, smMinus float64
	plusDI, minusDI       float64
	dx                    float64

	dxSum   float64
	dxCount int
	adx     float64
	ready   bool
}

func NewADX(period int) *ADX {
	if period < 1 {
		period = 1
	}
	return &ADX{n: period}
}

func (a *ADX) Name() string   { return fmt.Sprintf("ADX(%d)", a.n) }
func (a *ADX) Warmup() int    { return 2 * a.n }
func (a *ADX) Ready() bool    { return a.ready }
func (a *ADX) Value() float64 { return a.adx }

func (a *ADX) PlusDI() float64  { return a.plusDI }
func (a *ADX) MinusDI() float64 { return a.minusDI }
func (a *ADX) DX() float64      { return a.dx }

func (a *ADX) Reset() { *a = ADX{n: a.n} }

// Update consumes the next closed bar.
func (a *ADX) Update(b Bar) {
	if !a.hasPrev {
		a.prev, a.hasPrev = b, true
		return
	}
	prevH := a.prev.High.InexactFloat64()
	prevL := a.prev.Low.InexactFloat64()
	prevC := a.prev.Close.InexactFloat64()
	h := b.High.InexactFloat64()
	l := b.Low.InexactFloat64()
	a.prev = b

	tr := math.Max(h-l, math.Max(math.Abs(h-prevC), math.Abs(l-prevC)))
	up, down := h-prevH, prevL-l
	var plusDM, minusDM float64
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}

	a.periods++
	nf := float64(a.n)
	if a.periods <= a.n {
		a.smTR += tr
		a.smPlus += plusDM
		a.smMinus += minusDM
		if a.periods < a.n {
			return
		}
	} else {
		a.smTR += tr - a.smTR/nf
		a.smPlus += plusDM - a.smPlus/nf
		a.smMinus += minusDM - a.smMinus/nf
	}

	a.plusDI, a.minusDI = 0, 0
	if a.smTR > 0 {
		a.plusDI = 100 * a.smPlus / a.smTR
		a.minusDI = 100 * a.smMinus / a.smTR
	}
	a.dx = 0
	if sum := a.plusDI + a.minusDI; sum > 0 {
		a.dx = 100 * math.Abs(a.plusDI-a.minusDI) / sum
	}

	if a.ready {
		a.adx = (a.adx*(nf-1) + a.dx) / nf
		return
	}
	a.dxSum += a.dx
	a.dxCount++
	if a.dxCount >= a.n {
		a.adx = a.dxSum / nf
		a.ready = true
	}
}
