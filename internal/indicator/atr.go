package indicator

import (
	"math"
	"strconv"

	"trading-simv1/internal/model"
)

// ATR calculates Average True Range with Wilder smoothing.
// True range = max(high-low, |high-prevClose|, |low-prevClose|); the first
// candle has no previous close and contributes high-low.
type ATR struct {
	smma      *SMMA
	prevClose float64
	seen      bool
}

// NewATR creates a new ATR indicator with the given period.
func NewATR(period int) *ATR {
	return &ATR{smma: NewSMMA(period)}
}

func (a *ATR) Name() string { return "ATR_" + strconv.Itoa(a.smma.period) }

// Update feeds the next candle.
func (a *ATR) Update(c model.Candle) {
	a.smma.Add(TrueRange(c, a.prevClose, a.seen))
	a.prevClose = c.Close
	a.seen = true
}

func (a *ATR) Value() float64 { return a.smma.Value() }
func (a *ATR) Ready() bool    { return a.smma.Ready() }

// Reset clears the ATR state for reuse.
func (a *ATR) Reset() {
	a.smma.Reset()
	a.prevClose = 0
	a.seen = false
}

// TrueRange returns the true range of c given the previous close.
// hasPrev=false yields plain high-low.
func TrueRange(c model.Candle, prevClose float64, hasPrev bool) float64 {
	tr := c.High - c.Low
	if !hasPrev {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}
