package indicator

import "trading-simv1/internal/model"

// VWAP accumulates typical-price x volume over every candle it is fed.
// It is not session-bounded: the Engine feeds it the whole retained window.
type VWAP struct {
	sumPV     float64
	sumV      float64
	lastClose float64
	count     int
}

// NewVWAP creates an empty VWAP accumulator.
func NewVWAP() *VWAP { return &VWAP{} }

func (v *VWAP) Name() string { return "VWAP" }

// Update feeds the next candle.
func (v *VWAP) Update(c model.Candle) {
	v.sumPV += c.TypicalPrice() * c.Volume
	v.sumV += c.Volume
	v.lastClose = c.Close
	v.count++
}

// Value returns cumulative VWAP. With zero cumulative volume it falls back
// to the last close.
func (v *VWAP) Value() float64 {
	if v.sumV == 0 {
		return v.lastClose
	}
	return v.sumPV / v.sumV
}

func (v *VWAP) Ready() bool { return v.count > 0 }

// Reset clears the VWAP state for reuse.
func (v *VWAP) Reset() {
	*v = VWAP{}
}
