package backtest

import (
	"time"

	"trading-simv1/internal/model"
)

// Drawdown tracks peak equity and the deepest decline from it.
type Drawdown struct {
	Peak       float64   `json:"peak"`
	MaxPct     float64   `json:"max_pct"`
	MaxAbs     float64   `json:"max_abs"`
	PeakAtMax  float64   `json:"peak_at_max"`
	Trough     float64   `json:"trough"`
	TroughTime time.Time `json:"trough_time"`

	seen bool
}

// Observe folds in the next equity value. A zero or negative peak yields a
// zero percentage.
func (d *Drawdown) Observe(t time.Time, equity float64) {
	if !d.seen || equity > d.Peak {
		d.Peak = equity
		d.seen = true
	}
	abs := d.Peak - equity
	if abs > d.MaxAbs {
		d.MaxAbs = abs
	}
	pct := 0.0
	if d.Peak > 0 {
		pct = abs / d.Peak * 100
	}
	if pct > d.MaxPct {
		d.MaxPct = pct
		d.PeakAtMax = d.Peak
		d.Trough = equity
		d.TroughTime = t
	}
}

// DrawdownOf computes drawdown statistics over stored points.
func DrawdownOf(points []model.EquityPoint) Drawdown {
	var d Drawdown
	for _, p := range points {
		d.Observe(p.Time, p.Equity)
	}
	return d
}

// Curve is the equity curve. Points sharing a timestamp are collapsed,
// the last write wins.
type Curve struct {
	points []model.EquityPoint
	dd     Drawdown // over every point but the last
}

// Add appends p, replacing the last point when timestamps are equal.
// Points older than the last one are ignored.
func (c *Curve) Add(p model.EquityPoint) {
	n := len(c.points)
	if n > 0 {
		last := c.points[n-1]
		switch {
		case p.Time.Equal(last.Time):
			c.points[n-1] = p
			return
		case p.Time.Before(last.Time):
			return
		}
		c.dd.Observe(last.Time, last.Equity)
	}
	c.points = append(c.points, p)
}

// Points returns a copy of the curve.
func (c *Curve) Points() []model.EquityPoint {
	out := make([]model.EquityPoint, len(c.points))
	copy(out, c.points)
	return out
}

// Last returns the newest point.
func (c *Curve) Last() (model.EquityPoint, bool) {
	if len(c.points) == 0 {
		return model.EquityPoint{}, false
	}
	return c.points[len(c.points)-1], true
}

// Drawdown returns the drawdown statistics over the whole curve.
func (c *Curve) Drawdown() Drawdown {
	dd := c.dd
	if last, ok := c.Last(); ok {
		dd.Observe(last.Time, last.Equity)
	}
	return dd
}

// Reset clears the curve.
func (c *Curve) Reset() {
	c.points = nil
	c.dd = Drawdown{}
}
