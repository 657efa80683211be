// Package regime classifies current volatility and derives the risk
// multiplier that scales stop-loss and take-profit distances.
package regime

import "fmt"

// Regime is a volatility classification.
type Regime int8

const (
	Low Regime = iota
	Normal
	High
)

func (r Regime) String() string {
	switch r {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return "normal"
	}
}

func (r Regime) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Regime) UnmarshalText(b []byte) error {
	switch string(b) {
	case "low":
		*r = Low
	case "normal", "":
		*r = Normal
	case "high":
		*r = High
	default:
		return fmt.Errorf("unknown regime %q", b)
	}
	return nil
}

// TakeProfitScale is applied to take-profit distances on top of the regime multiplier.
const TakeProfitScale = 1.2

// NormalMultiplier is the multiplier of the normal regime.
const NormalMultiplier = 1.0

// Classifier maps ATR-relative (ATR as a percent of close) to a regime.
type Classifier struct {
	LowThreshold   float64 // ATR% below this is Low
	HighThreshold  float64 // ATR% above this is High
	LowMultiplier  float64
	HighMultiplier float64
}

// Classify returns the regime and its multiplier for atrRelPct.
func (c Classifier) Classify(atrRelPct float64) (Regime, float64) {
	switch {
	case atrRelPct < c.LowThreshold:
		return Low, c.LowMultiplier
	case atrRelPct > c.HighThreshold:
		return High, c.HighMultiplier
	default:
		return Normal, NormalMultiplier
	}
}

// Percents are distances from entry, in percent.
type Percents struct {
	StopLoss float64 `json:"stop_loss"`
	TP1      float64 `json:"tp1"`
	TP2      float64 `json:"tp2"`
	TP3      float64 `json:"tp3"`
}

// Scale applies multiplier m to base percents: the stop by m, each
// take-profit by m*TakeProfitScale.
func (p Percents) Scale(m float64) Percents {
	tp := m * TakeProfitScale
	return Percents{
		StopLoss: p.StopLoss * m,
		TP1:      p.TP1 * tp,
		TP2:      p.TP2 * tp,
		TP3:      p.TP3 * tp,
	}
}
