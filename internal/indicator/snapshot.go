package indicator

import (
	"encoding/json"
	"time"

	"trading-simv1/internal/regime"
)

// Snapshot holds the derived values for one candle. When Ready is false the
// window is shorter than the required lookback and the values are zero.
// Regime and Multiplier are filled in by the caller from a regime.Classifier.
type Snapshot struct {
	Time  time.Time `json:"time"`
	Close float64   `json:"close"`
	Ready bool      `json:"ready"`

	FastEMA  float64 `json:"fast_ema"`
	SlowEMA  float64 `json:"slow_ema"`
	TrendEMA float64 `json:"trend_ema"`

	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`

	RSI         float64 `json:"rsi"`
	ATR         float64 `json:"atr"`
	ATRRelative float64 `json:"atr_relative"` // ATR as percent of close
	VWAP        float64 `json:"vwap"`

	// PriceChangePct is the close-to-close change over Params.ChangeLookback candles.
	PriceChangePct float64 `json:"price_change_pct"`

	Regime     regime.Regime `json:"regime"`
	Multiplier float64       `json:"multiplier"`
}

// JSON returns the JSON-encoded snapshot.
func (s *Snapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
