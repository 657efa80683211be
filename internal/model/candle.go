package model

import (
	"encoding/json"
	"math"
	"time"
)

// Candle represents one OHLCV observation for a fixed time interval.
// Candles are immutable once appended to a series and ordered strictly by OpenTime.
type Candle struct {
	OpenTime time.Time `json:"open_time"` // bucket start time (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Validate checks that every field is finite and the OHLC range is consistent.
// It does not check ordering against other candles; see ValidateAfter.
func (c *Candle) Validate() error {
	fields := [...]struct {
		name string
		v    float64
	}{
		{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close}, {"volume", c.Volume},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return invalid(f.name, "not finite")
		}
	}
	if c.OpenTime.IsZero() {
		return invalid("open_time", "zero time")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return invalid("price", "must be positive")
	}
	if c.Volume < 0 {
		return invalid("volume", "negative")
	}
	if c.High < c.Low {
		return invalid("high", "below low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return invalid("open", "outside low-high range")
	}
	if c.Close < c.Low || c.Close > c.High {
		return invalid("close", "outside low-high range")
	}
	return nil
}

// ValidateAfter validates c and checks that it strictly follows prev in time.
func (c *Candle) ValidateAfter(prev Candle) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.OpenTime.After(prev.OpenTime) {
		return &ValidationError{Index: -1, Field: "open_time", Reason: "not after " + prev.OpenTime.UTC().Format(time.RFC3339), Err: ErrOutOfOrder}
	}
	return nil
}

// TypicalPrice returns (high+low+close)/3.
func (c *Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3.0
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

func invalid(field, reason string) error {
	return &ValidationError{Index: -1, Field: field, Reason: reason, Err: ErrInvalidCandle}
}
