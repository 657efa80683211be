package strategy

import (
	"errors"
	"fmt"
	"time"

	"trading-simv1/internal/indicator"
	"trading-simv1/internal/regime"
	"trading-simv1/internal/series"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid strategy config")

// Timeframe is the candle interval a strategy runs on.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// Profile holds the timeframe-dependent constants.
type Profile struct {
	Interval time.Duration

	MACDFast int
	MACDSlow int

	// ATR-relative percent bounds of the normal regime and the multipliers
	// applied outside of it.
	LowThreshold   float64
	HighThreshold  float64
	LowMultiplier  float64
	HighMultiplier float64

	// UseVWAP selects VWAP instead of the trend EMA as the entry reference price.
	UseVWAP bool

	// ChangeLookback and MaxChangePct bound short-term price change at entry.
	// Zero disables the filter.
	ChangeLookback int
	MaxChangePct   float64
}

var profiles = map[Timeframe]Profile{
	TF1m: {
		Interval: time.Minute, MACDFast: 6, MACDSlow: 13,
		LowThreshold: 0.15, HighThreshold: 0.6, LowMultiplier: 0.7, HighMultiplier: 1.5,
		UseVWAP: true, ChangeLookback: 3, MaxChangePct: 2,
	},
	TF5m: {
		Interval: 5 * time.Minute, MACDFast: 8, MACDSlow: 17,
		LowThreshold: 0.3, HighThreshold: 1.0, LowMultiplier: 0.8, HighMultiplier: 1.4,
		UseVWAP: true,
	},
	TF15m: {
		Interval: 15 * time.Minute, MACDFast: 12, MACDSlow: 26,
		LowThreshold: 0.5, HighThreshold: 1.5, LowMultiplier: 0.8, HighMultiplier: 1.3,
	},
	TF1h: {
		Interval: time.Hour, MACDFast: 12, MACDSlow: 26,
		LowThreshold: 0.8, HighThreshold: 2.5, LowMultiplier: 0.85, HighMultiplier: 1.3,
	},
	TF4h: {
		Interval: 4 * time.Hour, MACDFast: 12, MACDSlow: 26,
		LowThreshold: 1.2, HighThreshold: 3.5, LowMultiplier: 0.9, HighMultiplier: 1.25,
	},
	TF1d: {
		Interval: 24 * time.Hour, MACDFast: 12, MACDSlow: 26,
		LowThreshold: 2.0, HighThreshold: 5.0, LowMultiplier: 0.9, HighMultiplier: 1.2,
	},
}

// Profile returns the constants for tf.
func (tf Timeframe) Profile() (Profile, bool) {
	p, ok := profiles[tf]
	return p, ok
}

// Duration returns the candle interval, or 0 for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	return profiles[tf].Interval
}

// Config is the full parameter set of one strategy instance.
// Zero-valued override fields fall back to the timeframe profile.
type Config struct {
	Timeframe Timeframe `yaml:"timeframe" json:"timeframe"`

	FastEMA   int     `yaml:"fast_ema" json:"fast_ema"`
	SlowEMA   int     `yaml:"slow_ema" json:"slow_ema"`
	TrendEMA  int     `yaml:"trend_ema" json:"trend_ema"`
	RSIPeriod int     `yaml:"rsi_period" json:"rsi_period"`
	RSILong   float64 `yaml:"rsi_long" json:"rsi_long"`
	RSIShort  float64 `yaml:"rsi_short" json:"rsi_short"`
	ATRPeriod int     `yaml:"atr_period" json:"atr_period"`

	// Base percentages before regime scaling.
	StopLossPct float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TP1Pct      float64 `yaml:"tp1_pct" json:"tp1_pct"`
	TP2Pct      float64 `yaml:"tp2_pct" json:"tp2_pct"`
	TP3Pct      float64 `yaml:"tp3_pct" json:"tp3_pct"`

	// Share of the original position closed at TP1 and TP2.
	TP1ClosePct float64 `yaml:"tp1_close_pct" json:"tp1_close_pct"`
	TP2ClosePct float64 `yaml:"tp2_close_pct" json:"tp2_close_pct"`

	// Profile overrides.
	MACDFast          int     `yaml:"macd_fast" json:"macd_fast,omitempty"`
	MACDSlow          int     `yaml:"macd_slow" json:"macd_slow,omitempty"`
	LowVolThreshold   float64 `yaml:"low_vol_threshold" json:"low_vol_threshold,omitempty"`
	HighVolThreshold  float64 `yaml:"high_vol_threshold" json:"high_vol_threshold,omitempty"`
	LowVolMultiplier  float64 `yaml:"low_vol_multiplier" json:"low_vol_multiplier,omitempty"`
	HighVolMultiplier float64 `yaml:"high_vol_multiplier" json:"high_vol_multiplier,omitempty"`
	MaxPriceChangePct float64 `yaml:"max_price_change_pct" json:"max_price_change_pct,omitempty"`

	InitialCapital   float64 `yaml:"initial_capital" json:"initial_capital"`
	PositionFraction float64 `yaml:"position_fraction" json:"position_fraction"`
	CommissionRate   float64 `yaml:"commission_rate" json:"commission_rate"`

	// HistoryCapacity bounds the candle window. 0 means series.DefaultCapacity.
	HistoryCapacity int `yaml:"history_capacity" json:"history_capacity,omitempty"`
}

// Default returns the stock parameter set on the 1h timeframe.
func Default() Config {
	return Config{
		Timeframe:        TF1h,
		FastEMA:          15,
		SlowEMA:          30,
		TrendEMA:         200,
		RSIPeriod:        14,
		RSILong:          50,
		RSIShort:         50,
		ATRPeriod:        14,
		StopLossPct:      3,
		TP1Pct:           3,
		TP2Pct:           6,
		TP3Pct:           10,
		TP1ClosePct:      30,
		TP2ClosePct:      30,
		InitialCapital:   10000,
		PositionFraction: 0.1,
		CommissionRate:   0.001,
	}
}

// Validate checks the config and reports the first problem found.
func (c Config) Validate() error {
	if _, ok := c.Timeframe.Profile(); !ok {
		return fmt.Errorf("%w: unknown timeframe %q", ErrInvalidConfig, c.Timeframe)
	}
	if c.FastEMA <= 0 || c.SlowEMA <= 0 || c.TrendEMA <= 0 || c.RSIPeriod <= 0 || c.ATRPeriod <= 0 {
		return fmt.Errorf("%w: indicator lengths must be positive", ErrInvalidConfig)
	}
	if c.FastEMA >= c.SlowEMA {
		return fmt.Errorf("%w: fast_ema (%d) must be below slow_ema (%d)", ErrInvalidConfig, c.FastEMA, c.SlowEMA)
	}
	if fast, slow := c.MACDLengths(); fast >= slow {
		return fmt.Errorf("%w: macd_fast (%d) must be below macd_slow (%d)", ErrInvalidConfig, fast, slow)
	}
	if c.RSILong < 0 || c.RSILong > 100 || c.RSIShort < 0 || c.RSIShort > 100 {
		return fmt.Errorf("%w: rsi thresholds must be within [0,100]", ErrInvalidConfig)
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 100 {
		return fmt.Errorf("%w: stop_loss_pct must be within (0,100), got %g", ErrInvalidConfig, c.StopLossPct)
	}
	if c.TP1Pct <= 0 || c.TP1Pct > c.TP2Pct || c.TP2Pct > c.TP3Pct {
		return fmt.Errorf("%w: take profits must satisfy 0 < tp1 <= tp2 <= tp3", ErrInvalidConfig)
	}
	if c.TP1ClosePct < 0 || c.TP2ClosePct < 0 || c.TP1ClosePct+c.TP2ClosePct >= 100 {
		return fmt.Errorf("%w: tp1_close_pct + tp2_close_pct must be within [0,100)", ErrInvalidConfig)
	}
	cls := c.Classifier()
	if cls.LowThreshold <= 0 || cls.LowThreshold >= cls.HighThreshold {
		return fmt.Errorf("%w: volatility thresholds must satisfy 0 < low < high", ErrInvalidConfig)
	}
	if cls.LowMultiplier <= 0 || cls.HighMultiplier <= 0 {
		return fmt.Errorf("%w: volatility multipliers must be positive", ErrInvalidConfig)
	}
	if c.MaxPriceChangePct < 0 {
		return fmt.Errorf("%w: max_price_change_pct must not be negative", ErrInvalidConfig)
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("%w: initial_capital must be positive", ErrInvalidConfig)
	}
	if c.PositionFraction <= 0 || c.PositionFraction > 1 {
		return fmt.Errorf("%w: position_fraction must be within (0,1], got %g", ErrInvalidConfig, c.PositionFraction)
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("%w: commission_rate must be within [0,1), got %g", ErrInvalidConfig, c.CommissionRate)
	}
	if c.HistoryCapacity < 0 {
		return fmt.Errorf("%w: history_capacity must not be negative", ErrInvalidConfig)
	}
	if n, lb := c.HistoryLen(), c.IndicatorParams().Lookback(); n < lb {
		return fmt.Errorf("%w: history length %d is shorter than the indicator lookback %d", ErrInvalidConfig, n, lb)
	}
	return nil
}

// HistoryLen returns the effective candle window length.
func (c Config) HistoryLen() int {
	if c.HistoryCapacity > 0 {
		return c.HistoryCapacity
	}
	return series.DefaultCapacity
}

func (c Config) profile() Profile {
	return profiles[c.Timeframe]
}

// MACDLengths returns the effective MACD EMA lengths.
func (c Config) MACDLengths() (fast, slow int) {
	p := c.profile()
	fast, slow = p.MACDFast, p.MACDSlow
	if c.MACDFast > 0 {
		fast = c.MACDFast
	}
	if c.MACDSlow > 0 {
		slow = c.MACDSlow
	}
	return fast, slow
}

// MaxChange returns the effective short-term price change filter.
// lookback 0 means disabled.
func (c Config) MaxChange() (lookback int, maxPct float64) {
	p := c.profile()
	if p.ChangeLookback == 0 {
		return 0, 0
	}
	maxPct = p.MaxChangePct
	if c.MaxPriceChangePct > 0 {
		maxPct = c.MaxPriceChangePct
	}
	return p.ChangeLookback, maxPct
}

// UsesVWAP reports whether entries are filtered against VWAP instead of the trend EMA.
func (c Config) UsesVWAP() bool { return c.profile().UseVWAP }

// IndicatorParams returns the lengths the indicator engine needs.
func (c Config) IndicatorParams() indicator.Params {
	fast, slow := c.MACDLengths()
	lookback, _ := c.MaxChange()
	return indicator.Params{
		FastEMA:        c.FastEMA,
		SlowEMA:        c.SlowEMA,
		TrendEMA:       c.TrendEMA,
		RSIPeriod:      c.RSIPeriod,
		ATRPeriod:      c.ATRPeriod,
		MACDFast:       fast,
		MACDSlow:       slow,
		ChangeLookback: lookback,
	}
}

// Classifier returns the regime classifier for the effective thresholds.
func (c Config) Classifier() regime.Classifier {
	p := c.profile()
	cls := regime.Classifier{
		LowThreshold:   p.LowThreshold,
		HighThreshold:  p.HighThreshold,
		LowMultiplier:  p.LowMultiplier,
		HighMultiplier: p.HighMultiplier,
	}
	if c.LowVolThreshold > 0 {
		cls.LowThreshold = c.LowVolThreshold
	}
	if c.HighVolThreshold > 0 {
		cls.HighThreshold = c.HighVolThreshold
	}
	if c.LowVolMultiplier > 0 {
		cls.LowMultiplier = c.LowVolMultiplier
	}
	if c.HighVolMultiplier > 0 {
		cls.HighMultiplier = c.HighVolMultiplier
	}
	return cls
}

// BasePercents returns the unscaled stop and take-profit percentages.
func (c Config) BasePercents() regime.Percents {
	return regime.Percents{StopLoss: c.StopLossPct, TP1: c.TP1Pct, TP2: c.TP2Pct, TP3: c.TP3Pct}
}
