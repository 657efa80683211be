package indicator

import (
	"fmt"

	"trading-simv1/internal/model"
)

// Params specifies the indicator lengths the Engine computes.
type Params struct {
	FastEMA   int
	SlowEMA   int
	TrendEMA  int
	RSIPeriod int
	ATRPeriod int
	MACDFast  int
	MACDSlow  int

	// ChangeLookback is how many candles back PriceChangePct compares against.
	// 0 disables it.
	ChangeLookback int
}

// Validate checks that all lengths are usable.
func (p Params) Validate() error {
	for name, v := range map[string]int{
		"fast_ema": p.FastEMA, "slow_ema": p.SlowEMA, "trend_ema": p.TrendEMA,
		"rsi_period": p.RSIPeriod, "atr_period": p.ATRPeriod,
		"macd_fast": p.MACDFast, "macd_slow": p.MACDSlow,
	} {
		if v <= 0 {
			return fmt.Errorf("indicator param %s must be positive, got %d", name, v)
		}
	}
	if p.ChangeLookback < 0 {
		return fmt.Errorf("indicator param change_lookback must not be negative, got %d", p.ChangeLookback)
	}
	return nil
}

// Lookback is the minimum window length before any snapshot is Ready:
// max(slow EMA, trend EMA, ATR period).
func (p Params) Lookback() int {
	return max(p.SlowEMA, p.TrendEMA, p.ATRPeriod)
}

// Window is a read-only, time-ordered candle history (oldest at index 0).
type Window interface {
	Len() int
	At(i int) model.Candle
}

// Engine recomputes every indicator over a candle window.
// Designed for single-goroutine usage; no locks needed. The calculators are
// reused between calls; Compute keeps no state across calls.
type Engine struct {
	params Params

	fast  *EMA
	slow  *EMA
	trend *EMA
	rsi   *RSI
	atr   *ATR
	macd  *MACD
	vwap  *VWAP
}

// NewEngine creates an indicator engine for p.
func NewEngine(p Params) *Engine {
	return &Engine{
		params: p,
		fast:   NewEMA(p.FastEMA),
		slow:   NewEMA(p.SlowEMA),
		trend:  NewEMA(p.TrendEMA),
		rsi:    NewRSI(p.RSIPeriod),
		atr:    NewATR(p.ATRPeriod),
		macd:   NewMACD(p.MACDFast, p.MACDSlow),
		vwap:   NewVWAP(),
	}
}

// Params returns the engine's indicator lengths.
func (e *Engine) Params() Params { return e.params }

// Compute returns the snapshot for the newest candle of w.
func (e *Engine) Compute(w Window) Snapshot {
	n := w.Len()
	if n == 0 {
		return Snapshot{}
	}
	last := w.At(n - 1)
	snap := Snapshot{Time: last.OpenTime, Close: last.Close}
	if n < e.params.Lookback() {
		return snap
	}

	e.reset()
	for i := 0; i < n; i++ {
		c := w.At(i)
		e.fast.Add(c.Close)
		e.slow.Add(c.Close)
		e.trend.Add(c.Close)
		e.rsi.Add(c.Close)
		e.macd.Add(c.Close)
		e.atr.Update(c)
		e.vwap.Update(c)
	}

	if !e.fast.Ready() || !e.slow.Ready() || !e.trend.Ready() ||
		!e.rsi.Ready() || !e.atr.Ready() || !e.macd.Ready() {
		return snap
	}
	if lb := e.params.ChangeLookback; lb > 0 {
		if n <= lb {
			return snap
		}
		ref := w.At(n - 1 - lb).Close
		snap.PriceChangePct = (last.Close - ref) / ref * 100
	}

	snap.Ready = true
	snap.FastEMA = e.fast.Value()
	snap.SlowEMA = e.slow.Value()
	snap.TrendEMA = e.trend.Value()
	snap.MACD = e.macd.Value()
	snap.MACDSignal = e.macd.Signal()
	snap.MACDHist = e.macd.Histogram()
	snap.RSI = e.rsi.Value()
	snap.ATR = e.atr.Value()
	snap.ATRRelative = snap.ATR / last.Close * 100
	snap.VWAP = e.vwap.Value()
	return snap
}

func (e *Engine) reset() {
	e.fast.Reset()
	e.slow.Reset()
	e.trend.Reset()
	e.rsi.Reset()
	e.atr.Reset()
	e.macd.Reset()
	e.vwap.Reset()
}
