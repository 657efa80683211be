package indicator

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-simv1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func ohlc(i int, o, h, l, c, v float64) model.Candle {
	return model.Candle{OpenTime: t0.Add(time.Duration(i) * time.Hour), Open: o, High: h, Low: l, Close: c, Volume: v}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Prices: 100, 102, 104, 103, 105
	//
	// Candle 3: initial EMA = (100+102+104)/3 = 102.0 (SMA seed)
	// Candle 4: EMA = 103*0.5 + 102.0*0.5 = 102.5
	// Candle 5: EMA = 105*0.5 + 102.5*0.5 = 103.75
	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}

	for i, p := range prices {
		ema.Add(p)
		assert.Equal(t, i >= 2, ema.Ready(), "candle %d", i)
		if ema.Ready() {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 1e-9)
		}
	}
	assert.Equal(t, "EMA_3", ema.Name())
}

func TestEMA_ConstantSeriesConverges(t *testing.T) {
	// For a constant series the seed already equals the constant and every
	// later step keeps it there.
	ema := NewEMA(15)
	for i := 0; i < 400; i++ {
		ema.Add(250.5)
		if i >= 14 {
			assertClose(t, "EMA(15) constant", ema.Value(), 250.5, 1e-9)
		}
	}
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness (Wilder's Smoothing)
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Candle 1-3: seed = (100+102+104)/3 = 102.0
	// Candle 4: SMMA = (102.0*2 + 103)/3 = 102.3333
	// Candle 5: SMMA = (102.3333*2 + 105)/3 = 103.2222
	s := NewSMMA(3)
	for _, p := range []float64{100, 102, 104} {
		s.Add(p)
	}
	assertClose(t, "seed", s.Value(), 102.0, 1e-9)
	s.Add(103)
	assertClose(t, "candle 4", s.Value(), 102.333333, 1e-5)
	s.Add(105)
	assertClose(t, "candle 5", s.Value(), 103.222222, 1e-5)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10
	//
	// First RSI (after 6 prices):
	//   gains 0.34+0.72+0.50 = 1.56 → avgGain = 0.312
	//   losses 0.25+0.48     = 0.73 → avgLoss = 0.146
	//   RSI = 100 - 100/(1+2.13699) = 68.1223
	// Price 7 (45.10): delta=+0.27
	//   avgGain = (0.312*4 + 0.27)/5 = 0.3036
	//   avgLoss = (0.146*4)/5 = 0.1168
	//   RSI = 100 - 100/(1+2.59932) = 72.2177
	rsi := NewRSI(5)
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83}
	for _, p := range prices {
		rsi.Add(p)
	}
	require.True(t, rsi.Ready())
	assertClose(t, "RSI first", rsi.Value(), 68.1223, 1e-3)

	rsi.Add(45.10)
	assertClose(t, "RSI second", rsi.Value(), 72.2177, 1e-3)
}

func TestRSI_ZeroLossIs100(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 30; i++ {
		rsi.Add(100) // flat: avgGain = avgLoss = 0
	}
	require.True(t, rsi.Ready())
	assert.Equal(t, 100.0, rsi.Value())

	rising := NewRSI(14)
	for i := 0; i < 30; i++ {
		rising.Add(100 + float64(i))
	}
	assert.Equal(t, 100.0, rising.Value())
}

func TestRSI_AlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rsi := NewRSI(14)
	price := 100.0
	for i := 0; i < 5000; i++ {
		price *= 1 + (rng.Float64()-0.5)*0.1
		rsi.Add(price)
		if rsi.Ready() {
			v := rsi.Value()
			if v < 0 || v > 100 || math.IsNaN(v) {
				t.Fatalf("step %d: RSI out of range: %f", i, v)
			}
		}
	}
}

// ────────────────────────────────────────────────────────────
// ATR / VWAP / MACD
// ────────────────────────────────────────────────────────────

func TestTrueRange(t *testing.T) {
	c := ohlc(0, 10, 12, 9, 11, 1)
	assertClose(t, "no prev", TrueRange(c, 0, false), 3, 1e-12)
	assertClose(t, "gap up", TrueRange(c, 5, true), 7, 1e-12)    // |12-5|
	assertClose(t, "gap down", TrueRange(c, 15, true), 6, 1e-12) // |9-15|
	assertClose(t, "inside", TrueRange(c, 10, true), 3, 1e-12)
}

func TestATR_Correctness_Period3(t *testing.T) {
	// TRs: 2 (h-l), max(3, |13-11|, |10-11|)=3, max(2, |14-12|, |12-12|)=2, then 4
	// seed = (2+3+2)/3 = 2.3333; next = (2.3333*2 + 4)/3 = 2.8889
	atr := NewATR(3)
	atr.Update(ohlc(0, 10, 11, 9, 11, 1))
	atr.Update(ohlc(1, 11, 13, 10, 12, 1))
	atr.Update(ohlc(2, 12, 14, 12, 13, 1))
	require.True(t, atr.Ready())
	assertClose(t, "ATR seed", atr.Value(), 7.0/3.0, 1e-9)

	atr.Update(ohlc(3, 13, 16, 12, 15, 1))
	assertClose(t, "ATR next", atr.Value(), (7.0/3.0*2+4)/3, 1e-9)
}

func TestVWAP_Cumulative(t *testing.T) {
	v := NewVWAP()
	v.Update(ohlc(0, 10, 12, 8, 10, 100))  // tp=10
	v.Update(ohlc(1, 18, 23, 17, 20, 300)) // tp=20
	// (10*100 + 20*300) / 400 = 17.5
	assertClose(t, "VWAP", v.Value(), 17.5, 1e-9)

	zero := NewVWAP()
	zero.Update(ohlc(0, 10, 12, 8, 11, 0))
	assertClose(t, "zero volume falls back to close", zero.Value(), 11, 1e-12)
}

func TestMACD_HistogramIsZero(t *testing.T) {
	m := NewMACD(3, 6)
	for i := 0; i < 20; i++ {
		m.Add(100 + float64(i*i))
		assert.Equal(t, 0.0, m.Histogram())
		assert.Equal(t, m.Value(), m.Signal())
	}
	require.True(t, m.Ready())
	assert.Greater(t, m.Value(), 0.0) // fast EMA leads in a rising series
}
