package backtest

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"trading-simv1/internal/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func entry(id int64, dir model.Direction, price, size float64) model.TradeEvent {
	return model.TradeEvent{PositionID: id, Type: model.EventEntry, Reason: model.ReasonSignal, Direction: dir, Price: price, Time: t0, Size: size}
}

func exit(id int64, typ model.EventType, price, pct float64) model.TradeEvent {
	return model.TradeEvent{PositionID: id, Type: typ, Reason: model.ReasonTP1, Price: price, Time: t0.Add(time.Hour), ClosedPct: pct}
}

func TestLedger_Arithmetic(t *testing.T) {
	l := NewLedger(10000, 0.001, nil)

	ev, ok := l.Apply(entry(1, model.Long, 100, 1000))
	require.True(t, ok)
	assert.InDelta(t, 1.0, ev.Commission, 1e-12)
	assert.InDelta(t, 9999.0, l.Capital(), 1e-9)

	// 30% of 1000 at +5%: 15 - 0.3 commission
	ev, ok = l.Apply(exit(1, model.EventPartial, 105, 30))
	require.True(t, ok)
	assert.InDelta(t, 300.0, ev.Size, 1e-9)
	assert.InDelta(t, 14.7, ev.PnL, 1e-9)
	assert.InDelta(t, 5.0, ev.PnLPct, 1e-9)
	assert.Equal(t, model.Long, ev.Direction)

	// 70% at -1%: -7 - 0.7
	ev, ok = l.Apply(exit(1, model.EventExit, 99, 70))
	require.True(t, ok)
	assert.InDelta(t, -7.7, ev.PnL, 1e-9)

	assert.InDelta(t, 9999+14.7-7.7, l.Capital(), 1e-9)
	s := l.stats(l.Capital(), Drawdown{})
	assert.Equal(t, 1, s.WinningTrades, "net 14.7-7.7-1 is positive")
	assert.Equal(t, 1, s.TotalTrades)
	assert.InDelta(t, 6.0, s.GrossProfit, 1e-9)
	assert.True(t, s.ProfitFactor.IsInf())
	assert.Len(t, l.Trades(), 3)
}

func TestLedger_ShortLoss(t *testing.T) {
	l := NewLedger(1000, 0, nil)
	l.Apply(entry(1, model.Short, 100, 100))
	ev, ok := l.Apply(exit(1, model.EventExit, 103, 100))
	require.True(t, ok)
	assert.InDelta(t, -3.0, ev.PnL, 1e-9)

	s := l.stats(l.Capital(), Drawdown{})
	assert.Equal(t, 1, s.LosingTrades)
	assert.InDelta(t, 3.0, s.GrossLoss, 1e-9)
	assert.Equal(t, ProfitFactor(0), s.ProfitFactor)
	assert.Zero(t, s.WinRate)
}

func TestLedger_UnknownPositionIsDiscarded(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := NewLedger(10000, 0.001, zap.New(core))
	l.Apply(entry(1, model.Long, 100, 1000))
	capital := l.Capital()

	_, ok := l.Apply(exit(42, model.EventExit, 120, 100))
	assert.False(t, ok)
	assert.Equal(t, 1, l.Warnings())
	assert.Equal(t, capital, l.Capital())
	assert.Len(t, l.Trades(), 1)

	entries := logs.FilterMessageSnippet("unknown position").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].ContextMap()["position_id"])
}

func TestLedger_OverCloseIsDiscarded(t *testing.T) {
	l := NewLedger(10000, 0.001, nil)
	l.Apply(entry(1, model.Long, 100, 1000))
	_, ok := l.Apply(exit(1, model.EventPartial, 101, 80))
	require.True(t, ok)
	_, ok = l.Apply(exit(1, model.EventExit, 101, 30))
	assert.False(t, ok)
	assert.Equal(t, 1, l.Warnings())

	_, ok = l.Apply(entry(1, model.Long, 100, 10))
	assert.False(t, ok, "duplicate entry id")
	assert.Equal(t, 2, l.Warnings())

	l.Reset()
	assert.Zero(t, l.Warnings())
	assert.Equal(t, 10000.0, l.Capital())
	assert.Empty(t, l.Trades())
}

func TestProfitFactor(t *testing.T) {
	assert.Equal(t, ProfitFactor(2), NewProfitFactor(10, 5))
	assert.True(t, NewProfitFactor(10, 0).IsInf())
	assert.Equal(t, ProfitFactor(0), NewProfitFactor(0, 0))
	assert.Equal(t, ProfitFactor(0), NewProfitFactor(0, 4))

	b, err := json.Marshal(struct {
		PF ProfitFactor `json:"pf"`
	}{NewProfitFactor(1, 0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pf":"Infinity"}`, string(b))

	var pf ProfitFactor
	require.NoError(t, json.Unmarshal([]byte(`"Infinity"`), &pf))
	assert.True(t, math.IsInf(float64(pf), 1))
	require.NoError(t, json.Unmarshal([]byte(`1.5`), &pf))
	assert.Equal(t, ProfitFactor(1.5), pf)
	assert.Equal(t, "1.50", pf.String())
}

func TestDrawdown_Sequence(t *testing.T) {
	var c Curve
	for i, eq := range []float64{1000, 1100, 900, 950} {
		c.Add(model.EquityPoint{Time: t0.Add(time.Duration(i) * time.Hour), Equity: eq})
	}
	dd := c.Drawdown()
	assert.Equal(t, 1100.0, dd.PeakAtMax)
	assert.Equal(t, 900.0, dd.Trough)
	assert.InDelta(t, 18.18, dd.MaxPct, 0.005)
	assert.Equal(t, 200.0, dd.MaxAbs)
	assert.Equal(t, t0.Add(2*time.Hour), dd.TroughTime)
	assert.Equal(t, dd, DrawdownOf(c.Points()), "recomputed from stored points")
}

func TestDrawdown_ZeroPeak(t *testing.T) {
	var d Drawdown
	d.Observe(t0, 0)
	d.Observe(t0.Add(time.Hour), -10)
	assert.Zero(t, d.MaxPct)
	assert.Equal(t, 10.0, d.MaxAbs)
}

func TestCurve_LastWriteWins(t *testing.T) {
	var c Curve
	c.Add(model.EquityPoint{Time: t0, Equity: 100})
	c.Add(model.EquityPoint{Time: t0.Add(time.Hour), Equity: 50})
	c.Add(model.EquityPoint{Time: t0.Add(time.Hour), Equity: 120})
	c.Add(model.EquityPoint{Time: t0, Equity: 1}) // older, ignored

	pts := c.Points()
	require.Len(t, pts, 2)
	assert.Equal(t, 120.0, pts[1].Equity)
	assert.Zero(t, c.Drawdown().MaxPct, "the overwritten 50 never counts")
}
