package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-simv1/internal/indicator"
	"trading-simv1/internal/model"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// snap builds a ready snapshot that passes every long filter when fast > slow.
func snap(i int, fast, slow float64) indicator.Snapshot {
	return indicator.Snapshot{
		Time:     base.Add(time.Duration(i) * time.Hour),
		Close:    110,
		Ready:    true,
		FastEMA:  fast,
		SlowEMA:  slow,
		TrendEMA: 100,
		VWAP:     100,
		RSI:      60,
	}
}

func bearish(s indicator.Snapshot) indicator.Snapshot {
	s.Close = 90
	s.RSI = 40
	return s
}

func TestCrossover_CrossUp(t *testing.T) {
	g := NewCrossover(Default(), nil)

	assert.Nil(t, g.Evaluate(snap(0, 99, 100), model.Flat), "first ready snapshot only primes")
	sig := g.Evaluate(snap(1, 101, 100), model.Flat)
	require.NotNil(t, sig)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Equal(t, model.Long, sig.Action.Direction())
	assert.Equal(t, 110.0, sig.Price)
	assert.Equal(t, snap(1, 0, 0).Time, sig.Time)

	assert.Nil(t, g.Evaluate(snap(2, 102, 100), model.Flat), "no cross while fast stays above")
}

func TestCrossover_EqualCountsAsBelow(t *testing.T) {
	g := NewCrossover(Default(), nil)
	g.Evaluate(snap(0, 100, 100), model.Flat)
	sig := g.Evaluate(snap(1, 100.5, 100), model.Flat)
	require.NotNil(t, sig)
	assert.Equal(t, ActionBuy, sig.Action)
}

func TestCrossover_CrossDown(t *testing.T) {
	g := NewCrossover(Default(), nil)
	g.Evaluate(bearish(snap(0, 101, 100)), model.Flat)
	sig := g.Evaluate(bearish(snap(1, 99, 100)), model.Flat)
	require.NotNil(t, sig)
	assert.Equal(t, ActionSell, sig.Action)
	assert.Equal(t, model.Short, sig.Action.Direction())
}

func TestCrossover_Exposure(t *testing.T) {
	// Same side suppresses; opposite side is allowed (reversal).
	g := NewCrossover(Default(), nil)
	g.Evaluate(snap(0, 99, 100), model.Long)
	assert.Nil(t, g.Evaluate(snap(1, 101, 100), model.Long))

	g.Reset()
	g.Evaluate(snap(0, 99, 100), model.Short)
	assert.NotNil(t, g.Evaluate(snap(1, 101, 100), model.Short))

	g.Reset()
	g.Evaluate(bearish(snap(0, 101, 100)), model.Short)
	assert.Nil(t, g.Evaluate(bearish(snap(1, 99, 100)), model.Short))
}

func TestCrossover_Filters(t *testing.T) {
	tests := []struct {
		name   string
		cfg    func(*Config)
		mutate func(*indicator.Snapshot)
		want   bool
	}{
		{"all pass", nil, func(*indicator.Snapshot) {}, true},
		{"below trend", nil, func(s *indicator.Snapshot) { s.TrendEMA = 120 }, false},
		{"at trend", nil, func(s *indicator.Snapshot) { s.TrendEMA = 110 }, false},
		{"rsi at threshold", nil, func(s *indicator.Snapshot) { s.RSI = 50 }, false},
		{"negative histogram", nil, func(s *indicator.Snapshot) { s.MACDHist = -0.1 }, false},
		{"zero histogram passes", nil, func(s *indicator.Snapshot) { s.MACDHist = 0 }, true},
		{"1m uses vwap", func(c *Config) { c.Timeframe = TF1m }, func(s *indicator.Snapshot) { s.TrendEMA = 120 }, true},
		{"1m below vwap", func(c *Config) { c.Timeframe = TF1m }, func(s *indicator.Snapshot) { s.VWAP = 115 }, false},
		{"1m change too large", func(c *Config) { c.Timeframe = TF1m }, func(s *indicator.Snapshot) { s.PriceChangePct = 2.5 }, false},
		{"1m change in bound", func(c *Config) { c.Timeframe = TF1m }, func(s *indicator.Snapshot) { s.PriceChangePct = -2 }, true},
		{"1h ignores change", nil, func(s *indicator.Snapshot) { s.PriceChangePct = 9 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			g := NewCrossover(cfg, nil)
			g.Evaluate(snap(0, 99, 100), model.Flat)
			s := snap(1, 101, 100)
			tt.mutate(&s)
			sig := g.Evaluate(s, model.Flat)
			assert.Equal(t, tt.want, sig != nil)
		})
	}
}

func TestCrossover_NotReadyBreaksChain(t *testing.T) {
	g := NewCrossover(Default(), nil)
	g.Evaluate(snap(0, 99, 100), model.Flat)
	assert.Nil(t, g.Evaluate(indicator.Snapshot{Time: base.Add(time.Hour)}, model.Flat))
	assert.Nil(t, g.Evaluate(snap(2, 101, 100), model.Flat), "needs two consecutive ready snapshots")
}

func TestCrossover_AtMostOneSignalPerCandle(t *testing.T) {
	g := NewCrossover(Default(), nil)
	fast := []float64{99, 101, 99, 101, 102, 98, 97, 103}
	for i, f := range fast {
		s := snap(i, f, 100)
		if f < 100 {
			s = bearish(s)
		}
		sig := g.Evaluate(s, model.Flat)
		if sig != nil {
			assert.Contains(t, []Action{ActionBuy, ActionSell}, sig.Action)
		}
	}
}
