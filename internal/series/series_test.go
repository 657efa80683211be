package series

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-simv1/internal/model"
)

var t0 = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func bar(i int, close float64) model.Candle {
	return model.Candle{
		OpenTime: t0.Add(time.Duration(i) * time.Minute),
		Open:     close, High: close + 1, Low: close - 1, Close: close, Volume: 10,
	}
}

func TestSeries_AppendAndEvict(t *testing.T) {
	s := New(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(bar(i, float64(100+i))))
	}

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, uint64(2), s.Evicted())
	got := s.Candles()
	require.Len(t, got, 3)
	assert.Equal(t, 102.0, got[0].Close)
	assert.Equal(t, 104.0, got[2].Close)
}

func TestSeries_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
}

func TestSeries_RejectsOutOfOrder(t *testing.T) {
	s := New(10)
	require.NoError(t, s.Append(bar(1, 100)))

	err := s.Append(bar(1, 101)) // duplicate time
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrOutOfOrder))

	err = s.Append(bar(0, 101)) // earlier time
	assert.True(t, errors.Is(err, model.ErrOutOfOrder))

	// state untouched
	assert.Equal(t, 1, s.Len())
	last, _ := s.Last()
	assert.Equal(t, 100.0, last.Close)
}

func TestSeries_RejectsMalformed(t *testing.T) {
	cases := map[string]func(c *model.Candle){
		"nan close":    func(c *model.Candle) { c.Close = math.NaN() },
		"inf high":     func(c *model.Candle) { c.High = math.Inf(1) },
		"neg volume":   func(c *model.Candle) { c.Volume = -1 },
		"high < low":   func(c *model.Candle) { c.High, c.Low = 90, 110 },
		"zero open":    func(c *model.Candle) { c.Open = 0 },
		"missing time": func(c *model.Candle) { c.OpenTime = time.Time{} },
		"close > high": func(c *model.Candle) { c.Close = 102 },
		"open < low":   func(c *model.Candle) { c.Open = 98 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := New(10)
			c := bar(0, 100)
			mutate(&c)
			err := s.Append(c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrInvalidCandle))

			var ve *model.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, -1, ve.Index)
			assert.Equal(t, 0, s.Len())
		})
	}
}

func TestSeries_Reset(t *testing.T) {
	s := New(2)
	require.NoError(t, s.Append(bar(0, 100)))
	require.NoError(t, s.Append(bar(1, 100)))
	require.NoError(t, s.Append(bar(2, 100)))
	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(0), s.Evicted())
	// earlier timestamps are accepted again after reset
	require.NoError(t, s.Append(bar(0, 100)))
}
