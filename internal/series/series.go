// Package series holds the validated, time-ordered candle window the
// indicators are computed over.
package series

import (
	"trading-simv1/internal/model"
	"trading-simv1/internal/ringbuf"
)

// DefaultCapacity is the number of most recent candles retained.
const DefaultCapacity = 500

// Series is a bounded candle history. Older candles are discarded FIFO.
type Series struct {
	ring *ringbuf.Ring[model.Candle]
}

// New creates a series retaining at most capacity candles (DefaultCapacity if <= 0).
func New(capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Series{ring: ringbuf.New[model.Candle](capacity)}
}

// Append validates c and adds it to the window. On error the series is unchanged.
func (s *Series) Append(c model.Candle) error {
	if last, ok := s.ring.Last(); ok {
		if err := c.ValidateAfter(last); err != nil {
			return err
		}
	} else if err := c.Validate(); err != nil {
		return err
	}
	s.ring.Push(c)
	return nil
}

// Len returns the number of retained candles.
func (s *Series) Len() int { return s.ring.Len() }

// Cap returns the retention limit.
func (s *Series) Cap() int { return s.ring.Cap() }

// At returns the i-th retained candle, 0 being the oldest.
func (s *Series) At(i int) model.Candle { return s.ring.At(i) }

// Last returns the newest candle.
func (s *Series) Last() (model.Candle, bool) { return s.ring.Last() }

// Candles returns a copy of the retained window, oldest first.
func (s *Series) Candles() []model.Candle {
	return s.ring.AppendTo(make([]model.Candle, 0, s.ring.Len()))
}

// Evicted returns how many candles have been discarded since the last Reset.
func (s *Series) Evicted() uint64 { return s.ring.Evicted() }

// Reset drops all retained candles.
func (s *Series) Reset() { s.ring.Reset() }
