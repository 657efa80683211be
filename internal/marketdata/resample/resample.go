// Package resample provides an incremental timeframe resampler.
// It consumes closed candles of a shorter interval and maintains one
// forming candle for the target interval, updated in O(1) per candle. When
// a candle arrives in a new bucket, the previous bucket is finalized and
// returned.
package resample

import (
	"fmt"
	"time"

	"trading-simv1/internal/model"
)

// Builder resamples candles into one larger timeframe. Not safe for
// concurrent use; run it from a single goroutine.
type Builder struct {
	tf      time.Duration
	bucket  time.Time // start of the forming bucket
	candle  model.Candle
	started bool

	// OnStale is called when a candle older than the forming bucket is
	// rejected (optional).
	OnStale func(c model.Candle)
}

// New creates a builder for buckets of tf, aligned to the Unix epoch.
func New(tf time.Duration) *Builder {
	return &Builder{tf: tf}
}

// Add merges c into the forming bucket. When c opens a new bucket the
// previous one is returned with ok=true.
func (b *Builder) Add(c model.Candle) (done model.Candle, ok bool) {
	bucket := c.OpenTime.UTC().Truncate(b.tf)

	if b.started && bucket.Before(b.bucket) {
		if b.OnStale != nil {
			b.OnStale(c)
		}
		return model.Candle{}, false
	}

	if b.started && bucket.After(b.bucket) {
		done, ok = b.candle, true
		b.started = false
	}

	if !b.started {
		b.bucket = bucket
		b.candle = model.Candle{
			OpenTime: bucket,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		}
		b.started = true
		return done, ok
	}

	// Same bucket: merge OHLCV.
	fc := &b.candle
	if c.High > fc.High {
		fc.High = c.High
	}
	if c.Low < fc.Low {
		fc.Low = c.Low
	}
	fc.Close = c.Close
	fc.Volume += c.Volume
	return done, ok
}

// Flush finalizes and returns the forming candle, if any.
func (b *Builder) Flush() (model.Candle, bool) {
	if !b.started {
		return model.Candle{}, false
	}
	b.started = false
	return b.candle, true
}

// Candles resamples an ordered slice from interval from to interval to.
// The last bucket is included even when it is incomplete.
func Candles(candles []model.Candle, from, to time.Duration) ([]model.Candle, error) {
	if from <= 0 || to < from || to%from != 0 {
		return nil, fmt.Errorf("resample: %s is not a multiple of %s", to, from)
	}
	b := New(to)
	out := make([]model.Candle, 0, len(candles)/int(to/from)+1)
	for _, c := range candles {
		if done, ok := b.Add(c); ok {
			out = append(out, done)
		}
	}
	if last, ok := b.Flush(); ok {
		out = append(out, last)
	}
	return out, nil
}
