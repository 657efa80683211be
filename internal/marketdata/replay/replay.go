// Package replay emits stored candles at a configurable speed so live-mode
// consumers can be driven from history.
package replay

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"trading-simv1/internal/model"
)

// maxGap caps a single simulated wait.
const maxGap = 5 * time.Second

// Config selects the replayed range and pace.
type Config struct {
	From time.Time
	To   time.Time // zero means no upper bound
	// Speed is the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
	Speed float64
}

// Replayer reads candles from a CandleSource and replays them in time order.
// Satisfies model.CandleStream.
type Replayer struct {
	source model.CandleSource
	cfg    Config
	log    *zap.Logger
	after  func(time.Duration) <-chan time.Time
}

// New creates a Replayer backed by source.
func New(source model.CandleSource, cfg Config, log *zap.Logger) *Replayer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replayer{source: source, cfg: cfg, log: log.Named("replay"), after: time.After}
}

// Consume replays candles for symbol/timeframe into out and returns nil once
// all are sent.
func (r *Replayer) Consume(ctx context.Context, symbol, timeframe string, out chan<- model.Candle) error {
	candles, err := r.source.ReadCandles(ctx, symbol, timeframe, r.cfg.From, r.cfg.To)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		r.log.Warn("no candles found", zap.String("symbol", symbol), zap.String("timeframe", timeframe))
		return nil
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })

	r.log.Info("replay started", zap.Int("candles", len(candles)), zap.Float64("speed", r.cfg.Speed))

	var prev time.Time
	emitted := 0
	for _, c := range candles {
		if r.cfg.Speed > 0 && !prev.IsZero() {
			if gap := c.OpenTime.Sub(prev); gap > 0 {
				wait := time.Duration(float64(gap) / r.cfg.Speed)
				if wait > maxGap {
					wait = maxGap
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-r.after(wait):
				}
			}
		}
		prev = c.OpenTime

		select {
		case out <- c:
			emitted++
		case <-ctx.Done():
			r.log.Info("replay cancelled", zap.Int("emitted", emitted))
			return ctx.Err()
		}
	}

	r.log.Info("replay completed", zap.Int("emitted", emitted))
	return nil
}
