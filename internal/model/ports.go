package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the engine from concrete storage and transport
// implementations (SQLite, Redis). Each implementation satisfies one or more.

// CandleSource reads historical candles in ascending OpenTime order.
type CandleSource interface {
	// ReadCandles returns candles for symbol/timeframe with from <= OpenTime < to.
	// A zero to means no upper bound.
	ReadCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// CandleWriter persists candles for later replay.
type CandleWriter interface {
	WriteCandles(ctx context.Context, symbol, timeframe string, candles []Candle) error

	// Close releases underlying resources.
	Close() error
}

// CandleStream delivers live candles. Blocks until ctx is cancelled.
type CandleStream interface {
	Consume(ctx context.Context, symbol, timeframe string, out chan<- Candle) error
}

// TradePublisher publishes trade events to downstream consumers.
type TradePublisher interface {
	PublishTrade(ctx context.Context, symbol string, ev TradeEvent) error
}
