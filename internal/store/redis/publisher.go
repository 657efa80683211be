package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"trading-simv1/internal/backtest"
	"trading-simv1/internal/indicator"
	"trading-simv1/internal/model"
	"trading-simv1/internal/strategy"
)

const (
	defaultMaxStreamLen = 10000
	defaultMaxBuffer    = 10000
	defaultLatestTTL    = 30 * time.Minute

	// SummaryStream receives one entry per completed backtest run.
	SummaryStream = "backtest:runs"
)

// Commander is the subset of *goredis.Client the publisher uses.
type Commander interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// Dial connects to Redis and pings the server.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// StreamKey expands a "{symbol}"/"{tf}" pattern.
func StreamKey(pattern, symbol, timeframe string) string {
	return strings.NewReplacer("{symbol}", symbol, "{tf}", timeframe).Replace(pattern)
}

// PublisherConfig configures the Publisher.
type PublisherConfig struct {
	Timeframe    string
	MaxStreamLen int64 // approximate MAXLEN per stream
	MaxBuffer    int   // writes kept while the circuit is open
}

type writeKind int

const (
	kindStream writeKind = iota // XADD
	kindLatest                  // SET with TTL + PUBLISH
)

// pendingWrite is a write buffered while the circuit was open.
type pendingWrite struct {
	kind writeKind
	key  string
	data string
}

// Publisher writes signals, trade events, indicator snapshots and run
// summaries to Redis streams. Writes go through a circuit breaker; while it
// is open they are buffered locally (oldest dropped first) and replayed when
// it closes.
type Publisher struct {
	client Commander
	cb     *CircuitBreaker
	ctx    context.Context
	log    *zap.Logger
	tf     string
	maxLen int64

	mu      sync.Mutex
	pending []pendingWrite
	maxBuf  int

	// Callbacks (optional, for metrics)
	OnBuffer func()          // a write was buffered
	OnFlush  func(count int) // buffered writes were replayed
	OnError  func()          // a write failed
}

// NewPublisher creates a Publisher. ctx bounds writes made from OnStep.
func NewPublisher(ctx context.Context, client Commander, cb *CircuitBreaker, cfg PublisherConfig, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxStreamLen <= 0 {
		cfg.MaxStreamLen = defaultMaxStreamLen
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = defaultMaxBuffer
	}
	p := &Publisher{
		client:  client,
		cb:      cb,
		ctx:     ctx,
		log:     log.Named("redis-publisher"),
		tf:      cfg.Timeframe,
		maxLen:  cfg.MaxStreamLen,
		pending: make([]pendingWrite, 0, 256),
		maxBuf:  cfg.MaxBuffer,
	}
	cb.OnStateChange(func(from, to State) {
		p.log.Warn("circuit breaker state change", zap.Stringer("from", from), zap.Stringer("to", to))
		if to == StateClosed {
			go p.Flush(p.ctx)
		}
	})
	return p
}

type signalMessage struct {
	Symbol string           `json:"symbol"`
	Signal *strategy.Signal `json:"signal"`
}

type tradeMessage struct {
	Symbol string           `json:"symbol"`
	Event  model.TradeEvent `json:"event"`
}

type snapshotMessage struct {
	Symbol   string             `json:"symbol"`
	Time     time.Time          `json:"time"`
	Close    float64            `json:"close"`
	Snapshot indicator.Snapshot `json:"snapshot"`
	Equity   float64            `json:"equity"`
	Exposure model.Direction    `json:"exposure"`
}

type summaryMessage struct {
	RunID  string         `json:"run_id"`
	Symbol string         `json:"symbol"`
	Stats  backtest.Stats `json:"stats"`
}

// OnStep publishes the step's signal, trade events and latest snapshot.
// Publisher satisfies backtest.Observer.
func (p *Publisher) OnStep(s backtest.Step) {
	if s.Signal != nil {
		p.write(p.ctx, kindStream, StreamKey("signal:{symbol}:{tf}", s.Symbol, p.tf), signalMessage{Symbol: s.Symbol, Signal: s.Signal})
	}
	for _, ev := range s.Events {
		p.write(p.ctx, kindStream, StreamKey("trade:{symbol}:{tf}", s.Symbol, p.tf), tradeMessage{Symbol: s.Symbol, Event: ev})
	}
	p.write(p.ctx, kindLatest, StreamKey("snapshot:latest:{symbol}:{tf}", s.Symbol, p.tf), snapshotMessage{
		Symbol:   s.Symbol,
		Time:     s.Candle.OpenTime,
		Close:    s.Candle.Close,
		Snapshot: s.Snapshot,
		Equity:   s.Equity,
		Exposure: s.Exposure,
	})
}

// PublishTrade publishes one trade event. Satisfies model.TradePublisher.
func (p *Publisher) PublishTrade(ctx context.Context, symbol string, ev model.TradeEvent) error {
	return p.write(ctx, kindStream, StreamKey("trade:{symbol}:{tf}", symbol, p.tf), tradeMessage{Symbol: symbol, Event: ev})
}

// PublishSummary appends a run summary to SummaryStream.
func (p *Publisher) PublishSummary(ctx context.Context, res *backtest.Result) error {
	return p.write(ctx, kindStream, SummaryStream, summaryMessage{RunID: res.RunID, Symbol: res.Symbol, Stats: res.Stats})
}

// write sends v through the breaker. A write rejected by an open breaker is
// buffered and reported as success.
func (p *Publisher) write(ctx context.Context, kind writeKind, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	pw := pendingWrite{kind: kind, key: key, data: string(b)}

	err = p.cb.Execute(func() error { return p.send(ctx, pw) })
	if errors.Is(err, ErrCircuitOpen) {
		p.buffer(pw)
		return nil
	}
	if err != nil {
		p.log.Error("publish failed", zap.String("key", key), zap.Error(err))
		if p.OnError != nil {
			p.OnError()
		}
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, pw pendingWrite) error {
	switch pw.kind {
	case kindLatest:
		if err := p.client.Set(ctx, pw.key, pw.data, defaultLatestTTL).Err(); err != nil {
			return err
		}
		return p.client.Publish(ctx, "pub:"+pw.key, pw.data).Err()
	default:
		return p.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: pw.key,
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": pw.data},
		}).Err()
	}
}

func (p *Publisher) buffer(pw pendingWrite) {
	p.mu.Lock()
	if len(p.pending) >= p.maxBuf {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, pw)
	p.mu.Unlock()

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// Flush replays buffered writes directly against the client.
func (p *Publisher) Flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.pending
	p.pending = make([]pendingWrite, 0, 256)
	p.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		if err := p.send(ctx, pw); err != nil {
			p.log.Error("flush write failed", zap.String("key", pw.key), zap.Error(err))
			if p.OnError != nil {
				p.OnError()
			}
			continue
		}
		flushed++
	}

	p.log.Info("flushed buffered writes", zap.Int("count", flushed), zap.Int("buffered", len(toFlush)))
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
