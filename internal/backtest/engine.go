// Package backtest drives the indicator, regime, signal and position
// components candle by candle and keeps the capital ledger, the equity curve
// and the run statistics.
//
// One Engine serves one logical run at a time and is not safe for concurrent
// use. Independent runs use independent engines (see RunMany).
package backtest

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"trading-simv1/internal/indicator"
	"trading-simv1/internal/model"
	"trading-simv1/internal/position"
	"trading-simv1/internal/regime"
	"trading-simv1/internal/series"
	"trading-simv1/internal/strategy"
)

// Step is the outcome of one candle.
type Step struct {
	Symbol   string             `json:"symbol,omitempty"`
	Candle   model.Candle       `json:"candle"`
	Snapshot indicator.Snapshot `json:"snapshot"`
	Signal   *strategy.Signal   `json:"signal,omitempty"`
	Events   []model.TradeEvent `json:"events,omitempty"`
	Equity   float64            `json:"equity"`
	Exposure model.Direction    `json:"exposure"`           // after this candle
	Warnings int                `json:"warnings,omitempty"` // discarded events on this candle
	Latency  time.Duration      `json:"-"`
}

// Observer receives every completed step. Observers run synchronously on
// the engine goroutine.
type Observer interface {
	OnStep(s Step)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Step)

func (f ObserverFunc) OnStep(s Step) { f(s) }

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithSymbol labels steps and results.
func WithSymbol(symbol string) Option {
	return func(e *Engine) { e.symbol = symbol }
}

// WithObserver adds an observer notified after each step.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// Engine is the per-candle trading simulation.
type Engine struct {
	cfg       strategy.Config
	symbol    string
	log       *zap.Logger
	observers []Observer

	classifier regime.Classifier
	percents   regime.Percents

	series  *series.Series
	ind     *indicator.Engine
	signals *strategy.Crossover
	pos     *position.Machine
	ledger  *Ledger
	curve   Curve
	hasher  *runHasher

	candles     int
	signalCount int
	last        model.Candle
}

// New creates an engine for cfg.
func New(cfg strategy.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		log:        zap.NewNop(),
		classifier: cfg.Classifier(),
		percents:   cfg.BasePercents(),
		hasher:     newRunHasher(),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.Named("backtest")
	if e.symbol != "" {
		e.log = e.log.With(zap.String("symbol", e.symbol))
	}

	e.series = series.New(cfg.HistoryLen())
	e.ind = indicator.NewEngine(cfg.IndicatorParams())
	e.signals = strategy.NewCrossover(cfg, e.log)
	e.pos = position.NewMachine(cfg.TP1ClosePct, cfg.TP2ClosePct)
	e.ledger = NewLedger(cfg.InitialCapital, cfg.CommissionRate, e.log)
	e.hasher.reset(cfg, e.symbol)
	return e, nil
}

// Config returns the engine's strategy config.
func (e *Engine) Config() strategy.Config { return e.cfg }

// Position returns the open position, if any.
func (e *Engine) Position() (position.Position, bool) { return e.pos.Position() }

// Update processes one candle. A candle that fails validation is rejected
// with a *model.ValidationError and leaves the engine unchanged.
func (e *Engine) Update(c model.Candle) (Step, error) {
	start := time.Now()
	if err := e.series.Append(c); err != nil {
		return Step{}, model.WithIndex(err, e.candles)
	}
	e.candles++
	e.last = c
	e.hasher.candle(c)

	snap := e.ind.Compute(e.series)
	snap.Regime, snap.Multiplier = regime.Normal, regime.NormalMultiplier
	if snap.Ready {
		snap.Regime, snap.Multiplier = e.classifier.Classify(snap.ATRRelative)
	}

	step := Step{Symbol: e.symbol, Candle: c, Snapshot: snap}
	before := e.ledger.Warnings()

	for _, ev := range e.pos.OnCandle(c) {
		e.book(&step, ev)
	}

	if sig := e.signals.Evaluate(snap, e.pos.Exposure()); sig != nil {
		e.signalCount++
		step.Signal = sig
		dir := sig.Action.Direction()
		if e.pos.Exposure() == dir.Opposite() {
			if ev, ok := e.pos.Close(c.Close, c.OpenTime, model.ReasonReversal); ok {
				e.book(&step, ev)
			}
		}
		ev, err := e.pos.Open(position.Entry{
			Direction:  dir,
			Price:      c.Close,
			Time:       c.OpenTime,
			Size:       e.ledger.Capital() * e.cfg.PositionFraction,
			Percents:   e.percents.Scale(snap.Multiplier),
			Regime:     snap.Regime,
			Multiplier: snap.Multiplier,
		})
		if err != nil {
			// Exposure was checked above; an open position here means the
			// machine and the signal generator disagree.
			e.log.Error("entry rejected", zap.Error(err), zap.Time("time", c.OpenTime))
		} else {
			e.book(&step, ev)
		}
	}

	step.Equity = e.markEquity(c.OpenTime, c.Close)
	step.Exposure = e.pos.Exposure()
	step.Warnings = e.ledger.Warnings() - before
	step.Latency = time.Since(start)
	e.notify(step)
	return step, nil
}

// book applies ev to the ledger and records the booked event on step.
// Partial exits also add an equity point at the exit price.
func (e *Engine) book(step *Step, ev model.TradeEvent) {
	booked, ok := e.ledger.Apply(ev)
	if !ok {
		return
	}
	step.Events = append(step.Events, booked)
	e.log.Debug("trade event",
		zap.Int64("position_id", booked.PositionID),
		zap.String("type", string(booked.Type)),
		zap.String("reason", string(booked.Reason)),
		zap.Float64("price", booked.Price),
		zap.Float64("pnl", booked.PnL),
	)
	if booked.Type == model.EventPartial {
		e.markEquity(booked.Time, booked.Price)
	}
}

func (e *Engine) markEquity(t time.Time, price float64) float64 {
	equity := e.ledger.Capital()
	if p, ok := e.pos.Position(); ok {
		equity += p.Unrealized(price)
	}
	e.curve.Add(model.EquityPoint{Time: t, Equity: equity, ReferencePrice: price})
	return equity
}

func (e *Engine) notify(s Step) {
	for _, o := range e.observers {
		o.OnStep(s)
	}
}

// Finish closes any open remainder at the last close (reason end_of_data)
// and returns the booked events.
func (e *Engine) Finish() []model.TradeEvent {
	ev, ok := e.pos.Close(e.last.Close, e.last.OpenTime, model.ReasonEndOfData)
	if !ok {
		return nil
	}
	var step Step
	e.book(&step, ev)
	e.markEquity(e.last.OpenTime, e.last.Close)
	return step.Events
}

// Result returns the run outcome so far. It does not close an open position.
func (e *Engine) Result() *Result {
	dd := e.curve.Drawdown()
	equity := e.ledger.Capital()
	if last, ok := e.curve.Last(); ok {
		equity = last.Equity
	}
	stats := e.ledger.stats(equity, dd)
	stats.Candles = e.candles
	stats.Signals = e.signalCount
	return &Result{
		RunID:    e.hasher.id(),
		Symbol:   e.symbol,
		Config:   e.cfg,
		Trades:   e.ledger.Trades(),
		Equity:   e.curve.Points(),
		Drawdown: dd,
		Stats:    stats,
	}
}

// Run resets the engine, processes candles in order, closes the remainder
// and returns the result. It fails fast on the first invalid candle.
func (e *Engine) Run(candles []model.Candle) (*Result, error) {
	e.Reset()
	for _, c := range candles {
		if _, err := e.Update(c); err != nil {
			return nil, fmt.Errorf("backtest run: %w", err)
		}
	}
	e.Finish()
	res := e.Result()
	e.log.Info("run complete",
		zap.String("run_id", res.RunID),
		zap.Int("candles", res.Stats.Candles),
		zap.Int("trades", res.Stats.TotalTrades),
		zap.Float64("total_pnl", res.Stats.TotalPnL),
		zap.Float64("max_drawdown_pct", res.Stats.MaxDrawdownPct),
		zap.Int("consistency_warnings", res.Stats.ConsistencyWarnings),
	)
	return res, nil
}

// Reset returns the engine to its freshly constructed state.
func (e *Engine) Reset() {
	e.series.Reset()
	e.signals.Reset()
	e.pos.Reset()
	e.ledger.Reset()
	e.curve.Reset()
	e.hasher.reset(e.cfg, e.symbol)
	e.candles = 0
	e.signalCount = 0
	e.last = model.Candle{}
}
