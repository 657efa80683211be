// Package strategy holds the strategy parameters and the EMA crossover
// signal generator.
//
// Buy signal: fast EMA crosses above slow EMA, with price above the
// reference (trend EMA or VWAP), MACD histogram not negative and RSI above
// the long threshold.
// Sell signal: the mirror image.
package strategy

import (
	"math"
	"time"

	"go.uber.org/zap"

	"trading-simv1/internal/indicator"
	"trading-simv1/internal/model"
)

// Name identifies signals from this generator.
const Name = "EMA_Crossover"

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Direction returns the position side the action opens.
func (a Action) Direction() model.Direction {
	switch a {
	case ActionBuy:
		return model.Long
	case ActionSell:
		return model.Short
	default:
		return model.Flat
	}
}

// Signal is an accepted entry signal.
type Signal struct {
	StrategyName string    `json:"strategy_name"`
	Action       Action    `json:"action"`
	Time         time.Time `json:"time"`
	Price        float64   `json:"price"` // close of the signalling candle
	Reason       string    `json:"reason"`
}

// Crossover detects fast/slow EMA crosses between consecutive ready
// snapshots and applies the entry filters.
// Not safe for concurrent use.
type Crossover struct {
	cfg Config
	log *zap.Logger

	useVWAP     bool
	maxChange   float64
	checkChange bool

	// Previous ready snapshot's EMAs for crossover detection.
	prevFast float64
	prevSlow float64
	hasPrev  bool
}

// NewCrossover creates a generator for cfg. A nil logger disables logging.
func NewCrossover(cfg Config, log *zap.Logger) *Crossover {
	if log == nil {
		log = zap.NewNop()
	}
	lookback, maxChange := cfg.MaxChange()
	return &Crossover{
		cfg:         cfg,
		log:         log.Named("crossover"),
		useVWAP:     cfg.UsesVWAP(),
		maxChange:   maxChange,
		checkChange: lookback > 0,
	}
}

// Evaluate returns the entry signal for snap, or nil. exposure is the side of
// the currently open position (model.Flat when none): a long needs exposure
// <= 0 and a short needs exposure >= 0, so a same-side position suppresses
// the signal. At most one signal is returned per call.
func (s *Crossover) Evaluate(snap indicator.Snapshot, exposure model.Direction) *Signal {
	if !snap.Ready {
		s.hasPrev = false
		return nil
	}

	fast, slow := snap.FastEMA, snap.SlowEMA
	defer func() {
		s.prevFast = fast
		s.prevSlow = slow
		s.hasPrev = true
	}()

	if !s.hasPrev {
		return nil
	}

	crossUp := s.prevFast <= s.prevSlow && fast > slow
	crossDown := s.prevFast >= s.prevSlow && fast < slow

	switch {
	case crossUp:
		if exposure > model.Flat {
			return nil
		}
		if reason := s.longFiltered(snap); reason != "" {
			s.log.Debug("cross up filtered", zap.String("filter", reason), zap.Time("time", snap.Time))
			return nil
		}
		return &Signal{
			StrategyName: Name,
			Action:       ActionBuy,
			Time:         snap.Time,
			Price:        snap.Close,
			Reason:       "EMA cross up (fast > slow)",
		}
	case crossDown:
		if exposure < model.Flat {
			return nil
		}
		if reason := s.shortFiltered(snap); reason != "" {
			s.log.Debug("cross down filtered", zap.String("filter", reason), zap.Time("time", snap.Time))
			return nil
		}
		return &Signal{
			StrategyName: Name,
			Action:       ActionSell,
			Time:         snap.Time,
			Price:        snap.Close,
			Reason:       "EMA cross down (fast < slow)",
		}
	}
	return nil
}

// Reset forgets the previous EMAs.
func (s *Crossover) Reset() {
	s.prevFast = 0
	s.prevSlow = 0
	s.hasPrev = false
}

func (s *Crossover) reference(snap indicator.Snapshot) float64 {
	if s.useVWAP {
		return snap.VWAP
	}
	return snap.TrendEMA
}

func (s *Crossover) longFiltered(snap indicator.Snapshot) string {
	switch {
	case snap.Close <= s.reference(snap):
		return "reference"
	case snap.MACDHist < 0:
		return "macd"
	case snap.RSI <= s.cfg.RSILong:
		return "rsi"
	case s.changeTooLarge(snap):
		return "price_change"
	}
	return ""
}

func (s *Crossover) shortFiltered(snap indicator.Snapshot) string {
	switch {
	case snap.Close >= s.reference(snap):
		return "reference"
	case snap.MACDHist > 0:
		return "macd"
	case snap.RSI >= s.cfg.RSIShort:
		return "rsi"
	case s.changeTooLarge(snap):
		return "price_change"
	}
	return ""
}

func (s *Crossover) changeTooLarge(snap indicator.Snapshot) bool {
	return s.checkChange && math.Abs(snap.PriceChangePct) > s.maxChange
}
