// Package position implements the staged lifecycle of a single open
// position: entry, two partial take-profits with a breakeven stop migration,
// and the final exit on stop-loss or the third take-profit.
package position

import (
	"errors"
	"time"

	"trading-simv1/internal/model"
	"trading-simv1/internal/regime"
)

// ErrAlreadyOpen is returned by Open while a position is open.
var ErrAlreadyOpen = errors.New("position already open")

// Stage is the number of partial take-profits taken so far.
type Stage int8

const (
	StageOpen Stage = iota // no take-profit reached
	StageTP1               // TP1 reached, stop at breakeven
	StageTP2               // TP2 reached
)

// Levels are absolute price levels derived from the entry price.
type Levels struct {
	Stop float64 `json:"stop"`
	TP1  float64 `json:"tp1"`
	TP2  float64 `json:"tp2"`
	TP3  float64 `json:"tp3"`
}

// ComputeLevels converts percent distances into prices for a position
// entered at entry on side dir.
func ComputeLevels(dir model.Direction, entry float64, pct regime.Percents) Levels {
	d := float64(dir)
	return Levels{
		Stop: entry * (1 - d*pct.StopLoss/100),
		TP1:  entry * (1 + d*pct.TP1/100),
		TP2:  entry * (1 + d*pct.TP2/100),
		TP3:  entry * (1 + d*pct.TP3/100),
	}
}

// Position is the open position. ClosedPct is the share of SizeAtEntry
// already exited.
type Position struct {
	ID          int64           `json:"id"`
	Direction   model.Direction `json:"direction"`
	EntryPrice  float64         `json:"entry_price"`
	EntryTime   time.Time       `json:"entry_time"`
	SizeAtEntry float64         `json:"size_at_entry"`
	Stage       Stage           `json:"stage"`
	TP1Reached  bool            `json:"tp1_reached"`
	TP2Reached  bool            `json:"tp2_reached"`
	StopPrice   float64         `json:"stop_price"`
	Levels      Levels          `json:"levels"`
	ClosedPct   float64         `json:"closed_pct"`
	Regime      regime.Regime   `json:"regime"`
	Multiplier  float64         `json:"multiplier"`
}

// RemainingPct returns the share of the original size still open.
func (p *Position) RemainingPct() float64 { return 100 - p.ClosedPct }

// RemainingSize returns the open size in capital units.
func (p *Position) RemainingSize() float64 { return p.SizeAtEntry * p.RemainingPct() / 100 }

// Unrealized returns the gross PnL of the open remainder marked at price.
func (p *Position) Unrealized(price float64) float64 {
	return (price - p.EntryPrice) / p.EntryPrice * float64(p.Direction) * p.RemainingSize()
}

// Entry describes a position to open.
type Entry struct {
	Direction  model.Direction
	Price      float64
	Time       time.Time
	Size       float64         // capital units
	Percents   regime.Percents // regime-adjusted distances
	Regime     regime.Regime
	Multiplier float64
}
