package backtest

import (
	"go.uber.org/zap"

	"trading-simv1/internal/model"
)

// Ledger applies trade events to capital and keeps the trade journal.
// Commission is charged on both sides as size*rate.
type Ledger struct {
	initial float64
	rate    float64
	log     *zap.Logger

	capital  float64
	open     map[int64]*openEntry
	trades   []model.TradeEvent
	warnings int

	grossProfit float64
	grossLoss   float64
	wins        int
	losses      int
}

type openEntry struct {
	direction  model.Direction
	price      float64
	size       float64
	commission float64
	closedPct  float64
	exitPnL    float64
}

// NewLedger creates a ledger starting at capital.
func NewLedger(capital, commissionRate float64, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{initial: capital, rate: commissionRate, log: log}
	l.Reset()
	return l
}

// Capital returns the current cash balance.
func (l *Ledger) Capital() float64 { return l.capital }

// Apply books ev and returns it with PnL and commission filled in.
// An exit that does not match an open position, or that would close more
// than what is open, is discarded: ok is false and a consistency warning
// is counted.
func (l *Ledger) Apply(ev model.TradeEvent) (booked model.TradeEvent, ok bool) {
	if ev.Type == model.EventEntry {
		if _, dup := l.open[ev.PositionID]; dup {
			return l.warn(ev, "entry for a position that is already open")
		}
		ev.Commission = ev.Size * l.rate
		ev.PnL = 0
		ev.PnLPct = 0
		l.capital -= ev.Commission
		l.open[ev.PositionID] = &openEntry{
			direction:  ev.Direction,
			price:      ev.Price,
			size:       ev.Size,
			commission: ev.Commission,
		}
		l.trades = append(l.trades, ev)
		return ev, true
	}

	pos, found := l.open[ev.PositionID]
	if !found {
		return l.warn(ev, "exit for unknown position")
	}
	if ev.ClosedPct <= 0 || pos.closedPct+ev.ClosedPct > 100+1e-9 {
		return l.warn(ev, "exit exceeds open size")
	}

	move := (ev.Price - pos.price) / pos.price * float64(pos.direction)
	size := pos.size * ev.ClosedPct / 100
	ev.Direction = pos.direction
	ev.Size = size
	ev.Commission = size * l.rate
	ev.PnL = move*size - ev.Commission
	ev.PnLPct = move * 100

	l.capital += ev.PnL
	pos.closedPct += ev.ClosedPct
	pos.exitPnL += ev.PnL
	l.trades = append(l.trades, ev)

	if ev.Type == model.EventExit {
		net := pos.exitPnL - pos.commission
		if net > 0 {
			l.wins++
			l.grossProfit += net
		} else {
			l.losses++
			l.grossLoss -= net
		}
		delete(l.open, ev.PositionID)
	}
	return ev, true
}

func (l *Ledger) warn(ev model.TradeEvent, msg string) (model.TradeEvent, bool) {
	l.warnings++
	l.log.Warn("ledger consistency warning: "+msg,
		zap.Int64("position_id", ev.PositionID),
		zap.String("type", string(ev.Type)),
		zap.String("reason", string(ev.Reason)),
		zap.Float64("closed_pct", ev.ClosedPct),
		zap.Time("time", ev.Time),
	)
	return ev, false
}

// Trades returns a copy of the journal.
func (l *Ledger) Trades() []model.TradeEvent {
	out := make([]model.TradeEvent, len(l.trades))
	copy(out, l.trades)
	return out
}

// Warnings returns the number of discarded events.
func (l *Ledger) Warnings() int { return l.warnings }

// Reset restores the initial capital and clears the journal.
func (l *Ledger) Reset() {
	l.capital = l.initial
	l.open = make(map[int64]*openEntry)
	l.trades = nil
	l.warnings = 0
	l.grossProfit = 0
	l.grossLoss = 0
	l.wins = 0
	l.losses = 0
}
