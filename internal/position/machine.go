package position

import (
	"time"

	"trading-simv1/internal/model"
)

// Machine holds zero or one open position and advances it candle by candle.
//
// Exit checks run in a fixed order on each candle's high/low range:
// TP1, TP2, stop-loss, TP3. Stages may cascade within one candle, a stop
// moved to breakeven by TP1 is tested against the same candle, and the stop
// wins when both the stop and TP3 are inside the range. Exits fill at the
// level price.
//
// Not safe for concurrent use.
type Machine struct {
	tp1ClosePct float64
	tp2ClosePct float64

	pos    *Position
	lastID int64
}

// NewMachine creates a flat machine closing tp1ClosePct and tp2ClosePct
// percent of the original size at TP1 and TP2.
func NewMachine(tp1ClosePct, tp2ClosePct float64) *Machine {
	return &Machine{tp1ClosePct: tp1ClosePct, tp2ClosePct: tp2ClosePct}
}

// Position returns a copy of the open position.
func (m *Machine) Position() (Position, bool) {
	if m.pos == nil {
		return Position{}, false
	}
	return *m.pos, true
}

// Exposure returns the side of the open position, model.Flat when none.
func (m *Machine) Exposure() model.Direction {
	if m.pos == nil {
		return model.Flat
	}
	return m.pos.Direction
}

// Open enters a new position and returns its entry event.
func (m *Machine) Open(e Entry) (model.TradeEvent, error) {
	if m.pos != nil {
		return model.TradeEvent{}, ErrAlreadyOpen
	}
	m.lastID++
	lv := ComputeLevels(e.Direction, e.Price, e.Percents)
	m.pos = &Position{
		ID:          m.lastID,
		Direction:   e.Direction,
		EntryPrice:  e.Price,
		EntryTime:   e.Time,
		SizeAtEntry: e.Size,
		StopPrice:   lv.Stop,
		Levels:      lv,
		Regime:      e.Regime,
		Multiplier:  e.Multiplier,
	}
	return model.TradeEvent{
		PositionID: m.lastID,
		Type:       model.EventEntry,
		Reason:     model.ReasonSignal,
		Direction:  e.Direction,
		Price:      e.Price,
		Time:       e.Time,
		Size:       e.Size,
	}, nil
}

// OnCandle checks the open position against c and returns the resulting
// exit events in order. A flat machine returns nil.
func (m *Machine) OnCandle(c model.Candle) []model.TradeEvent {
	p := m.pos
	if p == nil {
		return nil
	}
	var events []model.TradeEvent

	if p.Stage == StageOpen && m.touched(c, p.Levels.TP1) {
		p.Stage = StageTP1
		p.TP1Reached = true
		if ev, ok := m.partial(p.Levels.TP1, c.OpenTime, m.tp1ClosePct, model.ReasonTP1); ok {
			events = append(events, ev)
		}
		p.StopPrice = p.EntryPrice
	}
	if p.Stage == StageTP1 && m.touched(c, p.Levels.TP2) {
		p.Stage = StageTP2
		p.TP2Reached = true
		if ev, ok := m.partial(p.Levels.TP2, c.OpenTime, m.tp2ClosePct, model.ReasonTP2); ok {
			events = append(events, ev)
		}
	}
	if m.stopped(c) {
		reason := model.ReasonStopLoss
		if p.TP1Reached {
			reason = model.ReasonBreakeven
		}
		return append(events, m.close(p.StopPrice, c.OpenTime, reason))
	}
	if m.touched(c, p.Levels.TP3) {
		return append(events, m.close(p.Levels.TP3, c.OpenTime, model.ReasonTP3))
	}
	return events
}

// Close exits the remainder at price. It reports false when flat.
func (m *Machine) Close(price float64, t time.Time, reason model.ExitReason) (model.TradeEvent, bool) {
	if m.pos == nil {
		return model.TradeEvent{}, false
	}
	return m.close(price, t, reason), true
}

// Reset drops the open position and restarts position ids.
func (m *Machine) Reset() {
	m.pos = nil
	m.lastID = 0
}

// touched reports whether c reached a profit level of the open position.
func (m *Machine) touched(c model.Candle, level float64) bool {
	if m.pos.Direction == model.Long {
		return c.High >= level
	}
	return c.Low <= level
}

func (m *Machine) stopped(c model.Candle) bool {
	if m.pos.Direction == model.Long {
		return c.Low <= m.pos.StopPrice
	}
	return c.High >= m.pos.StopPrice
}

func (m *Machine) partial(price float64, t time.Time, pct float64, reason model.ExitReason) (model.TradeEvent, bool) {
	p := m.pos
	pct = min(pct, p.RemainingPct())
	if pct <= 0 {
		return model.TradeEvent{}, false
	}
	p.ClosedPct += pct
	return m.exitEvent(model.EventPartial, reason, price, t, pct), true
}

func (m *Machine) close(price float64, t time.Time, reason model.ExitReason) model.TradeEvent {
	pct := m.pos.RemainingPct()
	ev := m.exitEvent(model.EventExit, reason, price, t, pct)
	m.pos = nil
	return ev
}

func (m *Machine) exitEvent(typ model.EventType, reason model.ExitReason, price float64, t time.Time, pct float64) model.TradeEvent {
	p := m.pos
	return model.TradeEvent{
		PositionID: p.ID,
		Type:       typ,
		Reason:     reason,
		Direction:  p.Direction,
		Price:      price,
		Time:       t,
		ClosedPct:  pct,
		Size:       p.SizeAtEntry * pct / 100,
	}
}
