package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Direction is the side of a position. Flat means no exposure.
type Direction int8

const (
	Short Direction = -1
	Flat  Direction = 0
	Long  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Opposite returns the other side. Flat stays flat.
func (d Direction) Opposite() Direction { return -d }

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "long":
		*d = Long
	case "short":
		*d = Short
	case "flat", "":
		*d = Flat
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// EventType classifies a TradeEvent.
type EventType string

const (
	EventEntry   EventType = "entry"
	EventPartial EventType = "partial_exit"
	EventExit    EventType = "exit"
)

// ExitReason records what closed (part of) a position.
type ExitReason string

const (
	ReasonSignal    ExitReason = "signal" // entries only
	ReasonTP1       ExitReason = "take_profit_1"
	ReasonTP2       ExitReason = "take_profit_2"
	ReasonTP3       ExitReason = "take_profit_3"
	ReasonStopLoss  ExitReason = "stop_loss"
	ReasonBreakeven ExitReason = "breakeven_stop"
	ReasonReversal  ExitReason = "reversal"
	ReasonEndOfData ExitReason = "end_of_data"
)

// TradeEvent is an immutable record of an entry or a (partial) exit.
// Size is in capital units; ClosedPct is the share of the original position
// closed by this event. PnL is net of the exit commission.
type TradeEvent struct {
	PositionID int64      `json:"position_id"`
	Type       EventType  `json:"type"`
	Reason     ExitReason `json:"reason"`
	Direction  Direction  `json:"direction"`
	Price      float64    `json:"price"`
	Time       time.Time  `json:"time"`
	ClosedPct  float64    `json:"closed_pct"`
	Size       float64    `json:"size"`
	PnL        float64    `json:"pnl"`
	PnLPct     float64    `json:"pnl_pct"`
	Commission float64    `json:"commission"`
}

// IsExit reports whether the event reduces the position.
func (e *TradeEvent) IsExit() bool {
	return e.Type == EventPartial || e.Type == EventExit
}

// JSON returns the JSON-encoded event.
func (e *TradeEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// EquityPoint is one sample of account value.
type EquityPoint struct {
	Time           time.Time `json:"time"`
	Equity         float64   `json:"equity"`
	ReferencePrice float64   `json:"reference_price"`
}
