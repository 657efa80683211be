package backtest

import (
	"fmt"
	"math"
	"strconv"
)

// ProfitFactor is gross profit over gross loss. It is +Inf when there are
// profits and no losses, and 0 when both are zero. Infinity is encoded in
// JSON as the string "Infinity".
type ProfitFactor float64

// NewProfitFactor applies the sentinel rules.
func NewProfitFactor(grossProfit, grossLoss float64) ProfitFactor {
	switch {
	case grossLoss > 0:
		return ProfitFactor(grossProfit / grossLoss)
	case grossProfit > 0:
		return ProfitFactor(math.Inf(1))
	default:
		return 0
	}
}

// IsInf reports whether the factor is infinite.
func (p ProfitFactor) IsInf() bool { return math.IsInf(float64(p), 1) }

func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	if p.IsInf() {
		return []byte(`"Infinity"`), nil
	}
	return strconv.AppendFloat(nil, float64(p), 'g', -1, 64), nil
}

func (p *ProfitFactor) UnmarshalJSON(b []byte) error {
	if string(b) == `"Infinity"` {
		*p = ProfitFactor(math.Inf(1))
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("profit factor: %w", err)
	}
	*p = ProfitFactor(f)
	return nil
}

func (p ProfitFactor) String() string {
	if p.IsInf() {
		return "inf"
	}
	return strconv.FormatFloat(float64(p), 'f', 2, 64)
}

// Stats summarises one run. Trade counts are per fully closed position.
type Stats struct {
	Candles int `json:"candles"`
	Signals int `json:"signals"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // percent

	GrossProfit  float64      `json:"gross_profit"`
	GrossLoss    float64      `json:"gross_loss"`
	ProfitFactor ProfitFactor `json:"profit_factor"`

	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`
	FinalEquity    float64 `json:"final_equity"`
	RealizedPnL    float64 `json:"realized_pnl"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalPnLPct    float64 `json:"total_pnl_pct"`

	PeakEquity     float64 `json:"peak_equity"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`

	ConsistencyWarnings int `json:"consistency_warnings"`
}

func (l *Ledger) stats(finalEquity float64, dd Drawdown) Stats {
	s := Stats{
		WinningTrades:       l.wins,
		LosingTrades:        l.losses,
		TotalTrades:         l.wins + l.losses,
		GrossProfit:         l.grossProfit,
		GrossLoss:           l.grossLoss,
		ProfitFactor:        NewProfitFactor(l.grossProfit, l.grossLoss),
		InitialCapital:      l.initial,
		FinalCapital:        l.capital,
		FinalEquity:         finalEquity,
		RealizedPnL:         l.capital - l.initial,
		TotalPnL:            finalEquity - l.initial,
		PeakEquity:          dd.Peak,
		MaxDrawdown:         dd.MaxAbs,
		MaxDrawdownPct:      dd.MaxPct,
		ConsistencyWarnings: l.warnings,
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if l.initial > 0 {
		s.TotalPnLPct = s.TotalPnL / l.initial * 100
	}
	return s
}
