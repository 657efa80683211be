// Package export writes run results and candle history as Parquet files.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"trading-simv1/internal/backtest"
	"trading-simv1/internal/model"
)

// Compile-time interface checks.
var _ model.CandleSource = (*ParquetStore)(nil)
var _ model.CandleWriter = (*ParquetStore)(nil)

// ParquetStore lays files out under Dir as
//
//	<Dir>/candles/<SYMBOL>/<timeframe>.parquet
//	<Dir>/runs/<SYMBOL>/<run_id>/trades.parquet
//	<Dir>/runs/<SYMBOL>/<run_id>/equity.parquet
type ParquetStore struct {
	Dir string
}

// NewParquetStore creates a store rooted at dir.
func NewParquetStore(dir string) *ParquetStore {
	return &ParquetStore{Dir: dir}
}

// CandleRecord is the Parquet schema for candles.
type CandleRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// TradeRecord is the Parquet schema for trade events.
type TradeRecord struct {
	RunID      string  `parquet:"run_id"`
	Symbol     string  `parquet:"symbol"`
	PositionID int64   `parquet:"position_id"`
	Type       string  `parquet:"type"`
	Reason     string  `parquet:"reason"`
	Direction  string  `parquet:"direction"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"`
	Price      float64 `parquet:"price"`
	ClosedPct  float64 `parquet:"closed_pct"`
	Size       float64 `parquet:"size"`
	PnL        float64 `parquet:"pnl"`
	PnLPct     float64 `parquet:"pnl_pct"`
	Commission float64 `parquet:"commission"`
}

// EquityRecord is the Parquet schema for equity curve points.
type EquityRecord struct {
	RunID          string  `parquet:"run_id"`
	Timestamp      int64   `parquet:"timestamp,timestamp(millisecond)"`
	Equity         float64 `parquet:"equity"`
	ReferencePrice float64 `parquet:"reference_price"`
}

func (s *ParquetStore) candlePath(symbol, timeframe string) string {
	return filepath.Join(s.Dir, "candles", symbol, timeframe+".parquet")
}

func (s *ParquetStore) runDir(symbol, runID string) string {
	return filepath.Join(s.Dir, "runs", symbol, runID)
}

// WriteCandles merges candles into the symbol/timeframe file, new records
// replacing existing ones with the same timestamp.
func (s *ParquetStore) WriteCandles(_ context.Context, symbol, timeframe string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	path := s.candlePath(symbol, timeframe)
	existing, _ := readParquetFile[CandleRecord](path)

	seen := make(map[int64]CandleRecord, len(existing)+len(candles))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, c := range candles {
		seen[c.OpenTime.UnixMilli()] = CandleRecord{
			Timestamp: c.OpenTime.UnixMilli(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}
	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing candles for %s/%s: %w", symbol, timeframe, err)
	}
	return nil
}

// ReadCandles returns candles with from <= OpenTime < to, ascending. A zero
// to means no upper bound. A missing file yields no candles.
func (s *ParquetStore) ReadCandles(_ context.Context, symbol, timeframe string, from, to time.Time) ([]model.Candle, error) {
	path := s.candlePath(symbol, timeframe)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	records, err := readParquetFile[CandleRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading candles for %s/%s: %w", symbol, timeframe, err)
	}

	var out []model.Candle
	for _, r := range records {
		ts := time.UnixMilli(r.Timestamp).UTC()
		if ts.Before(from) || (!to.IsZero() && !ts.Before(to)) {
			continue
		}
		out = append(out, model.Candle{OpenTime: ts, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume})
	}
	return out, nil
}

// WriteResult writes the trade events and equity curve of a run.
func (s *ParquetStore) WriteResult(_ context.Context, res *backtest.Result) error {
	dir := s.runDir(res.Symbol, res.RunID)

	trades := make([]TradeRecord, len(res.Trades))
	for i, ev := range res.Trades {
		trades[i] = TradeRecord{
			RunID:      res.RunID,
			Symbol:     res.Symbol,
			PositionID: ev.PositionID,
			Type:       string(ev.Type),
			Reason:     string(ev.Reason),
			Direction:  ev.Direction.String(),
			Timestamp:  ev.Time.UnixMilli(),
			Price:      ev.Price,
			ClosedPct:  ev.ClosedPct,
			Size:       ev.Size,
			PnL:        ev.PnL,
			PnLPct:     ev.PnLPct,
			Commission: ev.Commission,
		}
	}
	if err := writeParquetFile(filepath.Join(dir, "trades.parquet"), trades); err != nil {
		return fmt.Errorf("writing trades for run %s: %w", res.RunID, err)
	}

	equity := make([]EquityRecord, len(res.Equity))
	for i, p := range res.Equity {
		equity[i] = EquityRecord{
			RunID:          res.RunID,
			Timestamp:      p.Time.UnixMilli(),
			Equity:         p.Equity,
			ReferencePrice: p.ReferencePrice,
		}
	}
	if err := writeParquetFile(filepath.Join(dir, "equity.parquet"), equity); err != nil {
		return fmt.Errorf("writing equity for run %s: %w", res.RunID, err)
	}
	return nil
}

// ReadTrades reads the trade records of a run.
func (s *ParquetStore) ReadTrades(symbol, runID string) ([]TradeRecord, error) {
	return readParquetFile[TradeRecord](filepath.Join(s.runDir(symbol, runID), "trades.parquet"))
}

// ReadEquity reads the equity records of a run.
func (s *ParquetStore) ReadEquity(symbol, runID string) ([]EquityRecord, error) {
	return readParquetFile[EquityRecord](filepath.Join(s.runDir(symbol, runID), "equity.parquet"))
}

// Close is a no-op; files are closed after each call.
func (s *ParquetStore) Close() error { return nil }

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}
