package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-simv1/internal/backtest"
	"trading-simv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Reader provides read-only access to SQLite for replay and result lookup.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string, log *zap.Logger) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if log != nil {
		log.Named("sqlite-reader").Info("opened database", zap.String("path", dbPath))
	}
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadCandles returns candles for symbol/timeframe with from <= OpenTime < to,
// ordered by time ascending for correct replay order. A zero to means no
// upper bound.
func (r *Reader) ReadCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]model.Candle, error) {
	upper := int64(1<<63 - 1)
	if !to.IsZero() {
		upper = to.Unix()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, timeframe, from.Unix(), upper)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.OpenTime = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadLastCandles returns the most recent n candles in ascending order. It is
// used to warm the engine before live processing.
func (r *Reader) ReadLastCandles(ctx context.Context, symbol, timeframe string, n int) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM candles
			WHERE symbol = ? AND timeframe = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, timeframe, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query last candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.OpenTime = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// RunRecord is a row from the runs table.
type RunRecord struct {
	RunID     string         `json:"run_id"`
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	Stats     backtest.Stats `json:"stats"`
	TotalPnL  string         `json:"total_pnl"`
	CreatedAt time.Time      `json:"created_at"`
}

// ReadRun loads the summary of one run.
func (r *Reader) ReadRun(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	var stats string
	var created int64
	err := r.db.QueryRowContext(ctx, `
		SELECT run_id, symbol, timeframe, stats, total_pnl, created_at
		FROM runs WHERE run_id = ?
	`, runID).Scan(&rec.RunID, &rec.Symbol, &rec.Timeframe, &stats, &rec.TotalPnL, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read run: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &rec.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	return &rec, nil
}

// ReadTrades returns the trade events of a run in booking order.
func (r *Reader) ReadTrades(ctx context.Context, runID string) ([]model.TradeEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT position_id, type, reason, direction, price, ts, closed_pct, size, pnl, pnl_pct, commission
		FROM trades WHERE run_id = ? ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var events []model.TradeEvent
	for rows.Next() {
		var ev model.TradeEvent
		var typ, reason, dir string
		var price, size, pnl, commission decimal.Decimal
		var ts int64
		if err := rows.Scan(&ev.PositionID, &typ, &reason, &dir, &price, &ts, &ev.ClosedPct,
			&size, &pnl, &ev.PnLPct, &commission); err != nil {
			return nil, fmt.Errorf("sqlite scan trades: %w", err)
		}
		if err := ev.Direction.UnmarshalText([]byte(dir)); err != nil {
			return nil, err
		}
		ev.Type = model.EventType(typ)
		ev.Reason = model.ExitReason(reason)
		ev.Time = time.UnixMilli(ts).UTC()
		ev.Price = price.InexactFloat64()
		ev.Size = size.InexactFloat64()
		ev.PnL = pnl.InexactFloat64()
		ev.Commission = commission.InexactFloat64()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ReadEquity returns the equity curve of a run.
func (r *Reader) ReadEquity(ctx context.Context, runID string) ([]model.EquityPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, equity, price FROM equity WHERE run_id = ? ORDER BY ts ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query equity: %w", err)
	}
	defer rows.Close()

	var points []model.EquityPoint
	for rows.Next() {
		var p model.EquityPoint
		var ts int64
		var equity decimal.Decimal
		if err := rows.Scan(&ts, &equity, &p.ReferencePrice); err != nil {
			return nil, fmt.Errorf("sqlite scan equity: %w", err)
		}
		p.Time = time.UnixMilli(ts).UTC()
		p.Equity = equity.InexactFloat64()
		points = append(points, p)
	}
	return points, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
