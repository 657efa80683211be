package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-simv1/internal/backtest"
	"trading-simv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	// moneyPlaces is the fixed scale of currency columns.
	moneyPlaces = 8
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
// It stores candles for replay and the outcome of backtest runs.
type Writer struct {
	db  *sql.DB
	log *zap.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig, log *zap.Logger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.Named("sqlite")
	log.Info("opened database", zap.String("path", cfg.DBPath))
	return &Writer{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			timeframe  TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			PRIMARY KEY (symbol, timeframe, ts)
		);

		CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT    PRIMARY KEY,
			symbol      TEXT    NOT NULL,
			timeframe   TEXT    NOT NULL,
			config      TEXT    NOT NULL,
			stats       TEXT    NOT NULL,
			total_pnl   TEXT    NOT NULL,
			final_cap   TEXT    NOT NULL,
			created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS trades (
			run_id      TEXT    NOT NULL,
			seq         INTEGER NOT NULL,
			position_id INTEGER NOT NULL,
			type        TEXT    NOT NULL,
			reason      TEXT    NOT NULL,
			direction   TEXT    NOT NULL,
			price       TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			closed_pct  REAL    NOT NULL,
			size        TEXT    NOT NULL,
			pnl         TEXT    NOT NULL,
			pnl_pct     REAL    NOT NULL,
			commission  TEXT    NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(run_id, position_id);

		CREATE TABLE IF NOT EXISTS equity (
			run_id  TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			equity  TEXT    NOT NULL,
			price   REAL    NOT NULL,
			PRIMARY KEY (run_id, ts)
		);
	`)
	return err
}

// money renders v as fixed-scale decimal text.
func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(moneyPlaces)
}

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteCandles upserts candles for symbol/timeframe in one transaction.
func (w *Writer) WriteCandles(ctx context.Context, symbol, timeframe string, candles []model.Candle) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, c.OpenTime.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert candle %s: %w", c.OpenTime.UTC().Format(time.RFC3339), err)
		}
	}

	return tx.Commit()
}

// Run reads candles from candleCh and inserts them in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, symbol, timeframe string, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// ctx may already be cancelled on the final flush.
		if err := w.WriteCandles(context.Background(), symbol, timeframe, batch); err != nil {
			w.log.Error("batch insert failed", zap.Error(err))
		} else {
			w.log.Debug("committed candles", zap.Int("count", len(batch)), zap.Duration("took", time.Since(start)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// SaveResult persists a run, its trade events and its equity curve. Saving
// the same run id again replaces the previous rows.
func (w *Writer) SaveResult(ctx context.Context, res *backtest.Result) error {
	cfg, err := jsonText(res.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	stats, err := jsonText(res.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM trades WHERE run_id = ?`,
		`DELETE FROM equity WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, res.RunID); err != nil {
			return fmt.Errorf("sqlite clear run: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, symbol, timeframe, config, stats, total_pnl, final_cap)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, res.RunID, res.Symbol, string(res.Config.Timeframe), cfg, stats,
		money(res.Stats.TotalPnL), money(res.Stats.FinalCapital))
	if err != nil {
		return fmt.Errorf("sqlite insert run: %w", err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, seq, position_id, type, reason, direction, price, ts, closed_pct, size, pnl, pnl_pct, commission)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer tradeStmt.Close()

	for i, ev := range res.Trades {
		_, err := tradeStmt.ExecContext(ctx, res.RunID, i, ev.PositionID, string(ev.Type), string(ev.Reason),
			ev.Direction.String(), money(ev.Price), ev.Time.UnixMilli(), ev.ClosedPct,
			money(ev.Size), money(ev.PnL), ev.PnLPct, money(ev.Commission))
		if err != nil {
			return fmt.Errorf("sqlite insert trade %d: %w", i, err)
		}
	}

	eqStmt, err := tx.PrepareContext(ctx, `INSERT INTO equity (run_id, ts, equity, price) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer eqStmt.Close()

	for _, p := range res.Equity {
		if _, err := eqStmt.ExecContext(ctx, res.RunID, p.Time.UnixMilli(), money(p.Equity), p.ReferencePrice); err != nil {
			return fmt.Errorf("sqlite insert equity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	w.log.Info("saved run",
		zap.String("run_id", res.RunID),
		zap.Int("trades", len(res.Trades)),
		zap.Int("equity_points", len(res.Equity)),
	)
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
