// cmd/backtest runs the trading simulation over stored candle history for
// one or more timeframes, persists every run and prints the summaries.
//
// Usage:
//
//	go run ./cmd/backtest --config=config.yaml [--out=summary.json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"trading-simv1/config"
	"trading-simv1/internal/backtest"
	"trading-simv1/internal/export"
	"trading-simv1/internal/logger"
	"trading-simv1/internal/marketdata/resample"
	"trading-simv1/internal/metrics"
	"trading-simv1/internal/model"
	"trading-simv1/internal/notification"
	redisstore "trading-simv1/internal/store/redis"
	sqlitestore "trading-simv1/internal/store/sqlite"
	"trading-simv1/internal/strategy"
)

type summary struct {
	Name    string          `json:"name"`
	RunID   string          `json:"run_id,omitempty"`
	Elapsed string          `json:"elapsed"`
	Stats   *backtest.Stats `json:"stats,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (defaults when empty)")
	outPath := flag.String("out", "", "Write the summary JSON here instead of stdout")
	alerts := flag.Bool("alerts", false, "Log an alert for every trade event")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.Init("backtest", cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log, *outPath, *alerts); err != nil {
		log.Fatal("backtest failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, outPath string, alerts bool) error {
	from, to, err := cfg.Run.Range()
	if err != nil {
		return err
	}

	// ---- Storage ----
	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Storage.SQLitePath}, log)
	if err != nil {
		return err
	}
	defer writer.Close()

	var parquet *export.ParquetStore
	if cfg.Storage.ParquetDir != "" {
		parquet = export.NewParquetStore(cfg.Storage.ParquetDir)
	}

	// Candles read from one store are mirrored into the other, so either
	// can serve later runs and the live replay.
	var source model.CandleSource
	var mirror model.CandleWriter
	if cfg.Run.Source == "parquet" {
		source, mirror = parquet, writer
	} else {
		reader, err := sqlitestore.NewReader(cfg.Storage.SQLitePath, log)
		if err != nil {
			return err
		}
		source = reader
		if parquet != nil {
			mirror = parquet
		}
	}
	defer source.Close()

	// ---- Optional Redis summary stream ----
	var publisher *redisstore.Publisher
	if cfg.Redis.Addr != "" {
		rdb, err := redisstore.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, summaries not published", zap.Error(err))
		} else {
			defer rdb.Close()
			publisher = redisstore.NewPublisher(ctx, rdb, redisstore.NewCircuitBreaker(3, 5*time.Second),
				redisstore.PublisherConfig{Timeframe: string(cfg.Strategy.Timeframe), MaxStreamLen: cfg.Redis.MaxStreamLen}, log)
		}
	}

	// ---- Metrics ----
	registry := prometheus.NewRegistry()
	prom := metrics.NewMetrics(registry)
	if cfg.Server.MetricsAddr != "" {
		health := metrics.NewHealthStatus(cfg.Run.Symbol, string(cfg.Strategy.Timeframe))
		health.SetSQLiteOK(true)
		srv := metrics.NewServer(cfg.Server.MetricsAddr, health, registry, log)
		srv.Start()
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
			defer stop()
			srv.Stop(stopCtx)
		}()
	}

	// ---- Jobs, one per timeframe ----
	var jobs []backtest.Job
	var baseCandles []model.Candle
	for i, tf := range timeframes(cfg) {
		jobCfg := cfg.Strategy
		jobCfg.Timeframe = tf
		if err := jobCfg.Validate(); err != nil {
			return err
		}
		candles, err := source.ReadCandles(ctx, cfg.Run.Symbol, string(tf), from, to)
		if err != nil {
			return fmt.Errorf("read %s candles: %w", tf, err)
		}
		if i == 0 {
			baseCandles = candles
		} else if len(candles) == 0 && len(baseCandles) > 0 {
			// Nothing stored at this timeframe: derive it from the base one.
			candles, err = resample.Candles(baseCandles, cfg.Strategy.Timeframe.Duration(), tf.Duration())
			if err != nil {
				return err
			}
			log.Info("resampled candles", zap.String("from", string(cfg.Strategy.Timeframe)), zap.String("to", string(tf)))
		}
		log.Info("loaded candles", zap.String("timeframe", string(tf)), zap.Int("count", len(candles)))
		if mirror != nil && len(candles) > 0 {
			if err := mirror.WriteCandles(ctx, cfg.Run.Symbol, string(tf), candles); err != nil {
				log.Warn("mirror candles failed", zap.String("timeframe", string(tf)), zap.Error(err))
			}
		}

		opts := []backtest.Option{
			backtest.WithLogger(log),
			backtest.WithSymbol(cfg.Run.Symbol),
			backtest.WithObserver(prom),
		}
		if alerts {
			opts = append(opts, backtest.WithObserver(notification.NewAlerter(ctx, notification.NewLogNotifier(log), log)))
		}
		jobs = append(jobs, backtest.Job{
			Name:    cfg.Run.Symbol + "/" + string(tf),
			Config:  jobCfg,
			Candles: candles,
			Options: opts,
		})
	}

	// ---- Run and persist ----
	var out []summary
	for _, jr := range backtest.RunMany(ctx, jobs, cfg.Run.Workers) {
		prom.ObserveRun(jr.Elapsed, jr.Err)
		s := summary{Name: jr.Name, Elapsed: jr.Elapsed.String()}
		if jr.Err != nil {
			log.Error("run failed", zap.String("job", jr.Name), zap.Error(jr.Err))
			s.Error = jr.Err.Error()
			out = append(out, s)
			continue
		}
		res := jr.Result
		s.RunID, s.Stats = res.RunID, &res.Stats
		out = append(out, s)

		if err := writer.SaveResult(ctx, res); err != nil {
			return err
		}
		if parquet != nil {
			if err := parquet.WriteResult(ctx, res); err != nil {
				return err
			}
		}
		if publisher != nil {
			if err := publisher.PublishSummary(ctx, res); err != nil {
				log.Warn("publish summary failed", zap.String("run_id", res.RunID), zap.Error(err))
			}
		}
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if outPath == "" {
		fmt.Println(string(b))
		return nil
	}
	return os.WriteFile(outPath, b, 0o644)
}

// timeframes returns the strategy timeframe followed by the extra ones,
// without duplicates.
func timeframes(cfg *config.Config) []strategy.Timeframe {
	seen := map[strategy.Timeframe]bool{cfg.Strategy.Timeframe: true}
	tfs := []strategy.Timeframe{cfg.Strategy.Timeframe}
	for _, tf := range cfg.Run.Timeframes {
		if !seen[tf] {
			seen[tf] = true
			tfs = append(tfs, tf)
		}
	}
	return tfs
}
