// Package sigengine runs the trading engine against a live candle stream and
// fans every step out to metrics, WebSocket clients, Redis and alerts.
package sigengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trading-simv1/config"
	"trading-simv1/internal/backtest"
	"trading-simv1/internal/export"
	"trading-simv1/internal/logger"
	"trading-simv1/internal/marketdata/replay"
	"trading-simv1/internal/metrics"
	"trading-simv1/internal/model"
	"trading-simv1/internal/notification"
	redisstore "trading-simv1/internal/store/redis"
	sqlitestore "trading-simv1/internal/store/sqlite"
	"trading-simv1/internal/stream"
)

const (
	candleBuffer     = 5000
	livenessInterval = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Service is the top-level orchestrator for the signal engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg       *config.Config
	log       *zap.Logger
	symbol    string
	timeframe string

	engine    *backtest.Engine
	candles   model.CandleStream
	sqlReader *sqlitestore.Reader
	sqlWriter *sqlitestore.Writer
	parquet   *export.ParquetStore
	rdb       *goredis.Client
	publisher *redisstore.Publisher

	registry *prometheus.Registry
	prom     *metrics.Metrics
	health   *metrics.HealthStatus
	hub      *stream.Hub
	servers  []server

	// live gates the observers; warm-up candles are not broadcast.
	live   atomic.Bool
	result *backtest.Result
}

// New connects to SQLite and, when configured, Redis, and builds the engine
// with its observers. ctx bounds the Redis connection and publisher writes.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Service{
		cfg:       cfg,
		log:       log.Named("sigengine"),
		symbol:    cfg.Run.Symbol,
		timeframe: string(cfg.Strategy.Timeframe),
		registry:  prometheus.NewRegistry(),
		hub:       stream.NewHub(log),
	}
	svc.prom = metrics.NewMetrics(svc.registry)
	svc.health = metrics.NewHealthStatus(svc.symbol, svc.timeframe)

	// ---- Open SQLite ----
	var err error
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Storage.SQLitePath}, log)
	if err != nil {
		return nil, err
	}
	svc.sqlReader, err = sqlitestore.NewReader(cfg.Storage.SQLitePath, log)
	if err != nil {
		svc.sqlWriter.Close()
		return nil, err
	}
	svc.health.SetSQLiteOK(true)

	if cfg.Storage.ParquetDir != "" {
		svc.parquet = export.NewParquetStore(cfg.Storage.ParquetDir)
	}

	// ---- Candle source: Redis stream, or replay from storage ----
	if cfg.Redis.Addr != "" {
		if err := svc.connectRedis(ctx); err != nil {
			svc.closeStores()
			return nil, err
		}
	} else {
		from, to, err := cfg.Run.Range()
		if err != nil {
			svc.closeStores()
			return nil, err
		}
		var source model.CandleSource = svc.sqlReader
		if cfg.Run.Source == "parquet" && svc.parquet != nil {
			source = svc.parquet
		}
		svc.candles = replay.New(source, replay.Config{From: from, To: to, Speed: cfg.Run.Speed}, log)
	}

	// ---- Engine and observers ----
	alerter := notification.NewAlerter(ctx, notification.NewLogNotifier(log), log)
	observers := []backtest.Observer{svc.prom, svc.health, svc.hub, alerter}
	if svc.publisher != nil {
		observers = append(observers, svc.publisher)
	}
	svc.engine, err = backtest.New(cfg.Strategy,
		backtest.WithLogger(log),
		backtest.WithSymbol(svc.symbol),
		backtest.WithObserver(backtest.ObserverFunc(func(s backtest.Step) {
			if !svc.live.Load() {
				return
			}
			for _, o := range observers {
				o.OnStep(s)
			}
		})),
	)
	if err != nil {
		svc.closeStores()
		return nil, err
	}

	svc.hub.OnDrop = svc.prom.WSDrops.Inc
	svc.hub.OnClients = func(n int) { svc.prom.WSClients.Set(float64(n)) }
	return svc, nil
}

// connectRedis dials Redis and builds the candle consumer and the publisher.
func (svc *Service) connectRedis(ctx context.Context) error {
	rc := svc.cfg.Redis
	rdb, err := redisstore.Dial(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return err
	}
	svc.rdb = rdb
	svc.health.SetRedisEnabled(true)
	svc.health.CheckRedis(ctx, rdb)

	name, _ := os.Hostname()
	consumer := redisstore.NewCandleConsumer(rdb, redisstore.ConsumerConfig{
		StreamPattern: rc.CandleStream,
		Group:         "sigengine",
		Name:          name,
		Block:         time.Duration(rc.ConsumerBlock) * time.Millisecond,
	}, svc.log)
	consumer.OnReject = svc.prom.CandlesRejected.Inc
	svc.candles = consumer

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange(func(_, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
	})
	svc.publisher = redisstore.NewPublisher(ctx, rdb, cb, redisstore.PublisherConfig{
		Timeframe:    svc.timeframe,
		MaxStreamLen: rc.MaxStreamLen,
	}, svc.log)
	svc.publisher.OnError = func() { svc.prom.PublishErrors.WithLabelValues("redis").Inc() }
	return nil
}

// Run starts all subsystems and blocks until ctx is cancelled or the candle
// source ends. The session result is saved on the way out.
func (svc *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	svc.log.Info("starting signal engine",
		zap.String("symbol", svc.symbol),
		zap.String("timeframe", svc.timeframe),
		zap.Bool("redis", svc.rdb != nil),
	)

	// ---- Warm up from stored history ----
	if svc.rdb != nil {
		svc.warmUp(ctx)
	}
	svc.live.Store(true)

	svc.health.StartLivenessChecker(ctx, svc.rdb, svc.sqlReader.DB(), livenessInterval)
	svc.startHTTP()

	candleCh := make(chan model.Candle, candleBuffer)
	var persistCh chan model.Candle
	g, gctx := errgroup.WithContext(ctx)

	// Live candles are stored for later replay; replayed ones already are.
	if svc.rdb != nil {
		persistCh = make(chan model.Candle, candleBuffer)
		g.Go(func() error {
			svc.sqlWriter.Run(context.Background(), svc.symbol, svc.timeframe, persistCh)
			return nil
		})
	}

	g.Go(func() error {
		defer close(candleCh)
		err := svc.candles.Consume(gctx, svc.symbol, svc.timeframe, candleCh)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		svc.processLoop(gctx, candleCh, persistCh)
		if persistCh != nil {
			close(persistCh)
		}
		return nil
	})

	err := g.Wait()
	cancel()
	svc.shutdown()
	if err != nil {
		return fmt.Errorf("candle stream: %w", err)
	}
	return nil
}

// warmUp feeds the most recent stored candles through the engine with the
// observers muted, so indicators are ready when live candles arrive.
func (svc *Service) warmUp(ctx context.Context) {
	history, err := svc.sqlReader.ReadLastCandles(ctx, svc.symbol, svc.timeframe, svc.cfg.Strategy.HistoryLen())
	if err != nil {
		svc.log.Warn("warm-up read failed", zap.Error(err))
		return
	}
	warmed := 0
	for _, c := range history {
		if _, err := svc.engine.Update(c); err == nil {
			warmed++
		}
	}
	svc.log.Info("engine warmed up", zap.Int("candles", warmed))
}

// processLoop drives the engine until candleCh is closed.
func (svc *Service) processLoop(ctx context.Context, candleCh <-chan model.Candle, persistCh chan<- model.Candle) {
	for c := range candleCh {
		if _, err := svc.engine.Update(c); err != nil {
			svc.prom.CandlesRejected.Inc()
			tctx := logger.WithTraceID(ctx, logger.GenerateTraceID(svc.symbol, c.OpenTime))
			logger.FromContext(tctx, svc.log).Warn("candle rejected", zap.Error(err))
			continue
		}
		if persistCh != nil {
			persistCh <- c
		}
	}
}

// shutdown saves the session result and closes connections.
func (svc *Service) shutdown() {
	svc.live.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	svc.stopHTTP(ctx)
	svc.hub.Close()

	res := svc.engine.Result()
	svc.result = res
	if res.Stats.Candles > 0 {
		if err := svc.sqlWriter.SaveResult(ctx, res); err != nil {
			svc.log.Error("save session failed", zap.Error(err))
		}
		if svc.parquet != nil {
			if err := svc.parquet.WriteResult(ctx, res); err != nil {
				svc.log.Error("parquet export failed", zap.Error(err))
			}
		}
		if svc.publisher != nil {
			if err := svc.publisher.PublishSummary(ctx, res); err != nil {
				svc.log.Warn("publish summary failed", zap.Error(err))
			}
		}
	}
	if pos, ok := svc.engine.Position(); ok {
		svc.log.Info("position left open", zap.Int64("position_id", pos.ID), zap.Stringer("direction", pos.Direction))
	}

	svc.closeStores()
	if svc.rdb != nil {
		svc.rdb.Close()
	}
	svc.log.Info("shutdown complete",
		zap.String("run_id", res.RunID),
		zap.Int("candles", res.Stats.Candles),
		zap.Float64("total_pnl", res.Stats.TotalPnL),
	)
}

func (svc *Service) closeStores() {
	svc.sqlReader.Close()
	svc.sqlWriter.Close()
}

// Hub returns the WebSocket hub.
func (svc *Service) Hub() *stream.Hub { return svc.hub }

// Registry returns the service's metrics registry.
func (svc *Service) Registry() *prometheus.Registry { return svc.registry }

// Result returns the session result saved at shutdown, nil before that.
func (svc *Service) Result() *backtest.Result { return svc.result }
