package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trading-simv1/internal/backtest"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	CandlesTotal        prometheus.Counter
	CandlesRejected     prometheus.Counter
	SignalsTotal        *prometheus.CounterVec // labels: action
	TradeEventsTotal    *prometheus.CounterVec // labels: type, reason
	ConsistencyWarnings prometheus.Counter
	StepDur             prometheus.Histogram
	Equity              prometheus.Gauge
	Exposure            prometheus.Gauge // -1 short, 0 flat, 1 long

	// Bulk runs
	RunsTotal *prometheus.CounterVec // labels: status=ok|error
	RunDur    prometheus.Histogram

	// Transport
	PublishErrors            *prometheus.CounterVec // labels: sink
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	WSClients                prometheus.Gauge
	WSDrops                  prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_candles_total",
			Help: "Total candles processed by the engine",
		}),
		CandlesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_candles_rejected_total",
			Help: "Candles rejected by validation",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_signals_total",
			Help: "Entry signals emitted (by action)",
		}, []string{"action"}),
		TradeEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_trade_events_total",
			Help: "Trade events booked (by type and reason)",
		}, []string{"type", "reason"}),
		ConsistencyWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_consistency_warnings_total",
			Help: "Trade events discarded by the ledger",
		}),
		StepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_step_duration_seconds",
			Help:    "Engine processing latency per candle",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_equity",
			Help: "Current equity (capital plus unrealized PnL)",
		}),
		Exposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_exposure",
			Help: "Open position side (-1 short, 0 flat, 1 long)",
		}),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_runs_total",
			Help: "Completed bulk runs (by status)",
		}, []string{"status"}),
		RunDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall time of a bulk run",
			Buckets: prometheus.DefBuckets,
		}),

		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_publish_errors_total",
			Help: "Failed publishes (by sink)",
		}, []string{"sink"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_ws_drops_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.CandlesRejected,
		m.SignalsTotal,
		m.TradeEventsTotal,
		m.ConsistencyWarnings,
		m.StepDur,
		m.Equity,
		m.Exposure,
		m.RunsTotal,
		m.RunDur,
		m.PublishErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.WSClients,
		m.WSDrops,
	)

	return m
}

// OnStep records one engine step. Metrics satisfies backtest.Observer.
func (m *Metrics) OnStep(s backtest.Step) {
	m.CandlesTotal.Inc()
	m.StepDur.Observe(s.Latency.Seconds())
	if s.Signal != nil {
		m.SignalsTotal.WithLabelValues(string(s.Signal.Action)).Inc()
	}
	for _, ev := range s.Events {
		m.TradeEventsTotal.WithLabelValues(string(ev.Type), string(ev.Reason)).Inc()
	}
	if s.Warnings > 0 {
		m.ConsistencyWarnings.Add(float64(s.Warnings))
	}
	m.Equity.Set(s.Equity)
	m.Exposure.Set(float64(s.Exposure))
}

// ObserveRun records a bulk run outcome.
func (m *Metrics) ObserveRun(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDur.Observe(d.Seconds())
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	LastCandleTime time.Time `json:"last_candle_time"`
	EngineReady    bool      `json:"engine_ready"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	steps *LatencyTracker
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(symbol, timeframe string) *HealthStatus {
	return &HealthStatus{
		Symbol:    symbol,
		Timeframe: timeframe,
		StartedAt: time.Now(),
		steps:     NewLatencyTracker(10000),
	}
}

// OnStep records candle progress. HealthStatus satisfies backtest.Observer.
func (h *HealthStatus) OnStep(s backtest.Step) {
	h.mu.Lock()
	h.LastCandleTime = s.Candle.OpenTime
	h.EngineReady = s.Snapshot.Ready
	h.mu.Unlock()
	h.steps.Record(float64(s.Latency.Microseconds()) / 1000.0)
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a ping and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	redisDown := h.RedisEnabled && !h.RedisConnected
	if redisDown || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Second).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Symbol          string  `json:"symbol"`
		Timeframe       string  `json:"timeframe"`
		LastCandleTime  string  `json:"last_candle_time"`
		CandleAge       string  `json:"candle_age"`
		EngineReady     bool    `json:"engine_ready"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
		StepP50Ms       float64 `json:"step_p50_ms"`
		StepP95Ms       float64 `json:"step_p95_ms"`
		StepP99Ms       float64 `json:"step_p99_ms"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Symbol:          h.Symbol,
		Timeframe:       h.Timeframe,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		EngineReady:     h.EngineReady,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	status.StepP50Ms, status.StepP95Ms, status.StepP99Ms = h.steps.Percentiles()

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *zap.Logger
}

// NewServer creates a metrics and health server. gatherer defaults to
// prometheus.DefaultGatherer when nil.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  log.Named("metrics"),
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
