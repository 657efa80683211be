package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-simv1/internal/backtest"
	"trading-simv1/internal/indicator"
	"trading-simv1/internal/model"
	"trading-simv1/internal/strategy"
)

func TestMetrics_OnStep(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.OnStep(backtest.Step{
		Signal: &strategy.Signal{Action: strategy.ActionBuy},
		Events: []model.TradeEvent{
			{Type: model.EventExit, Reason: model.ReasonStopLoss},
			{Type: model.EventEntry, Reason: model.ReasonSignal},
		},
		Equity:   10250,
		Exposure: model.Long,
		Warnings: 2,
		Latency:  50 * time.Microsecond,
	})
	m.OnStep(backtest.Step{Equity: 10100})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CandlesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradeEventsTotal.WithLabelValues("exit", "stop_loss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsistencyWarnings))
	assert.Equal(t, 10100.0, testutil.ToFloat64(m.Equity))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Exposure))

	m.ObserveRun(time.Second, nil)
	m.ObserveRun(time.Second, errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("error")))
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus("BTCUSDT", "1h")
	h.OnStep(backtest.Step{
		Candle:   model.Candle{OpenTime: time.Now().Add(-time.Hour)},
		Snapshot: indicator.Snapshot{Ready: true},
		Latency:  2 * time.Millisecond,
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "sqlite not checked yet")

	h.SetSQLiteOK(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "BTCUSDT", body["symbol"])
	assert.Equal(t, true, body["engine_ready"])
	assert.Equal(t, 2.0, body["step_p99_ms"])

	h.SetRedisEnabled(true) // enabled but never connected
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
