package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"trading-simv1/internal/backtest"
	"trading-simv1/internal/model"
)

type recorder struct{ alerts []Alert }

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func TestAlerter_OnStep(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(context.Background(), rec, nil)

	a.OnStep(backtest.Step{
		Symbol: "BTCUSDT",
		Candle: model.Candle{OpenTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		Events: []model.TradeEvent{
			{PositionID: 1, Type: model.EventExit, Reason: model.ReasonStopLoss, Direction: model.Long, ClosedPct: 100, Price: 97, PnL: -31},
			{PositionID: 2, Type: model.EventEntry, Reason: model.ReasonSignal, Direction: model.Short, Price: 97, Size: 969},
		},
		Warnings: 1,
	})

	require.Len(t, rec.alerts, 3)
	assert.Equal(t, AlertWarning, rec.alerts[0].Level)
	assert.Equal(t, "BTCUSDT long stop_loss", rec.alerts[0].Title)
	assert.Equal(t, AlertInfo, rec.alerts[1].Level)
	assert.Equal(t, "BTCUSDT short opened", rec.alerts[1].Title)
	assert.Equal(t, AlertCritical, rec.alerts[2].Level)
	assert.Contains(t, rec.alerts[2].Message, "1 trade event(s) discarded")

	a.OnStep(backtest.Step{Symbol: "BTCUSDT"})
	assert.Len(t, rec.alerts, 3, "quiet steps raise nothing")
}

func TestLogNotifier_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertInfo, Title: "a", Message: "info"}))
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertWarning, Title: "b", Message: "warn"}))
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertCritical, Title: "c", Message: "crit"}))

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "c", entries[2].ContextMap()["title"])
}
