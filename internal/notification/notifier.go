// Package notification raises alerts for trading events.
package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"trading-simv1/internal/backtest"
	"trading-simv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to a zap logger at the matching level.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	fields := []zap.Field{zap.String("title", alert.Title), zap.String("level", string(alert.Level))}
	switch alert.Level {
	case AlertCritical:
		n.log.Error(alert.Message, fields...)
	case AlertWarning:
		n.log.Warn(alert.Message, fields...)
	default:
		n.log.Info(alert.Message, fields...)
	}
	return nil
}

// Alerter turns engine steps into alerts: trade events at INFO, stop-outs
// at WARNING and ledger consistency warnings at CRITICAL. It satisfies
// backtest.Observer.
type Alerter struct {
	ctx      context.Context
	notifier Notifier
	log      *zap.Logger
}

// NewAlerter creates an Alerter sending through n. ctx bounds each Send.
func NewAlerter(ctx context.Context, n Notifier, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{ctx: ctx, notifier: n, log: log}
}

// OnStep sends one alert per trade event and one for discarded events.
func (a *Alerter) OnStep(s backtest.Step) {
	for _, ev := range s.Events {
		a.send(eventAlert(s.Symbol, ev))
	}
	if s.Warnings > 0 {
		a.send(Alert{
			Level:   AlertCritical,
			Title:   "ledger consistency",
			Message: fmt.Sprintf("%s: %d trade event(s) discarded at %s", s.Symbol, s.Warnings, s.Candle.OpenTime.UTC().Format("2006-01-02 15:04")),
		})
	}
}

func (a *Alerter) send(alert Alert) {
	if err := a.notifier.Send(a.ctx, alert); err != nil {
		a.log.Warn("alert delivery failed", zap.String("title", alert.Title), zap.Error(err))
	}
}

func eventAlert(symbol string, ev model.TradeEvent) Alert {
	if ev.Type == model.EventEntry {
		return Alert{
			Level:   AlertInfo,
			Title:   fmt.Sprintf("%s %s opened", symbol, ev.Direction),
			Message: fmt.Sprintf("position %d entry @ %.4f size %.2f", ev.PositionID, ev.Price, ev.Size),
		}
	}
	level := AlertInfo
	if ev.Reason == model.ReasonStopLoss {
		level = AlertWarning
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s %s", symbol, ev.Direction, ev.Reason),
		Message: fmt.Sprintf("position %d closed %.0f%% @ %.4f pnl %.2f", ev.PositionID, ev.ClosedPct, ev.Price, ev.PnL),
	}
}
