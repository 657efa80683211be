// Package api provides the HTTP handlers of the signal engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"trading-simv1/internal/backtest"
	"trading-simv1/internal/model"
	"trading-simv1/internal/store/sqlite"
)

// Feed exposes the live channel state kept by the WebSocket hub.
type Feed interface {
	http.Handler
	Latest() map[string]json.RawMessage
	Replay(channel string, fromSeq, toSeq int64) [][]byte
}

// RunStore reads persisted backtest runs.
type RunStore interface {
	ReadRun(ctx context.Context, runID string) (*sqlite.RunRecord, error)
	ReadTrades(ctx context.Context, runID string) ([]model.TradeEvent, error)
	ReadEquity(ctx context.Context, runID string) ([]model.EquityPoint, error)
}

// Deps are the router's collaborators. Nil members disable their routes.
type Deps struct {
	Feed   Feed
	Runs   RunStore
	Health http.Handler
	Log    *zap.Logger
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) *http.ServeMux {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Health != nil {
		mux.Handle("GET /healthz", d.Health)
	}

	if d.Feed != nil {
		mux.Handle("/ws", d.Feed)

		mux.HandleFunc("GET /api/v1/latest", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, log, http.StatusOK, d.Feed.Latest())
		})

		// Gap backfill: /api/v1/missed?channel=trade:BTCUSDT&from=10&to=20
		mux.HandleFunc("GET /api/v1/missed", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			channel := q.Get("channel")
			from, errFrom := strconv.ParseInt(q.Get("from"), 10, 64)
			to, errTo := strconv.ParseInt(q.Get("to"), 10, 64)
			if channel == "" || errFrom != nil || errTo != nil || from > to {
				writeError(w, log, http.StatusBadRequest, "channel, from and to are required")
				return
			}
			envelopes := d.Feed.Replay(channel, from, to)
			out := make([]json.RawMessage, len(envelopes))
			for i, e := range envelopes {
				out[i] = e
			}
			writeJSON(w, log, http.StatusOK, out)
		})
	}

	if d.Runs != nil {
		mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := r.PathValue("id")
			run, err := d.Runs.ReadRun(ctx, id)
			if errors.Is(err, sqlite.ErrRunNotFound) {
				writeError(w, log, http.StatusNotFound, "run not found")
				return
			}
			if err != nil {
				log.Error("read run", zap.String("run_id", id), zap.Error(err))
				writeError(w, log, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, log, http.StatusOK, run)
		})

		mux.HandleFunc("GET /api/v1/runs/{id}/trades", func(w http.ResponseWriter, r *http.Request) {
			trades, err := d.Runs.ReadTrades(r.Context(), r.PathValue("id"))
			if err != nil {
				log.Error("read trades", zap.Error(err))
				writeError(w, log, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, log, http.StatusOK, trades)
		})

		mux.HandleFunc("GET /api/v1/runs/{id}/equity", func(w http.ResponseWriter, r *http.Request) {
			points, err := d.Runs.ReadEquity(r.Context(), r.PathValue("id"))
			if err != nil {
				log.Error("read equity", zap.Error(err))
				writeError(w, log, http.StatusInternalServerError, "internal error")
				return
			}
			dd := backtest.DrawdownOf(points)
			writeJSON(w, log, http.StatusOK, map[string]any{"points": points, "drawdown": dd})
		})
	}

	return mux
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, code int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, code int, msg string) {
	writeJSON(w, log, code, map[string]string{"error": msg})
}
