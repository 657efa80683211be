// cmd/sigengine runs the trading engine on live candles from a Redis stream,
// or replays stored candles when Redis is not configured, and serves the
// WebSocket feed, the REST API and Prometheus metrics.
//
// Usage:
//
//	go run ./cmd/sigengine --config=config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"trading-simv1/config"
	"trading-simv1/internal/logger"
	"trading-simv1/internal/sigengine"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (defaults when empty)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigengine: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init("sigengine", cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigengine: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := sigengine.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init failed", zap.Error(err))
	}
	if err := svc.Run(ctx); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}
