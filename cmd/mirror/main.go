// hl-mirror — a copy-trading engine that mirrors a Hyperliquid trader's
// fills and orders onto a Bybit-compatible perpetuals venue.
//
// Architecture:
//
//	main.go                  — entry point: loads config, opens the store, runs the supervisor
//	supervisor/supervisor.go — one worker per enabled account, instrument refresh, config hot reload
//	engine/engine.go         — per-account worker: drains pending source events and mirrors them
//	engine/classifier.go     — decides what each source fill means (open, add, close, flip, twap)
//	exchange/client.go       — signed REST client for the venue (orders, positions, executions)
//	exchange/ws.go           — private order feed over WebSocket with auto-reconnect
//	sizing/calculator.go     — fixed/ratio position sizing with minimum-value gating
//	store/store.go           — SQLite event log: source fills/orders and the mirror audit trail
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"hl-mirror/internal/config"
	"hl-mirror/internal/store"
	"hl-mirror/internal/supervisor"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()
	if p := os.Getenv("HLM_CONFIG"); p != "" && !flagPassed("config") {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "error", err, "dir", cfg.Store.DataDir)
		os.Exit(1)
	}
	st, err := store.Open(filepath.Join(cfg.Store.DataDir, "mirror.db"))
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sup := supervisor.New(cfg, st, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enabled := 0
	for _, a := range cfg.Accounts {
		if a.Enabled {
			enabled++
		}
	}
	logger.Info("mirror engine starting",
		"accounts", enabled,
		"poll_interval", cfg.Engine.PollInterval,
		"config", *cfgPath,
	)

	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
