// Liquidity bot: keeps a shaped ladder of resting offers on a set of
// binary-outcome markets, sized by tier budgets and pulled back as exposure
// approaches the operator's maximum acceptable loss.
//
// Architecture:
//
//	main.go              entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	app/app.go           builds exchange client, book feed, stores and the engine
//	engine/              bot state, preview/deploy/withdraw, operator edits, redeploy schedule
//	planner/             pure plan computation: budget chain, per-market orders, auto-match
//	shape/               price-level weight curves and their generators
//	tier/                tier budgets and per-market weights
//	risk/                exposure-driven pullback schedule
//	market/              resting-order cache and market scanner
//	exchange/            REST client (HMAC auth, rate limits) and WebSocket book feed
//	store/               shape library (JSON files) and state/activity (SQLite)
//	api/                 dashboard REST routes and event stream
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"liquidity-mm/internal/api"
	"liquidity-mm/internal/app"
	"liquidity-mm/internal/config"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	a, err := app.Open(context.Background(), *cfg, app.Options{Stream: true}, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Start dashboard API server if enabled
	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(*cfg, a.Engine, a.DB, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := a.Engine.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.Exchange.DryRun {
		logger.Warn("DRY-RUN MODE: no real orders will be placed or cancelled")
	}

	st := a.Engine.State()
	logger.Info("liquidity bot started",
		"active", st.Settings.IsActive,
		"max_acceptable_loss", st.Settings.MaxAcceptableLoss,
		"tiers", len(st.Tiers),
		"curve_points", len(st.Curve),
		"redeploy", cfg.Schedule.Redeploy,
		"dry_run", cfg.Exchange.DryRun,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop dashboard first
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	a.Engine.Stop()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
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
