// Package app wires the concrete components behind the engine: exchange
// client and book feed, shape library, SQLite state and activity log, and
// the market scanner. Both binaries build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"liquidity-mm/internal/config"
	"liquidity-mm/internal/engine"
	"liquidity-mm/internal/exchange"
	"liquidity-mm/internal/market"
	"liquidity-mm/internal/shape"
	"liquidity-mm/internal/store"
)

// App holds the wired components.
type App struct {
	Engine *engine.Engine
	Client *exchange.Client
	Shapes *store.ShapeStore
	DB     *store.SQLite
}

// Options selects optional components.
type Options struct {
	// Stream enables the WebSocket book feed (when exchange.ws_url is set).
	Stream bool
}

// Open builds every component and the engine. On error everything opened so
// far is closed.
func Open(ctx context.Context, cfg config.Config, opts Options, logger *slog.Logger) (*App, error) {
	shapes, err := store.OpenShapes(filepath.Join(cfg.Store.DataDir, "shapes"))
	if err != nil {
		return nil, err
	}
	if err := seedPresets(shapes, cfg.Shapes.PresetsFile, logger); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." && cfg.Store.SQLitePath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := store.OpenSQLite(cfg.Store.SQLitePath)
	if err != nil {
		return nil, err
	}

	auth := exchange.NewAuth(cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	client := exchange.NewClient(cfg.Exchange, auth, logger)

	deps := engine.Deps{
		Balance:  client,
		Orders:   client,
		Exposure: client,
		Scores:   client,
		Activity: db,
		State:    db,
		Shapes:   shapes,
		Scanner:  market.NewScanner(client, cfg.Scanner, logger),
	}
	if opts.Stream && cfg.Exchange.WSURL != "" {
		deps.Feed = exchange.NewBookFeed(cfg.Exchange.WSURL, logger)
	}

	eng, err := engine.New(ctx, cfg, deps, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &App{Engine: eng, Client: client, Shapes: shapes, DB: db}, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

// seedPresets fills an empty shape library from the presets file.
func seedPresets(shapes *store.ShapeStore, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	existing, err := shapes.List()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	presets, err := shape.LoadPresets(path)
	if err != nil {
		return err
	}
	for _, sh := range presets {
		if err := shapes.Save(sh); err != nil {
			return err
		}
	}
	logger.Info("shape presets loaded", "count", len(presets), "file", path)
	return nil
}
