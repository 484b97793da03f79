// Package api serves the operator dashboard: a JSON REST surface over the
// engine plus a WebSocket stream of engine events.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"liquidity-mm/internal/config"
)

// Server runs the HTTP/WebSocket API for the dashboard
type Server struct {
	cfg      config.DashboardConfig
	ctrl     Controller
	stream   *Stream
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger

	cancel context.CancelFunc
}

// NewServer creates a new API server. activity may be nil.
func NewServer(cfg config.Config, ctrl Controller, activity ActivityReader, logger *slog.Logger) *Server {
	stream := NewStream(logger)
	handlers := NewHandlers(ctrl, activity, cfg, stream, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Dashboard.Port),
		Handler:      NewRouter(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute, // deploys can take a while
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg.Dashboard,
		ctrl:     ctrl,
		stream:   stream,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// NewRouter registers every dashboard route.
func NewRouter(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /api/snapshot", h.HandleSnapshot)
	mux.HandleFunc("GET /api/plan", h.HandlePlan)
	mux.HandleFunc("POST /api/deploy", h.HandleDeploy)
	mux.HandleFunc("POST /api/withdraw", h.HandleWithdraw)
	mux.HandleFunc("GET /api/settings", h.HandleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.HandlePutSettings)
	mux.HandleFunc("POST /api/curve/rebalance", h.HandleCurveRebalance)
	mux.HandleFunc("POST /api/curve/points", h.HandleAddCurvePoint)
	mux.HandleFunc("DELETE /api/curve/points/{price}", h.HandleRemoveCurvePoint)
	mux.HandleFunc("POST /api/tiers/rebalance", h.HandleTierRebalance)
	mux.HandleFunc("POST /api/tiers/markets", h.HandleTierMarket)
	mux.HandleFunc("POST /api/tiers/initialize", h.HandleInitializeTiers)
	mux.HandleFunc("PUT /api/thresholds", h.HandleThresholds)
	mux.HandleFunc("GET /api/pullback", h.HandlePullback)
	mux.HandleFunc("PUT /api/overrides/{market}", h.HandleOverride)
	mux.HandleFunc("GET /api/shapes", h.HandleListShapes)
	mux.HandleFunc("POST /api/shapes", h.HandleCreateShape)
	mux.HandleFunc("POST /api/shapes/{id}/apply", h.HandleApplyShape)
	mux.HandleFunc("GET /api/activity", h.HandleActivity)
	mux.HandleFunc("/ws", h.HandleWebSocket)

	// Serve static files (web dashboard)
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

// Start starts the event stream, the event relay and the HTTP server. Blocks until
// the server stops.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.stream.Run(ctx)
	go s.consumeEvents(ctx)

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	if s.cancel != nil {
		s.cancel()
	}
	return err
}

// consumeEvents relays engine events to every connected client
func (s *Server) consumeEvents(ctx context.Context) {
	events := s.ctrl.Events()
	if events == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.stream.Publish(evt)
		}
	}
}
