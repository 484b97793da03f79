package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"liquidity-mm/internal/config"
	"liquidity-mm/internal/engine"
	"liquidity-mm/internal/planner"
	"liquidity-mm/internal/shape"
	"liquidity-mm/pkg/types"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 2 * time.Minute
)

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	ctrl     Controller
	activity ActivityReader
	cfg      config.Config
	stream   *Stream
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl Controller, activity ActivityReader, cfg config.Config, stream *Stream, logger *slog.Logger) *Handlers {
	h := &Handlers{
		ctrl:     ctrl,
		activity: activity,
		cfg:      cfg,
		stream:   stream,
		logger:   logger.With("component", "api-handlers"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), cfg.Dashboard, r.Host)
		},
	}
	return h
}

// isOriginAllowed accepts requests without an Origin header, origins on the
// allowlist when one is configured, and otherwise localhost or same-host
// origins.
func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	if len(cfg.AllowedOrigins) > 0 {
		for _, o := range cfg.AllowedOrigins {
			if strings.EqualFold(strings.TrimRight(o, "/"), strings.TrimRight(origin, "/")) {
				return true
			}
		}
		return false
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	if strings.EqualFold(u.Host, reqHost) {
		return true
	}
	reqName, _, err := net.SplitHostPort(reqHost)
	if err != nil {
		reqName = reqHost
	}
	return strings.EqualFold(host, reqName) && u.Port() == ""
}

// HandleHealth returns a simple health check response
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSnapshot returns the current dashboard state
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, BuildSnapshot(r.Context(), h.ctrl, h.cfg))
}

// HandlePlan previews the plan a deploy would place now.
func (h *Handlers) HandlePlan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	plan, err := h.ctrl.Preview(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

// HandleDeploy runs a deployment.
func (h *Handlers) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := h.ctrl.Deploy(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleWithdraw cancels resting orders on the listed markets (all tiered
// markets when the body is empty).
func (h *Handlers) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := h.ctrl.Withdraw(ctx, req.Markets)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleGetSettings returns the operator settings.
func (h *Handlers) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctrl.State().Settings)
}

// HandlePutSettings updates the fields present in the body.
func (h *Handlers) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	s := req.apply(h.ctrl.State().Settings)
	if err := h.ctrl.UpdateSettings(r.Context(), s); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

// HandleCurveRebalance sets one curve point's weight.
func (h *Handlers) HandleCurveRebalance(w http.ResponseWriter, r *http.Request) {
	var req curveRebalanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	pts, err := h.ctrl.RebalanceCurve(r.Context(), req.Price, req.Weight)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pts)
}

// HandleAddCurvePoint adds a price level at weight 0.
func (h *Handlers) HandleAddCurvePoint(w http.ResponseWriter, r *http.Request) {
	var req curvePointRequest
	if !h.decode(w, r, &req) {
		return
	}
	pts, err := h.ctrl.AddCurvePoint(r.Context(), req.Price)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pts)
}

// HandleRemoveCurvePoint removes the price level named in the path.
func (h *Handlers) HandleRemoveCurvePoint(w http.ResponseWriter, r *http.Request) {
	price, err := strconv.Atoi(r.PathValue("price"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "price must be an integer"})
		return
	}
	pts, err := h.ctrl.RemoveCurvePoint(r.Context(), price)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pts)
}

// HandleTierRebalance sets one tier's budget share.
func (h *Handlers) HandleTierRebalance(w http.ResponseWriter, r *http.Request) {
	var req tierRebalanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	tiers, err := h.ctrl.RebalanceTiers(r.Context(), req.Tier, req.BudgetPercent)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tiers)
}

// HandleTierMarket adds, removes, reweights or locks a market in a tier.
func (h *Handlers) HandleTierMarket(w http.ResponseWriter, r *http.Request) {
	var req engine.MarketEdit
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.ctrl.EditMarket(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// HandleInitializeTiers rebuilds tiers from scores. Requires confirm=true.
func (h *Handlers) HandleInitializeTiers(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	tiers, err := h.ctrl.InitializeTiers(ctx, req.Confirm)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tiers)
}

// HandleThresholds replaces the pullback schedule.
func (h *Handlers) HandleThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ctrl.SetThresholds(r.Context(), req.Thresholds); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctrl.State().Thresholds)
}

// HandlePullback evaluates the schedule at ?exposure_pct=.
func (h *Handlers) HandlePullback(w http.ResponseWriter, r *http.Request) {
	pct, err := strconv.ParseFloat(r.URL.Query().Get("exposure_pct"), 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "exposure_pct must be a number"})
		return
	}
	m, err := h.ctrl.Pullback(pct)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pullbackResponse{ExposurePct: pct, Multiplier: m})
}

// HandleOverride sets or clears the override of the market in the path.
func (h *Handlers) HandleOverride(w http.ResponseWriter, r *http.Request) {
	var req planner.Override
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ctrl.SetOverride(r.Context(), r.PathValue("market"), req); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctrl.State().Overrides)
}

// HandleListShapes lists the shape library.
func (h *Handlers) HandleListShapes(w http.ResponseWriter, r *http.Request) {
	shapes, err := h.ctrl.Shapes()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, shapes)
}

// HandleCreateShape generates and stores a shape, optionally applying it.
func (h *Handlers) HandleCreateShape(w http.ResponseWriter, r *http.Request) {
	var req shapeRequest
	if !h.decode(w, r, &req) {
		return
	}
	sh, err := shape.NewShape(req.Name, req.Type, req.Params, req.Points)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.ctrl.SaveShape(sh); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Apply || req.Default {
		if err := h.ctrl.ApplyShape(r.Context(), sh.ID, req.Default); err != nil {
			h.writeError(w, err)
			return
		}
		sh.IsDefault = req.Default
	}
	h.writeJSON(w, http.StatusCreated, sh)
}

// HandleApplyShape copies a stored shape into the active curve.
func (h *Handlers) HandleApplyShape(w http.ResponseWriter, r *http.Request) {
	var req applyShapeRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	if err := h.ctrl.ApplyShape(r.Context(), r.PathValue("id"), req.Default); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctrl.State().Curve)
}

// HandleActivity lists recent activity, newest first (?limit=, default 50).
func (h *Handlers) HandleActivity(w http.ResponseWriter, r *http.Request) {
	if h.activity == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "activity log not available"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := h.activity.ListActivity(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// HandleWebSocket upgrades the connection and attaches it to the event stream
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	// The initial snapshot goes out before any streamed event
	data, err := json.Marshal(snapshotEvent(BuildSnapshot(r.Context(), h.ctrl, h.cfg)))
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		conn.Close()
		return
	}
	h.stream.Attach(conn, data)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps the error taxonomy onto HTTP status codes.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrInvariantViolation):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrInvalidOperation):
		status = http.StatusConflict
	case engine.IsCollaboratorError(err), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
