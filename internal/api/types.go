package api

import (
	"time"

	"liquidity-mm/internal/config"
	"liquidity-mm/internal/planner"
	"liquidity-mm/internal/risk"
	"liquidity-mm/internal/shape"
	"liquidity-mm/internal/store"
)

// DashboardSnapshot represents the complete dashboard state
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Operator state: settings, curve, tiers, thresholds, overrides
	State store.State `json:"state"`

	// Effective per-market weights derived from the tiers
	Weights map[string]float64 `json:"weights"`

	// Risk status; nil when exposure could not be read
	Risk      *risk.Snapshot `json:"risk,omitempty"`
	RiskError string         `json:"risk_error,omitempty"`

	// Streamed books
	Books []BookStatus `json:"books"`

	// Configuration
	Config ConfigSummary `json:"config"`
}

// BookStatus is the freshness of one cached book.
type BookStatus struct {
	MarketID    string    `json:"market_id"`
	Orders      int       `json:"orders"`
	LastUpdated time.Time `json:"last_updated"`
	IsStale     bool      `json:"is_stale"`
}

// ConfigSummary represents the static, non-secret configuration
type ConfigSummary struct {
	// Planner parameters
	MinOrderUnits int64  `json:"min_order_units"`
	OfferSide     string `json:"offer_side"`
	CrossRule     string `json:"cross_rule"`

	// Exchange parameters
	RequestTimeout string  `json:"request_timeout"`
	BookMaxAge     string  `json:"book_max_age"`
	RateLimit      float64 `json:"rate_limit"`

	// Scheduling
	RedeploySchedule string `json:"redeploy_schedule,omitempty"`

	// Operational
	DryRun bool `json:"dry_run"`
}

// NewConfigSummary creates config summary from config
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		MinOrderUnits:    cfg.Planner.MinOrderUnits,
		OfferSide:        cfg.Planner.OfferSide,
		CrossRule:        cfg.Planner.CrossRule,
		RequestTimeout:   cfg.Exchange.RequestTimeout.String(),
		BookMaxAge:       cfg.Exchange.BookMaxAge.String(),
		RateLimit:        cfg.Exchange.RateLimit,
		RedeploySchedule: cfg.Schedule.Redeploy,
		DryRun:           cfg.Exchange.DryRun,
	}
}

// Request bodies.

type curveRebalanceRequest struct {
	Price  int     `json:"price"`
	Weight float64 `json:"weight"`
}

type curvePointRequest struct {
	Price int `json:"price"`
}

type tierRebalanceRequest struct {
	Tier          string  `json:"tier"`
	BudgetPercent float64 `json:"budget_percent"`
}

type initializeRequest struct {
	Confirm bool `json:"confirm"`
}

type withdrawRequest struct {
	Markets []string `json:"markets"`
}

type thresholdsRequest struct {
	Thresholds []risk.Threshold `json:"thresholds"`
}

type shapeRequest struct {
	Name    string        `json:"name"`
	Type    shape.Type    `json:"type"`
	Params  shape.Params  `json:"params"`
	Points  []shape.Point `json:"points"`
	Apply   bool          `json:"apply"`
	Default bool          `json:"default"`
}

type applyShapeRequest struct {
	Default bool `json:"default"`
}

type pullbackResponse struct {
	ExposurePct float64 `json:"exposure_pct"`
	Multiplier  float64 `json:"multiplier"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// settingsRequest mirrors planner.Settings; kept separate so partial bodies
// can be detected.
type settingsRequest struct {
	MaxAcceptableLoss *int64   `json:"max_acceptable_loss"`
	TotalLiquidity    *int64   `json:"total_liquidity"`
	GlobalMultiplier  *float64 `json:"global_multiplier"`
	IsActive          *bool    `json:"is_active"`
}

// apply overlays the fields present in the request onto s.
func (r settingsRequest) apply(s planner.Settings) planner.Settings {
	if r.MaxAcceptableLoss != nil {
		s.MaxAcceptableLoss = *r.MaxAcceptableLoss
	}
	if r.TotalLiquidity != nil {
		s.TotalLiquidity = *r.TotalLiquidity
	}
	if r.GlobalMultiplier != nil {
		s.GlobalMultiplier = *r.GlobalMultiplier
	}
	if r.IsActive != nil {
		s.IsActive = *r.IsActive
	}
	return s
}
