package api

import (
	"context"
	"time"

	"liquidity-mm/internal/config"
	"liquidity-mm/internal/engine"
	"liquidity-mm/internal/market"
	"liquidity-mm/internal/planner"
	"liquidity-mm/internal/risk"
	"liquidity-mm/internal/shape"
	"liquidity-mm/internal/store"
	"liquidity-mm/internal/tier"
	"liquidity-mm/pkg/types"
)

// Controller is the engine surface the dashboard drives.
type Controller interface {
	State() store.State
	Books() *market.Books
	Risk(ctx context.Context) (risk.Snapshot, error)
	Pullback(exposurePct float64) (float64, error)

	Preview(ctx context.Context) (planner.Plan, error)
	Deploy(ctx context.Context) (engine.DeployResult, error)
	Withdraw(ctx context.Context, marketIDs []string) (engine.WithdrawResult, error)

	UpdateSettings(ctx context.Context, s planner.Settings) error
	RebalanceCurve(ctx context.Context, price int, weight float64) ([]shape.Point, error)
	AddCurvePoint(ctx context.Context, price int) ([]shape.Point, error)
	RemoveCurvePoint(ctx context.Context, price int) ([]shape.Point, error)
	RebalanceTiers(ctx context.Context, name string, pct float64) ([]tier.Tier, error)
	EditMarket(ctx context.Context, edit engine.MarketEdit) (tier.Tier, error)
	InitializeTiers(ctx context.Context, confirm bool) ([]tier.Tier, error)
	SetThresholds(ctx context.Context, thresholds []risk.Threshold) error
	SetOverride(ctx context.Context, marketID string, o planner.Override) error

	Shapes() ([]shape.Shape, error)
	SaveShape(sh shape.Shape) error
	ApplyShape(ctx context.Context, id string, makeDefault bool) error

	Events() <-chan engine.Event
}

// ActivityReader lists recent activity entries, newest first.
type ActivityReader interface {
	ListActivity(ctx context.Context, limit int) ([]types.Activity, error)
}

// BuildSnapshot aggregates state from all components into a dashboard snapshot
func BuildSnapshot(ctx context.Context, ctrl Controller, cfg config.Config) DashboardSnapshot {
	st := ctrl.State()
	snap := DashboardSnapshot{
		Timestamp: time.Now().UTC(),
		State:     st,
		Weights:   tier.EffectiveWeights(st.Tiers),
		Books:     []BookStatus{},
		Config:    NewConfigSummary(cfg),
	}

	if r, err := ctrl.Risk(ctx); err != nil {
		snap.RiskError = err.Error()
	} else {
		snap.Risk = &r
	}

	books := ctrl.Books()
	for _, id := range books.Markets() {
		b, _ := books.Get(id, cfg.Exchange.BookMaxAge)
		snap.Books = append(snap.Books, BookStatus{
			MarketID:    id,
			Orders:      len(b.Orders),
			LastUpdated: b.Timestamp,
			IsStale:     books.IsStale(id, cfg.Exchange.BookMaxAge),
		})
	}
	return snap
}
