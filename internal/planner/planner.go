// Package planner turns the allocation state of a bot into a concrete,
// bounded order list.
//
// Budget derivation, in order:
//
//	effective_balance   = balance + existing_orders_refund
//	max_budget          = min(effective_balance, max_acceptable_loss)
//	displayed_liquidity = max_budget × global_multiplier
//	deployable_budget   = displayed_liquidity × pullback_multiplier
//
// Each weighted market receives deployable_budget × weight × override, and
// that budget is spread across the market's curve. Amounts are floored to
// whole units and costs are ceiled, so the sum of costs never understates
// what placement will lock up.
//
// Compute is pure: it reads one Input snapshot and performs no I/O.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"liquidity-mm/internal/risk"
	"liquidity-mm/internal/shape"
	"liquidity-mm/pkg/types"
)

// Status describes why a plan does or does not contain orders.
type Status string

const (
	StatusOK                Status = "ok"
	StatusInactive          Status = "inactive"
	StatusNoMarketsWeighted Status = "no_markets_weighted"
	StatusNoCurve           Status = "no_curve"
)

// MarketPlan is the order set for one market.
type MarketPlan struct {
	MarketID    string          `json:"market_id"`
	Weight      float64         `json:"weight"`
	Mode        OverrideMode    `json:"mode"`
	Budget      decimal.Decimal `json:"budget"`
	Orders      []types.Order   `json:"orders"`
	Dropped     int             `json:"dropped"` // below the minimum order size
	TotalAmount int64           `json:"total_amount"`
	TotalCost   int64           `json:"total_cost"`
	AutoMatch   MarketMatch     `json:"auto_match"`
}

// Plan is the result of Compute. It is never modified after return.
type Plan struct {
	Status Status `json:"status"`

	EffectiveBalance   int64           `json:"effective_balance"`
	MaxBudget          decimal.Decimal `json:"max_budget"`
	DisplayedLiquidity decimal.Decimal `json:"displayed_liquidity"`
	ExposurePct        float64         `json:"exposure_pct"`
	PullbackMultiplier float64         `json:"pullback_multiplier"`
	DeployableBudget   decimal.Decimal `json:"deployable_budget"`
	TotalLiquidity     int64           `json:"total_liquidity"`

	Markets      []MarketPlan `json:"markets"`
	TotalCost    int64        `json:"total_cost"`
	TotalAmount  int64        `json:"total_amount"`
	TotalOrders  int          `json:"total_orders"`
	TotalMarkets int          `json:"total_markets"`

	HasSufficientBalance bool  `json:"has_sufficient_balance"`
	Shortfall            int64 `json:"shortfall"`

	AutoMatch AutoMatchSummary `json:"auto_match"`
	Warnings  []string         `json:"warnings"`

	ComputedAt time.Time `json:"computed_at"`
}

// Orders flattens the plan into a single list, market by market.
func (p Plan) Orders() []types.Order {
	out := make([]types.Order, 0, p.TotalOrders)
	for _, m := range p.Markets {
		out = append(out, m.Orders...)
	}
	return out
}

// OrderCost is what an order of amount units at price locks up:
// ceil(amount × (100 − price) / 100).
func OrderCost(amount int64, price int) int64 {
	if amount <= 0 {
		return 0
	}
	return (amount*int64(100-price) + 99) / 100
}

// Compute builds the deployment plan for one snapshot.
//
// An inactive bot always yields an empty plan. Malformed input fails the
// whole computation with an error wrapping types.ErrInvalidInput; a caller
// must never place a partial plan. Insufficient balance is a plan state,
// surfaced through HasSufficientBalance, Shortfall and a warning.
func Compute(in Input) (Plan, error) {
	plan := Plan{
		Status:               StatusOK,
		TotalLiquidity:       in.Settings.TotalLiquidity,
		HasSufficientBalance: true,
		MaxBudget:            decimal.Zero,
		DisplayedLiquidity:   decimal.Zero,
		DeployableBudget:     decimal.Zero,
		Markets:              []MarketPlan{},
		Warnings:             []string{},
		ComputedAt:           in.Now,
	}

	if !in.Settings.IsActive {
		plan.Status = StatusInactive
		plan.Warnings = append(plan.Warnings, "bot is inactive: no orders will be placed")
		return plan, nil
	}
	if err := in.validate(); err != nil {
		return Plan{}, err
	}

	pct, err := risk.ExposurePercent(in.Exposure, in.Settings.MaxAcceptableLoss)
	if err != nil {
		return Plan{}, err
	}
	pullback, err := risk.Multiplier(in.Thresholds, pct)
	if err != nil {
		return Plan{}, err
	}

	plan.EffectiveBalance = in.Balance.Effective()
	effective := decimal.NewFromInt(plan.EffectiveBalance)
	plan.MaxBudget = decimal.Min(effective, decimal.NewFromInt(in.Settings.MaxAcceptableLoss))
	plan.DisplayedLiquidity = plan.MaxBudget.Mul(decimal.NewFromFloat(in.Settings.GlobalMultiplier))
	plan.ExposurePct = pct
	plan.PullbackMultiplier = pullback
	plan.DeployableBudget = plan.DisplayedLiquidity.Mul(decimal.NewFromFloat(pullback))

	if plan.MaxBudget.LessThan(decimal.NewFromInt(in.Settings.TotalLiquidity)) {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"max budget %s is below configured total liquidity %d", plan.MaxBudget.StringFixed(0), in.Settings.TotalLiquidity))
	}
	if pullback == 0 {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"exposure at %.2f%% of max loss: pullback multiplier is 0, nothing deployable", pct))
	}

	markets := weightedMarkets(in.Weights)
	if len(markets) == 0 {
		plan.Status = StatusNoMarketsWeighted
		plan.Warnings = append(plan.Warnings, "no market has a weight above zero: nothing to deploy")
		return plan, nil
	}

	side := in.OfferSide
	if side == "" {
		side = types.YES
	}
	minUnits := in.MinOrderUnits
	if minUnits < 1 {
		minUnits = 1
	}

	var (
		withCurve int
		dropped   int
	)
	for _, id := range markets {
		override := in.Overrides[id]
		mode := override.Mode
		if mode == "" {
			mode = OverrideDefault
		}

		curve := in.Curve
		if mode == OverrideCustomCurve {
			curve = override.Curve
		}
		if len(curve) > 0 {
			withCurve++
		}

		mp := MarketPlan{
			MarketID: id,
			Weight:   in.Weights[id],
			Mode:     mode,
			Orders:   []types.Order{},
		}
		mp.Budget = plan.DeployableBudget.Mul(decimal.NewFromFloat(mp.Weight)).Mul(overrideMultiplier(override))

		for _, pt := range shape.Active(curve) {
			amount := mp.Budget.Mul(decimal.NewFromFloat(pt.Weight)).Floor().IntPart()
			if amount < minUnits {
				if amount > 0 {
					mp.Dropped++
				}
				continue
			}
			order := types.Order{
				MarketID: id,
				Side:     side,
				Price:    pt.Price,
				Amount:   amount,
				Cost:     OrderCost(amount, pt.Price),
			}
			mp.Orders = append(mp.Orders, order)
			mp.TotalAmount += order.Amount
			mp.TotalCost += order.Cost
		}
		dropped += mp.Dropped

		mp.AutoMatch = detectMatches(mp.Orders, in.RestingOrders[id], side, in.CrossRule)

		plan.TotalCost += mp.TotalCost
		plan.TotalAmount += mp.TotalAmount
		plan.TotalOrders += len(mp.Orders)
		if len(mp.Orders) > 0 {
			plan.TotalMarkets++
		}
		plan.Markets = append(plan.Markets, mp)
	}

	if withCurve == 0 {
		plan.Status = StatusNoCurve
		plan.Warnings = append(plan.Warnings, "no shape curve configured: nothing to deploy")
	}
	if dropped > 0 {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"%d orders below the minimum size of %d units were dropped", dropped, minUnits))
	}

	if plan.TotalCost > plan.EffectiveBalance {
		plan.HasSufficientBalance = false
		plan.Shortfall = plan.TotalCost - plan.EffectiveBalance
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"insufficient balance: plan costs %d, effective balance is %d, shortfall %d",
			plan.TotalCost, plan.EffectiveBalance, plan.Shortfall))
	}

	plan.AutoMatch = summarize(plan.Markets, in.BookAsOf)
	if plan.AutoMatch.Amount > 0 {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"%d units across %d markets would match resting orders immediately (cost %d)",
			plan.AutoMatch.Amount, plan.AutoMatch.Markets, plan.AutoMatch.Cost))
	}

	return plan, nil
}

func weightedMarkets(weights map[string]float64) []string {
	ids := make([]string, 0, len(weights))
	for id, w := range weights {
		if w > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func overrideMultiplier(o Override) decimal.Decimal {
	switch o.Mode {
	case OverrideDisable:
		return decimal.Zero
	case OverrideMultiply:
		return decimal.NewFromFloat(o.Multiplier)
	default:
		return decimal.NewFromInt(1)
	}
}
