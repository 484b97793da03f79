package engine

import (
	"context"
	"errors"
	"fmt"

	"liquidity-mm/internal/planner"
	"liquidity-mm/internal/risk"
	"liquidity-mm/internal/shape"
	"liquidity-mm/internal/store"
	"liquidity-mm/internal/tier"
	"liquidity-mm/pkg/types"
)

// mutate applies fn to a copy of the state, validates and persists the
// result, and only then swaps it in. A failing fn, validation or save leaves
// the state untouched.
func (e *Engine) mutate(ctx context.Context, change string, fn func(st *store.State) (string, error)) error {
	e.mu.Lock()
	next := cloneState(e.state)
	details, err := fn(&next)
	if err == nil {
		err = validateState(next)
	}
	if err == nil && e.deps.State != nil {
		cctx, cancel := e.callCtx(ctx)
		err = e.deps.State.SaveState(cctx, next)
		cancel()
		if err != nil {
			err = fmt.Errorf("save state: %w", err)
		}
	}
	if err != nil {
		e.mu.Unlock()
		if errors.Is(err, types.ErrInvariantViolation) {
			e.logger.Error("edit rejected: invariant violated", "change", change, "error", err)
		}
		return err
	}
	e.state = next
	exposure := e.lastExposure
	e.mu.Unlock()

	e.logger.Info("config changed", "change", change, "details", details)
	e.record(ctx, types.ActionConfigChange, change+": "+details, exposure, exposure)
	e.emit(EventConfig, "", ConfigEvent{Change: change, Details: details})
	return nil
}

func validateState(st store.State) error {
	if err := st.Settings.Validate(); err != nil {
		return err
	}
	if err := shape.Validate(st.Curve); err != nil {
		return fmt.Errorf("curve: %w", err)
	}
	if err := tier.Validate(st.Tiers); err != nil {
		return fmt.Errorf("tiers: %w", err)
	}
	if err := risk.ValidateThresholds(st.Thresholds); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	for id, o := range st.Overrides {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("override %q: %w", id, err)
		}
	}
	return nil
}

// UpdateSettings replaces the operator settings.
func (e *Engine) UpdateSettings(ctx context.Context, s planner.Settings) error {
	return e.mutate(ctx, "settings", func(st *store.State) (string, error) {
		st.Settings = s
		return fmt.Sprintf("max_loss=%d total_liquidity=%d multiplier=%v active=%v",
			s.MaxAcceptableLoss, s.TotalLiquidity, s.GlobalMultiplier, s.IsActive), nil
	})
}

// RebalanceCurve sets one curve point's weight, rescaling the others.
func (e *Engine) RebalanceCurve(ctx context.Context, price int, weight float64) ([]shape.Point, error) {
	var out []shape.Point
	err := e.mutate(ctx, "curve_rebalance", func(st *store.State) (string, error) {
		pts, err := shape.Rebalance(st.Curve, price, weight)
		if err != nil {
			return "", err
		}
		st.Curve = pts
		st.DefaultShapeID = ""
		out = pts
		return fmt.Sprintf("price=%d weight=%v", price, weight), nil
	})
	return out, err
}

// AddCurvePoint adds a price level to the curve.
func (e *Engine) AddCurvePoint(ctx context.Context, price int) ([]shape.Point, error) {
	var out []shape.Point
	err := e.mutate(ctx, "curve_add_point", func(st *store.State) (string, error) {
		pts, err := shape.AddPoint(st.Curve, price)
		if err != nil {
			return "", err
		}
		st.Curve = pts
		st.DefaultShapeID = ""
		out = pts
		return fmt.Sprintf("price=%d", price), nil
	})
	return out, err
}

// RemoveCurvePoint removes a price level. The curve may not become empty
// while the bot is active.
func (e *Engine) RemoveCurvePoint(ctx context.Context, price int) ([]shape.Point, error) {
	var out []shape.Point
	err := e.mutate(ctx, "curve_remove_point", func(st *store.State) (string, error) {
		pts, err := shape.RemovePoint(st.Curve, price, st.Settings.IsActive)
		if err != nil {
			return "", err
		}
		st.Curve = pts
		st.DefaultShapeID = ""
		out = pts
		return fmt.Sprintf("price=%d", price), nil
	})
	return out, err
}

// Shapes lists the shape library.
func (e *Engine) Shapes() ([]shape.Shape, error) {
	if e.deps.Shapes == nil {
		return nil, fmt.Errorf("%w: no shape library configured", types.ErrInvalidOperation)
	}
	return e.deps.Shapes.List()
}

// SaveShape stores a shape in the library.
func (e *Engine) SaveShape(sh shape.Shape) error {
	if e.deps.Shapes == nil {
		return fmt.Errorf("%w: no shape library configured", types.ErrInvalidOperation)
	}
	return e.deps.Shapes.Save(sh)
}

// ApplyShape copies a library shape into the active curve. With makeDefault
// it also becomes the library default.
func (e *Engine) ApplyShape(ctx context.Context, id string, makeDefault bool) error {
	if e.deps.Shapes == nil {
		return fmt.Errorf("%w: no shape library configured", types.ErrInvalidOperation)
	}
	sh, err := e.deps.Shapes.Load(id)
	if err != nil {
		return err
	}
	if sh == nil {
		return fmt.Errorf("%w: unknown shape %q", types.ErrInvalidOperation, id)
	}

	err = e.mutate(ctx, "shape_apply", func(st *store.State) (string, error) {
		st.Curve = append([]shape.Point(nil), sh.Points...)
		st.DefaultShapeID = sh.ID
		return fmt.Sprintf("shape=%s name=%q points=%d", sh.ID, sh.Name, len(sh.Points)), nil
	})
	if err != nil {
		return err
	}
	if makeDefault {
		return e.deps.Shapes.SetDefault(id)
	}
	return nil
}

// RebalanceTiers sets one tier's budget percentage, scaling the others.
func (e *Engine) RebalanceTiers(ctx context.Context, name string, pct float64) ([]tier.Tier, error) {
	var out []tier.Tier
	err := e.mutate(ctx, "tier_rebalance", func(st *store.State) (string, error) {
		tiers, err := tier.Rebalance(st.Tiers, name, pct)
		if err != nil {
			return "", err
		}
		st.Tiers = tiers
		out = tier.Clone(tiers)
		return fmt.Sprintf("tier=%s budget=%v", name, pct), nil
	})
	return out, err
}

// MarketEdit is an operation on one market of one tier.
type MarketEdit struct {
	Tier     string   `json:"tier"`
	MarketID string   `json:"market_id"`
	Op       string   `json:"op"` // add, remove, weight, lock, unlock
	Weight   *float64 `json:"weight,omitempty"`
}

// EditMarket adds, removes, reweights, locks or unlocks a market in a tier.
func (e *Engine) EditMarket(ctx context.Context, edit MarketEdit) (tier.Tier, error) {
	var out tier.Tier
	err := e.mutate(ctx, "tier_market_"+edit.Op, func(st *store.State) (string, error) {
		idx := -1
		for i, t := range st.Tiers {
			if t.Name == edit.Tier {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", fmt.Errorf("%w: unknown tier %q", types.ErrInvalidOperation, edit.Tier)
		}

		var (
			t   tier.Tier
			err error
		)
		cur := st.Tiers[idx]
		switch edit.Op {
		case "add":
			t, err = tier.AddMarket(cur, edit.MarketID)
		case "remove":
			t, err = tier.RemoveMarket(cur, edit.MarketID)
		case "weight":
			if edit.Weight == nil {
				return "", fmt.Errorf("%w: weight required", types.ErrInvalidInput)
			}
			t, err = tier.RebalanceMarkets(cur, edit.MarketID, *edit.Weight)
		case "lock", "unlock":
			t, err = tier.SetLocked(cur, edit.MarketID, edit.Op == "lock")
		default:
			return "", fmt.Errorf("%w: unknown market op %q", types.ErrInvalidInput, edit.Op)
		}
		if err != nil {
			return "", err
		}
		st.Tiers[idx] = t
		out = t
		return fmt.Sprintf("tier=%s market=%s", edit.Tier, edit.MarketID), nil
	})
	if err == nil && (edit.Op == "add" || edit.Op == "remove") {
		e.syncSubscriptions()
	}
	return out, err
}

// SetTiers replaces the whole tier layout.
func (e *Engine) SetTiers(ctx context.Context, tiers []tier.Tier) error {
	err := e.mutate(ctx, "tiers", func(st *store.State) (string, error) {
		st.Tiers = tier.Clone(tiers)
		return fmt.Sprintf("tiers=%d", len(tiers)), nil
	})
	if err == nil {
		e.syncSubscriptions()
	}
	return err
}

// InitializeTiers rebuilds every tier from current market scores, discarding
// all manual edits. It refuses to run without confirm.
//
// Scores come from the market scanner when one is configured, otherwise from
// the score source for each market already tiered.
func (e *Engine) InitializeTiers(ctx context.Context, confirm bool) ([]tier.Tier, error) {
	if !confirm {
		return nil, fmt.Errorf("%w: initializing tiers discards all manual edits; confirm required", types.ErrInvalidOperation)
	}

	scores, err := e.collectScores(ctx)
	if err != nil {
		return nil, err
	}
	tiers, err := tier.InitializeFromScores(scores)
	if err != nil {
		return nil, err
	}
	if err := e.SetTiers(ctx, tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

func (e *Engine) collectScores(ctx context.Context) (map[string]float64, error) {
	if e.deps.Scanner != nil {
		scores, err := e.deps.Scanner.Scores(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: scan markets: %w", errCollaborator, err)
		}
		return scores, nil
	}
	if e.deps.Scores == nil {
		return nil, fmt.Errorf("%w: no score source configured", types.ErrInvalidOperation)
	}

	scores := make(map[string]float64)
	for _, id := range sortedKeys(tier.EffectiveWeights(e.State().Tiers)) {
		cctx, cancel := e.callCtx(ctx)
		s, err := e.deps.Scores.GetScore(cctx, id)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: score %s: %w", errCollaborator, id, err)
		}
		scores[id] = s
	}
	return scores, nil
}

// SetThresholds replaces the pullback schedule. It is stored sorted.
func (e *Engine) SetThresholds(ctx context.Context, thresholds []risk.Threshold) error {
	return e.mutate(ctx, "thresholds", func(st *store.State) (string, error) {
		if err := risk.ValidateThresholds(thresholds); err != nil {
			return "", err
		}
		st.Thresholds = risk.Sorted(thresholds)
		return fmt.Sprintf("thresholds=%v", st.Thresholds), nil
	})
}

// SetOverride sets a market's override. Default mode clears it.
func (e *Engine) SetOverride(ctx context.Context, marketID string, o planner.Override) error {
	if marketID == "" {
		return fmt.Errorf("%w: empty market id", types.ErrInvalidInput)
	}
	return e.mutate(ctx, "override", func(st *store.State) (string, error) {
		if o.Mode == planner.OverrideCustomCurve {
			o.Curve = shape.Normalize(o.Curve)
		}
		if err := o.Validate(); err != nil {
			return "", err
		}
		if o.Mode == "" || o.Mode == planner.OverrideDefault {
			delete(st.Overrides, marketID)
			return fmt.Sprintf("market=%s cleared", marketID), nil
		}
		st.Overrides[marketID] = o
		return fmt.Sprintf("market=%s mode=%s", marketID, o.Mode), nil
	})
}
