// Package tier splits the deployable budget across ranked buckets of markets.
//
// Two levels of weights are kept:
//
//   - Tier.BudgetPercent: the share of the whole budget a tier receives.
//     All tiers together always sum to 100 (within BudgetTolerance).
//   - MarketWeight.Weight: a market's share of its tier's budget. The
//     markets of one tier sum to 1 (within WeightTolerance).
//
// EffectiveWeights multiplies the two into the per-market weight the planner
// consumes. Everything in this package is pure; callers own the state.
package tier

import (
	"fmt"
	"math"

	"liquidity-mm/pkg/types"
)

const (
	BudgetTolerance = 0.1
	WeightTolerance = 1e-3
)

// MarketWeight is one market's share of its tier. Locked markets keep their
// weight when other markets of the tier are edited.
type MarketWeight struct {
	MarketID string  `json:"market_id"`
	Weight   float64 `json:"weight"`
	Locked   bool    `json:"locked"`
}

// Tier is a named bucket of markets with a share of the total budget.
type Tier struct {
	Name          string         `json:"name"`
	BudgetPercent float64        `json:"budget_percent"`
	Markets       []MarketWeight `json:"markets"`
}

// Rebalance sets the budget of the named tier to v (clamped to [0,100]) and
// scales every other tier by (100-v)/otherTotal. When the others are all at
// zero, 100-v is split evenly among them. The edited tier is pinned to
// exactly v rather than re-derived from the scaled total.
func Rebalance(tiers []Tier, name string, v float64) ([]Tier, error) {
	if math.IsNaN(v) {
		return nil, fmt.Errorf("%w: budget percent is NaN", types.ErrInvalidInput)
	}
	idx := indexOfTier(tiers, name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: unknown tier %q", types.ErrInvalidOperation, name)
	}
	v = clamp(v, 0, 100)
	if len(tiers) == 1 && v != 100 {
		return nil, fmt.Errorf("%w: a single tier must hold 100%%", types.ErrInvalidOperation)
	}

	out := Clone(tiers)
	var otherTotal float64
	for i, t := range out {
		if i != idx {
			otherTotal += t.BudgetPercent
		}
	}

	remaining := 100 - v
	for i := range out {
		if i == idx {
			continue
		}
		if otherTotal > 0 {
			out[i].BudgetPercent *= remaining / otherTotal
		} else {
			out[i].BudgetPercent = remaining / float64(len(out)-1)
		}
	}
	out[idx].BudgetPercent = v
	return out, nil
}

// RebalanceMarkets sets one market's weight inside a tier. Locked markets
// keep their weight, so w is clamped to [0, 1-lockedTotal]; the rest of the
// weight is spread over the unlocked others in proportion to their current
// weight, or evenly if they are all zero. With no unlocked others the edited
// market takes whatever the locked markets leave.
func RebalanceMarkets(t Tier, marketID string, w float64) (Tier, error) {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return Tier{}, fmt.Errorf("%w: weight %v", types.ErrInvalidInput, w)
	}
	idx := indexOfMarket(t.Markets, marketID)
	if idx < 0 {
		return Tier{}, fmt.Errorf("%w: market %q not in tier %q", types.ErrInvalidOperation, marketID, t.Name)
	}
	if t.Markets[idx].Locked {
		return Tier{}, fmt.Errorf("%w: market %q is locked", types.ErrInvalidOperation, marketID)
	}

	out := cloneTier(t)
	var lockedTotal, unlockedTotal float64
	unlocked := 0
	for i, m := range out.Markets {
		switch {
		case i == idx:
		case m.Locked:
			lockedTotal += m.Weight
		default:
			unlockedTotal += m.Weight
			unlocked++
		}
	}

	free := math.Max(0, 1-lockedTotal)
	if unlocked == 0 {
		w = free
	}
	w = clamp(w, 0, free)
	remaining := free - w

	for i := range out.Markets {
		m := &out.Markets[i]
		if i == idx || m.Locked {
			continue
		}
		if unlockedTotal > 0 {
			m.Weight *= remaining / unlockedTotal
		} else {
			m.Weight = remaining / float64(unlocked)
		}
	}
	out.Markets[idx].Weight = w
	return out, nil
}

// SetLocked locks or unlocks a market's weight.
func SetLocked(t Tier, marketID string, locked bool) (Tier, error) {
	idx := indexOfMarket(t.Markets, marketID)
	if idx < 0 {
		return Tier{}, fmt.Errorf("%w: market %q not in tier %q", types.ErrInvalidOperation, marketID, t.Name)
	}
	out := cloneTier(t)
	out.Markets[idx].Locked = locked
	return out, nil
}

// AddMarket appends a market at weight 0, or at weight 1 when the tier was
// empty so the tier stays normalized.
func AddMarket(t Tier, marketID string) (Tier, error) {
	if marketID == "" {
		return Tier{}, fmt.Errorf("%w: empty market id", types.ErrInvalidInput)
	}
	if indexOfMarket(t.Markets, marketID) >= 0 {
		return Tier{}, fmt.Errorf("%w: market %q already in tier %q", types.ErrInvalidOperation, marketID, t.Name)
	}
	out := cloneTier(t)
	w := 0.0
	if len(out.Markets) == 0 {
		w = 1
	}
	out.Markets = append(out.Markets, MarketWeight{MarketID: marketID, Weight: w})
	return out, nil
}

// RemoveMarket drops a market and renormalizes the remaining weights.
func RemoveMarket(t Tier, marketID string) (Tier, error) {
	idx := indexOfMarket(t.Markets, marketID)
	if idx < 0 {
		return Tier{}, fmt.Errorf("%w: market %q not in tier %q", types.ErrInvalidOperation, marketID, t.Name)
	}
	out := cloneTier(t)
	out.Markets = append(out.Markets[:idx], out.Markets[idx+1:]...)

	var total float64
	for _, m := range out.Markets {
		total += m.Weight
	}
	for i := range out.Markets {
		if total > 0 {
			out.Markets[i].Weight /= total
		} else {
			out.Markets[i].Weight = 1 / float64(len(out.Markets))
		}
	}
	return out, nil
}

// EffectiveWeights returns market ID → tier share × market share. A market
// listed in several tiers accumulates its weight.
func EffectiveWeights(tiers []Tier) map[string]float64 {
	out := make(map[string]float64)
	for _, t := range tiers {
		for _, m := range t.Markets {
			out[m.MarketID] += t.BudgetPercent / 100 * m.Weight
		}
	}
	return out
}

// Validate checks both weight invariants and rejects negative or non-finite
// values.
func Validate(tiers []Tier) error {
	if len(tiers) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tiers))
	var total float64
	for _, t := range tiers {
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate tier %q", types.ErrInvalidInput, t.Name)
		}
		seen[t.Name] = true
		if !finite(t.BudgetPercent) || t.BudgetPercent < 0 || t.BudgetPercent > 100 {
			return fmt.Errorf("%w: tier %q budget %v", types.ErrInvalidInput, t.Name, t.BudgetPercent)
		}
		total += t.BudgetPercent

		var weights float64
		for _, m := range t.Markets {
			if !finite(m.Weight) || m.Weight < 0 || m.Weight > 1 {
				return fmt.Errorf("%w: market %q weight %v", types.ErrInvalidInput, m.MarketID, m.Weight)
			}
			weights += m.Weight
		}
		if len(t.Markets) > 0 && math.Abs(weights-1) > WeightTolerance {
			return fmt.Errorf("%w: tier %q market weights sum to %.6f", types.ErrInvariantViolation, t.Name, weights)
		}
	}
	if math.Abs(total-100) > BudgetTolerance {
		return fmt.Errorf("%w: tier budgets sum to %.4f", types.ErrInvariantViolation, total)
	}
	return nil
}

// Clone deep-copies a tier list.
func Clone(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	for i, t := range tiers {
		out[i] = cloneTier(t)
	}
	return out
}

func cloneTier(t Tier) Tier {
	out := t
	out.Markets = make([]MarketWeight, len(t.Markets))
	copy(out.Markets, t.Markets)
	return out
}

func indexOfTier(tiers []Tier, name string) int {
	for i, t := range tiers {
		if t.Name == name {
			return i
		}
	}
	return -1
}

func indexOfMarket(markets []MarketWeight, id string) int {
	for i, m := range markets {
		if m.MarketID == id {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
