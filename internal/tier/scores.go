package tier

import (
	"fmt"
	"math"
	"sort"

	"liquidity-mm/pkg/types"
)

// Canonical tier names, best first.
const (
	S     = "S"
	APlus = "A+"
	A     = "A"
	BPlus = "B+"
	B     = "B"
	C     = "C"
	D     = "D"
)

// Order lists the tier names from best to worst.
var Order = []string{S, APlus, A, BPlus, B, C, D}

// baselineBudget is the budget split used when tiers are rebuilt from scores.
var baselineBudget = map[string]float64{
	S:     30,
	APlus: 20,
	A:     15,
	BPlus: 12,
	B:     10,
	C:     8,
	D:     5,
}

// ForScore maps a likelihood score to its tier. Boundaries are fixed:
// ≥70 S, 60–69 A+, 50–59 A, 40–49 B+, 25–39 B, 0–24 C, <0 D.
func ForScore(score float64) string {
	switch {
	case score >= 70:
		return S
	case score >= 60:
		return APlus
	case score >= 50:
		return A
	case score >= 40:
		return BPlus
	case score >= 25:
		return B
	case score >= 0:
		return C
	default:
		return D
	}
}

// InitializeFromScores rebuilds every tier from market scores. Tier budgets
// reset to the baseline split, renormalized over the tiers that received at
// least one market; empty tiers are kept at 0%. Inside a tier, market weights
// are proportional to max(score, 1) and nothing is locked.
//
// This throws away every manual edit. Callers must confirm with the operator
// before invoking it.
func InitializeFromScores(scores map[string]float64) ([]Tier, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: no scores", types.ErrInvalidInput)
	}

	ids := make([]string, 0, len(scores))
	for id, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: score %v for market %q", types.ErrInvalidInput, s, id)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	members := make(map[string][]string)
	for _, id := range ids {
		name := ForScore(scores[id])
		members[name] = append(members[name], id)
	}

	var used float64
	for name := range members {
		used += baselineBudget[name]
	}

	tiers := make([]Tier, 0, len(Order))
	for _, name := range Order {
		t := Tier{Name: name}
		ms := members[name]
		if len(ms) > 0 {
			t.BudgetPercent = baselineBudget[name] / used * 100

			var total float64
			for _, id := range ms {
				total += math.Max(scores[id], 1)
			}
			for _, id := range ms {
				t.Markets = append(t.Markets, MarketWeight{
					MarketID: id,
					Weight:   math.Max(scores[id], 1) / total,
				})
			}
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}
