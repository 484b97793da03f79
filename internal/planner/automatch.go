package planner

import (
	"sort"
	"time"

	"liquidity-mm/pkg/types"
)

// Match is one planned order crossing one resting order.
type Match struct {
	Price          int    `json:"price"`
	RestingOrderID string `json:"resting_order_id"`
	RestingSide    string `json:"resting_side"`
	RestingPrice   int    `json:"resting_price"`
	Amount         int64  `json:"amount"`
	Cost           int64  `json:"cost"`
}

// MarketMatch aggregates the crossings of one market.
type MarketMatch struct {
	Matches []Match `json:"matches"`
	Amount  int64   `json:"amount"`
	Cost    int64   `json:"cost"`
}

// AutoMatchSummary aggregates crossings over the whole plan. It is an
// estimate: the book may have moved since AsOf.
type AutoMatchSummary struct {
	Estimate bool      `json:"estimate"`
	AsOf     time.Time `json:"as_of"`
	Markets  int       `json:"markets"`
	Pairs    int       `json:"pairs"`
	Amount   int64     `json:"amount"`
	Cost     int64     `json:"cost"`
}

// detectMatches pairs planned orders with complementary resting orders that
// they would cross. Both sides are walked from the highest price, and each
// pair consumes min(remaining new, remaining resting) so a resting order is
// never counted twice. The bot's own orders are skipped.
func detectMatches(orders []types.Order, book []types.RestingOrder, side types.Side, rule CrossRule) MarketMatch {
	mm := MarketMatch{Matches: []Match{}}
	if len(orders) == 0 || len(book) == 0 {
		return mm
	}

	type resting struct {
		types.RestingOrder
		left int64
	}
	counter := side.Opposite()
	var candidates []resting
	for _, r := range book {
		if r.Own || r.Side != counter || !types.ValidPrice(r.Price) || r.Remaining <= 0 {
			continue
		}
		candidates = append(candidates, resting{RestingOrder: r, left: r.Remaining})
	}
	if len(candidates) == 0 {
		return mm
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Price != candidates[j].Price {
			return candidates[i].Price > candidates[j].Price
		}
		return candidates[i].ID < candidates[j].ID
	})

	planned := make([]types.Order, len(orders))
	copy(planned, orders)
	sort.SliceStable(planned, func(i, j int) bool { return planned[i].Price > planned[j].Price })

	for _, o := range planned {
		left := o.Amount
		for i := range candidates {
			if left == 0 {
				break
			}
			c := &candidates[i]
			if !rule.Crosses(o.Price, c.Price) {
				// candidates are sorted by price, nothing lower crosses either
				break
			}
			if c.left == 0 {
				continue
			}
			amount := min(left, c.left)
			left -= amount
			c.left -= amount

			m := Match{
				Price:          o.Price,
				RestingOrderID: c.ID,
				RestingSide:    string(c.Side),
				RestingPrice:   c.Price,
				Amount:         amount,
				Cost:           OrderCost(amount, o.Price),
			}
			mm.Matches = append(mm.Matches, m)
			mm.Amount += m.Amount
			mm.Cost += m.Cost
		}
	}
	return mm
}

func summarize(markets []MarketPlan, asOf time.Time) AutoMatchSummary {
	s := AutoMatchSummary{Estimate: true, AsOf: asOf}
	for _, m := range markets {
		if len(m.AutoMatch.Matches) == 0 {
			continue
		}
		s.Markets++
		s.Pairs += len(m.AutoMatch.Matches)
		s.Amount += m.AutoMatch.Amount
		s.Cost += m.AutoMatch.Cost
	}
	return s
}
