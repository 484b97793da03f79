// Package shape owns the liquidity shape curve: the set of (price, weight)
// points that decides how a market's budget is spread across price levels.
//
// A valid curve has unique prices in 1..99 and weights that sum to 1 within
// Tolerance, or it is empty. Points at weight 0 are frozen: rebalancing
// another point never moves them, only an explicit edit does.
//
// Every function here is pure. Inputs are copied, never mutated, so the
// dashboard can call Rebalance on every discrete drag step without sharing
// mutable view state.
package shape

import (
	"fmt"
	"math"
	"sort"

	"liquidity-mm/pkg/types"
)

// Tolerance is the allowed deviation of Σweight from 1.
const Tolerance = 1e-3

// Point is one price level of a curve.
type Point struct {
	Price  int     `json:"price" yaml:"price"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Rebalance sets the weight of the point at price to w and scales the other
// non-zero points so the curve sums to 1 again.
//
// The scale is max(0, 1-w)/otherTotal, applied once. If the result is still
// more than Tolerance away from 1, one uniform renormalization of all
// non-zero points follows. There is no iteration beyond that.
//
// If every point ends at zero the points are returned together with an
// ErrInvariantViolation so the caller can log it.
func Rebalance(points []Point, price int, w float64) ([]Point, error) {
	if !finite(w) || w < 0 || w > 1 {
		return nil, fmt.Errorf("%w: weight %v outside [0,1]", types.ErrInvalidInput, w)
	}
	idx := indexOf(points, price)
	if idx < 0 {
		return nil, fmt.Errorf("%w: no point at price %d", types.ErrInvalidOperation, price)
	}

	out := clone(points)
	out[idx].Weight = w

	var otherTotal float64
	for i, p := range out {
		if i != idx && p.Weight > 0 {
			otherTotal += p.Weight
		}
	}

	if otherTotal > 0 {
		scale := math.Max(0, 1-w) / otherTotal
		for i := range out {
			if i != idx && out[i].Weight > 0 {
				out[i].Weight *= scale
			}
		}
	}

	total := Total(out)
	if math.Abs(total-1) > Tolerance && total > 0 {
		for i := range out {
			if out[i].Weight > 0 {
				out[i].Weight /= total
			}
		}
	}

	if total == 0 {
		return out, fmt.Errorf("%w: every point is at zero weight", types.ErrInvariantViolation)
	}
	return out, nil
}

// AddPoint inserts a new point at weight 0. Existing weights are untouched.
func AddPoint(points []Point, price int) ([]Point, error) {
	if !types.ValidPrice(price) {
		return nil, fmt.Errorf("%w: price %d outside %d..%d", types.ErrInvalidInput, price, types.MinPrice, types.MaxPrice)
	}
	if indexOf(points, price) >= 0 {
		return nil, fmt.Errorf("%w: point at price %d already exists", types.ErrInvalidOperation, price)
	}

	out := append(clone(points), Point{Price: price})
	sortByPrice(out)
	return out, nil
}

// RemovePoint deletes the point at price and renormalizes the rest.
//
// If the removed point carried all the weight, the remaining points share it
// evenly. Removing the last point fails when requireNonEmpty is set.
func RemovePoint(points []Point, price int, requireNonEmpty bool) ([]Point, error) {
	idx := indexOf(points, price)
	if idx < 0 {
		return nil, fmt.Errorf("%w: no point at price %d", types.ErrInvalidOperation, price)
	}
	if len(points) == 1 && requireNonEmpty {
		return nil, fmt.Errorf("%w: cannot remove the last point", types.ErrInvalidOperation)
	}

	out := make([]Point, 0, len(points)-1)
	out = append(out, points[:idx]...)
	out = append(out, points[idx+1:]...)
	if len(out) == 0 {
		return out, nil
	}

	if Total(out) == 0 {
		even := 1 / float64(len(out))
		for i := range out {
			out[i].Weight = even
		}
		return out, nil
	}
	return Normalize(out), nil
}

// Normalize divides every weight by the total so the curve sums to 1.
// An all-zero or empty curve is returned unchanged.
func Normalize(points []Point) []Point {
	out := clone(points)
	total := Total(out)
	if total <= 0 {
		return out
	}
	for i := range out {
		out[i].Weight /= total
	}
	return out
}

// Total returns Σweight.
func Total(points []Point) float64 {
	var total float64
	for _, p := range points {
		total += p.Weight
	}
	return total
}

// Active returns the points with positive weight, in price order.
func Active(points []Point) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Weight > 0 {
			out = append(out, p)
		}
	}
	sortByPrice(out)
	return out
}

// Validate checks the curve invariant: prices unique and in range, weights
// finite and within [0,1], and Σweight == 1 within Tolerance unless empty.
func Validate(points []Point) error {
	if len(points) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(points))
	for _, p := range points {
		if !types.ValidPrice(p.Price) {
			return fmt.Errorf("%w: price %d outside %d..%d", types.ErrInvalidInput, p.Price, types.MinPrice, types.MaxPrice)
		}
		if seen[p.Price] {
			return fmt.Errorf("%w: duplicate price %d", types.ErrInvalidInput, p.Price)
		}
		seen[p.Price] = true
		if !finite(p.Weight) || p.Weight < 0 || p.Weight > 1 {
			return fmt.Errorf("%w: weight %v at price %d", types.ErrInvalidInput, p.Weight, p.Price)
		}
	}
	if total := Total(points); math.Abs(total-1) > Tolerance {
		return fmt.Errorf("%w: weights sum to %.6f", types.ErrInvariantViolation, total)
	}
	return nil
}

func indexOf(points []Point, price int) int {
	for i, p := range points {
		if p.Price == price {
			return i
		}
	}
	return -1
}

func clone(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	return out
}

func sortByPrice(points []Point) {
	sort.Slice(points, func(i, j int) bool { return points[i].Price < points[j].Price })
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
