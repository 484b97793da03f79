// Package risk maps current exposure to a liquidity multiplier.
//
// Exposure is the worst-case loss of everything currently held or offered,
// expressed as a percentage of the operator's maximum acceptable loss:
//
//   - No thresholds: multiplier = max(0, 1 - pct/100). 0% exposure deploys
//     everything, 100% deploys nothing.
//   - With thresholds: the highest threshold whose ExposurePercent is at or
//     below the current percentage stays in effect until the next one is
//     reached. Below every threshold the multiplier is 1.
//
// Past 100% the multiplier is always 0; at exactly 100% the schedule still
// applies (the linear default reaches 0 there). The multiplier gates every order
// amount, so it must be recomputed right before each deployment.
package risk

import (
	"fmt"
	"math"
	"sort"

	"liquidity-mm/pkg/types"
)

// Threshold is one step of a pullback schedule: once exposure reaches
// ExposurePercent, liquidity is cut to PullbackPercent of normal.
type Threshold struct {
	ExposurePercent float64 `json:"exposure_percent" yaml:"exposure_percent" mapstructure:"exposure_percent"`
	PullbackPercent float64 `json:"pullback_percent" yaml:"pullback_percent" mapstructure:"pullback_percent"`
}

// ExposurePercent returns 100 * exposure / maxLoss. The result is never
// negative but may exceed 100 when exposure drifts past the cap.
func ExposurePercent(exposure, maxLoss int64) (float64, error) {
	if maxLoss <= 0 {
		return 0, fmt.Errorf("%w: max acceptable loss %d", types.ErrInvalidInput, maxLoss)
	}
	if exposure < 0 {
		return 0, fmt.Errorf("%w: exposure %d", types.ErrInvalidInput, exposure)
	}
	return 100 * float64(exposure) / float64(maxLoss), nil
}

// Multiplier returns the liquidity multiplier in [0,1] for the given
// exposure percentage.
func Multiplier(thresholds []Threshold, pct float64) (float64, error) {
	if math.IsNaN(pct) || pct < 0 {
		return 0, fmt.Errorf("%w: exposure percent %v", types.ErrInvalidInput, pct)
	}
	if err := ValidateThresholds(thresholds); err != nil {
		return 0, err
	}
	if pct > 100 {
		return 0, nil
	}
	if len(thresholds) == 0 {
		return math.Max(0, 1-pct/100), nil
	}

	active, ok := activeThreshold(thresholds, pct)
	if !ok {
		return 1, nil
	}
	return active.PullbackPercent / 100, nil
}

// ValidateThresholds rejects out-of-range or duplicate exposure points and
// schedules where a higher exposure restores more liquidity than a lower one.
// Input order does not matter.
func ValidateThresholds(thresholds []Threshold) error {
	sorted := Sorted(thresholds)
	for i, t := range sorted {
		if !inPercentRange(t.ExposurePercent) || !inPercentRange(t.PullbackPercent) {
			return fmt.Errorf("%w: threshold %+v out of range", types.ErrInvalidInput, t)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if t.ExposurePercent == prev.ExposurePercent {
			return fmt.Errorf("%w: duplicate threshold at %v%%", types.ErrInvalidInput, t.ExposurePercent)
		}
		if t.PullbackPercent > prev.PullbackPercent {
			return fmt.Errorf("%w: pullback rises from %v%% to %v%% between exposure %v%% and %v%%",
				types.ErrInvalidInput, prev.PullbackPercent, t.PullbackPercent, prev.ExposurePercent, t.ExposurePercent)
		}
	}
	return nil
}

// Sorted returns a copy of the schedule ordered by exposure.
func Sorted(thresholds []Threshold) []Threshold {
	out := make([]Threshold, len(thresholds))
	copy(out, thresholds)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExposurePercent < out[j].ExposurePercent
	})
	return out
}

func activeThreshold(thresholds []Threshold, pct float64) (Threshold, bool) {
	var (
		best  Threshold
		found bool
	)
	for _, t := range thresholds {
		if t.ExposurePercent <= pct && (!found || t.ExposurePercent > best.ExposurePercent) {
			best = t
			found = true
		}
	}
	return best, found
}

func inPercentRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}
