package risk

import (
	"time"
)

// Snapshot is the pullback state shown on the dashboard.
type Snapshot struct {
	Exposure          int64       `json:"exposure"`
	MaxAcceptableLoss int64       `json:"max_acceptable_loss"`
	ExposurePct       float64     `json:"exposure_pct"`
	Multiplier        float64     `json:"multiplier"`
	ActiveThreshold   *Threshold  `json:"active_threshold,omitempty"`
	Thresholds        []Threshold `json:"thresholds"`
	Linear            bool        `json:"linear"`
	ComputedAt        time.Time   `json:"computed_at"`
}

// Evaluate computes a Snapshot for the given exposure and schedule.
func Evaluate(thresholds []Threshold, exposure, maxLoss int64, now time.Time) (Snapshot, error) {
	pct, err := ExposurePercent(exposure, maxLoss)
	if err != nil {
		return Snapshot{}, err
	}
	mult, err := Multiplier(thresholds, pct)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Exposure:          exposure,
		MaxAcceptableLoss: maxLoss,
		ExposurePct:       pct,
		Multiplier:        mult,
		Thresholds:        Sorted(thresholds),
		Linear:            len(thresholds) == 0,
		ComputedAt:        now,
	}
	if t, ok := activeThreshold(thresholds, pct); ok {
		snap.ActiveThreshold = &t
	}
	return snap, nil
}
