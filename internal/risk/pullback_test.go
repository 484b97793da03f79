package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"liquidity-mm/pkg/types"
)

func TestExposurePercent(t *testing.T) {
	t.Parallel()

	pct, err := ExposurePercent(5_000_000, 10_000_000)
	if err != nil {
		t.Fatalf("ExposurePercent: %v", err)
	}
	if pct != 50 {
		t.Errorf("pct = %v, want 50", pct)
	}

	pct, err = ExposurePercent(15_000_000, 10_000_000)
	if err != nil {
		t.Fatalf("ExposurePercent: %v", err)
	}
	if pct != 150 {
		t.Errorf("pct past cap = %v, want 150", pct)
	}

	if _, err := ExposurePercent(1, 0); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("zero max loss err = %v", err)
	}
	if _, err := ExposurePercent(-1, 10); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("negative exposure err = %v", err)
	}
}

func TestMultiplierLinearDefault(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pct  float64
		want float64
	}{
		{0, 1},
		{25, 0.75},
		{50, 0.5},
		{99, 0.01},
		{100, 0},
		{140, 0},
	}

	for _, tt := range tests {
		got, err := Multiplier(nil, tt.pct)
		if err != nil {
			t.Fatalf("Multiplier(%v): %v", tt.pct, err)
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Multiplier(nil, %v) = %v, want %v", tt.pct, got, tt.want)
		}
	}
}

func TestMultiplierFromExposure(t *testing.T) {
	t.Parallel()

	pct, err := ExposurePercent(5_000_000, 10_000_000)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Multiplier(nil, pct)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.5 {
		t.Errorf("multiplier = %v, want 0.5", got)
	}
}

func TestMultiplierThresholds(t *testing.T) {
	t.Parallel()

	schedule := []Threshold{
		{ExposurePercent: 50, PullbackPercent: 50},
		{ExposurePercent: 25, PullbackPercent: 75},
	}

	tests := []struct {
		pct  float64
		want float64
	}{
		{0, 1},
		{10, 1},
		{24.99, 1},
		{25, 0.75},
		{30, 0.75},
		{50, 0.5},
		{99.9, 0.5},
		{100, 0.5},
		{100.01, 0},
	}

	for _, tt := range tests {
		got, err := Multiplier(schedule, tt.pct)
		if err != nil {
			t.Fatalf("Multiplier(%v): %v", tt.pct, err)
		}
		if got != tt.want {
			t.Errorf("Multiplier(%v) = %v, want %v", tt.pct, got, tt.want)
		}
	}

	capped := []Threshold{
		{ExposurePercent: 50, PullbackPercent: 50},
		{ExposurePercent: 100, PullbackPercent: 20},
	}
	if got, err := Multiplier(capped, 100); err != nil || got != 0.2 {
		t.Errorf("Multiplier(capped, 100) = %v, %v, want 0.2", got, err)
	}
	if got, err := Multiplier(capped, 120); err != nil || got != 0 {
		t.Errorf("Multiplier(capped, 120) = %v, %v, want 0", got, err)
	}
}

func TestMultiplierMonotone(t *testing.T) {
	t.Parallel()

	schedules := [][]Threshold{
		nil,
		{{ExposurePercent: 25, PullbackPercent: 75}, {ExposurePercent: 50, PullbackPercent: 50}},
		{{ExposurePercent: 0, PullbackPercent: 90}, {ExposurePercent: 10, PullbackPercent: 90}, {ExposurePercent: 80, PullbackPercent: 0}},
	}

	for i, s := range schedules {
		prev := math.Inf(1)
		for pct := 0.0; pct <= 120; pct += 0.5 {
			m, err := Multiplier(s, pct)
			if err != nil {
				t.Fatalf("schedule %d pct %v: %v", i, pct, err)
			}
			if m < 0 || m > 1 {
				t.Fatalf("schedule %d pct %v: multiplier %v out of [0,1]", i, pct, m)
			}
			if m > prev {
				t.Fatalf("schedule %d: multiplier rose from %v to %v at %v%%", i, prev, m, pct)
			}
			prev = m
		}
	}
}

func TestValidateThresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      []Threshold
		wantErr bool
	}{
		{"empty", nil, false},
		{"valid", []Threshold{{25, 75}, {50, 50}}, false},
		{"flat steps", []Threshold{{10, 60}, {20, 60}}, false},
		{"rising pullback", []Threshold{{25, 50}, {50, 75}}, true},
		{"duplicate exposure", []Threshold{{25, 75}, {25, 50}}, true},
		{"exposure above 100", []Threshold{{120, 0}}, true},
		{"negative pullback", []Threshold{{10, -1}}, true},
		{"NaN", []Threshold{{math.NaN(), 10}}, true},
	}

	for _, tt := range tests {
		err := ValidateThresholds(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("%s: err = %v, want ErrInvalidInput", tt.name, err)
		}
	}
}

func TestMultiplierRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := Multiplier(nil, math.NaN()); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("NaN pct err = %v", err)
	}
	if _, err := Multiplier(nil, -5); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("negative pct err = %v", err)
	}
	bad := []Threshold{{25, 50}, {50, 75}}
	if _, err := Multiplier(bad, 30); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("non-monotone schedule err = %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	schedule := []Threshold{{50, 50}, {25, 75}}

	snap, err := Evaluate(schedule, 3_000_000, 10_000_000, now)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if snap.ExposurePct != 30 || snap.Multiplier != 0.75 {
		t.Errorf("snap = %+v, want 30%% / 0.75", snap)
	}
	if snap.ActiveThreshold == nil || snap.ActiveThreshold.ExposurePercent != 25 {
		t.Errorf("active threshold = %+v, want 25%%", snap.ActiveThreshold)
	}
	if snap.Thresholds[0].ExposurePercent != 25 {
		t.Errorf("thresholds not sorted: %+v", snap.Thresholds)
	}
	if snap.Linear || !snap.ComputedAt.Equal(now) {
		t.Errorf("linear = %v, computed_at = %v", snap.Linear, snap.ComputedAt)
	}

	snap, err = Evaluate(nil, 1_000_000, 10_000_000, now)
	if err != nil {
		t.Fatalf("Evaluate linear: %v", err)
	}
	if !snap.Linear || snap.ActiveThreshold != nil || math.Abs(snap.Multiplier-0.9) > 1e-12 {
		t.Errorf("linear snap = %+v", snap)
	}
}
