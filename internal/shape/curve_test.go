package shape

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"liquidity-mm/pkg/types"
)

func weightAt(points []Point, price int) float64 {
	for _, p := range points {
		if p.Price == price {
			return p.Weight
		}
	}
	return math.NaN()
}

func TestRebalanceScalesOthers(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 0.5}, {20, 0.3}, {30, 0.2}}
	got, err := Rebalance(points, 10, 0.2)
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}

	// others: 0.3, 0.2 scaled by 0.8/0.5 = 1.6
	if w := weightAt(got, 10); w != 0.2 {
		t.Errorf("edited weight = %v, want 0.2", w)
	}
	if w := weightAt(got, 20); math.Abs(w-0.48) > 1e-9 {
		t.Errorf("weight@20 = %v, want 0.48", w)
	}
	if w := weightAt(got, 30); math.Abs(w-0.32) > 1e-9 {
		t.Errorf("weight@30 = %v, want 0.32", w)
	}
	if total := Total(got); math.Abs(total-1) > Tolerance {
		t.Errorf("total = %v, want 1", total)
	}
}

func TestRebalanceDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 0.5}, {20, 0.5}}
	if _, err := Rebalance(points, 10, 0.1); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if points[0].Weight != 0.5 || points[1].Weight != 0.5 {
		t.Errorf("input mutated: %+v", points)
	}
}

func TestRebalanceKeepsFrozenPoints(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 0.6}, {20, 0}, {30, 0.4}, {40, 0}}
	got, err := Rebalance(points, 30, 0.1)
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}

	if w := weightAt(got, 20); w != 0 {
		t.Errorf("frozen weight@20 = %v, want 0", w)
	}
	if w := weightAt(got, 40); w != 0 {
		t.Errorf("frozen weight@40 = %v, want 0", w)
	}
	if w := weightAt(got, 10); math.Abs(w-0.9) > 1e-9 {
		t.Errorf("weight@10 = %v, want 0.9", w)
	}
}

func TestRebalanceDraggingFrozenPoint(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 0.5}, {20, 0.5}, {30, 0}}
	got, err := Rebalance(points, 30, 0.5)
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}

	want := map[int]float64{10: 0.25, 20: 0.25, 30: 0.5}
	for price, w := range want {
		if math.Abs(weightAt(got, price)-w) > 1e-9 {
			t.Errorf("weight@%d = %v, want %v", price, weightAt(got, price), w)
		}
	}
}

func TestRebalanceAllZeroTakesFullWeight(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 0}, {20, 0}, {30, 0}}
	got, err := Rebalance(points, 20, 0.3)
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}

	if w := weightAt(got, 20); w != 1 {
		t.Errorf("weight@20 = %v, want 1", w)
	}
	if weightAt(got, 10) != 0 || weightAt(got, 30) != 0 {
		t.Errorf("other points moved: %+v", got)
	}
}

func TestRebalanceAllZeroResultIsInvariantViolation(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 1}, {20, 0}}
	got, err := Rebalance(points, 10, 0)
	if !errors.Is(err, types.ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}
	if len(got) != 2 {
		t.Errorf("expected points returned alongside the error, got %+v", got)
	}
}

func TestRebalanceFullWeightFreezesOthers(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 0.5}, {20, 0.5}}
	got, err := Rebalance(points, 10, 1)
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if weightAt(got, 10) != 1 || weightAt(got, 20) != 0 {
		t.Errorf("got %+v, want 10→1 20→0", got)
	}
}

func TestRebalanceRejectsBadInput(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 0.5}, {20, 0.5}}

	tests := []struct {
		name  string
		price int
		w     float64
		want  error
	}{
		{"negative weight", 10, -0.1, types.ErrInvalidInput},
		{"weight above one", 10, 1.5, types.ErrInvalidInput},
		{"nan weight", 10, math.NaN(), types.ErrInvalidInput},
		{"unknown price", 55, 0.2, types.ErrInvalidOperation},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Rebalance(points, tt.price, tt.w); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRebalanceSumInvariantAcrossEdits(t *testing.T) {
	t.Parallel()

	points, err := Generate(TypeBell, Params{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	points, _ = Rebalance(points, 10, 0) // freeze one point

	edits := []struct {
		price int
		w     float64
	}{
		{50, 0.5}, {20, 0.05}, {90, 0.33}, {70, 0}, {30, 0.41}, {50, 0.12},
	}
	for _, e := range edits {
		before := points
		points, err = Rebalance(points, e.price, e.w)
		if err != nil {
			t.Fatalf("Rebalance(%d, %v): %v", e.price, e.w, err)
		}
		if total := Total(points); math.Abs(total-1) > Tolerance {
			t.Fatalf("after edit %+v total = %v", e, total)
		}
		for _, p := range before {
			if p.Weight == 0 && p.Price != e.price && weightAt(points, p.Price) != 0 {
				t.Fatalf("frozen point %d moved to %v", p.Price, weightAt(points, p.Price))
			}
		}
	}
}

func TestAddPoint(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 0.5}, {30, 0.5}}
	got, err := AddPoint(points, 20)
	if err != nil {
		t.Fatalf("AddPoint: %v", err)
	}
	if len(got) != 3 || got[1].Price != 20 || got[1].Weight != 0 {
		t.Errorf("got %+v, want new zero point at index 1", got)
	}
	if Total(got) != 1 {
		t.Errorf("total changed to %v", Total(got))
	}

	if _, err := AddPoint(points, 10); !errors.Is(err, types.ErrInvalidOperation) {
		t.Errorf("duplicate price err = %v, want ErrInvalidOperation", err)
	}
	if _, err := AddPoint(points, 100); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("out-of-range err = %v, want ErrInvalidInput", err)
	}
}

func TestRemovePoint(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 0.5}, {20, 0.3}, {30, 0.2}}
	got, err := RemovePoint(points, 10, true)
	if err != nil {
		t.Fatalf("RemovePoint: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if math.Abs(weightAt(got, 20)-0.6) > 1e-9 || math.Abs(weightAt(got, 30)-0.4) > 1e-9 {
		t.Errorf("got %+v, want 20→0.6 30→0.4", got)
	}
}

func TestRemovePointOnlyWeightedPoint(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 1}, {20, 0}, {30, 0}}
	got, err := RemovePoint(points, 10, true)
	if err != nil {
		t.Fatalf("RemovePoint: %v", err)
	}
	if weightAt(got, 20) != 0.5 || weightAt(got, 30) != 0.5 {
		t.Errorf("got %+v, want even split", got)
	}
}

func TestRemoveLastPoint(t *testing.T) {
	t.Parallel()

	points := []Point{{10, 1}}
	if _, err := RemovePoint(points, 10, true); !errors.Is(err, types.ErrInvalidOperation) {
		t.Errorf("err = %v, want ErrInvalidOperation", err)
	}

	got, err := RemovePoint(points, 10, false)
	if err != nil {
		t.Fatalf("RemovePoint: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want empty curve", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		points []Point
		want   error
	}{
		{"empty", nil, nil},
		{"valid", []Point{{10, 0.5}, {20, 0.5}}, nil},
		{"within tolerance", []Point{{10, 0.5}, {20, 0.5004}}, nil},
		{"sum off", []Point{{10, 0.5}, {20, 0.4}}, types.ErrInvariantViolation},
		{"duplicate", []Point{{10, 0.5}, {10, 0.5}}, types.ErrInvalidInput},
		{"price zero", []Point{{0, 1}}, types.ErrInvalidInput},
		{"negative", []Point{{10, -0.5}, {20, 1.5}}, types.ErrInvalidInput},
	}

	for _, tt := range tests {
		err := Validate(tt.points)
		if tt.want == nil && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestGeneratePresets(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{TypeFlat, TypeLinear, TypeBell, TypeExponential} {
		points, err := Generate(typ, Params{MinPrice: 5, MaxPrice: 95, Step: 5})
		if err != nil {
			t.Fatalf("Generate(%s): %v", typ, err)
		}
		if len(points) != 19 {
			t.Errorf("Generate(%s) produced %d points, want 19", typ, len(points))
		}
		if err := Validate(points); err != nil {
			t.Errorf("Generate(%s) invalid: %v", typ, err)
		}
	}
}

func TestGenerateBellPeaksAtCenter(t *testing.T) {
	t.Parallel()

	points, err := Generate(TypeBell, Params{Center: 40})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	peak := points[0]
	for _, p := range points {
		if p.Weight > peak.Weight {
			peak = p
		}
	}
	if peak.Price != 40 {
		t.Errorf("peak at %d, want 40", peak.Price)
	}
}

func TestGenerateLinearDescending(t *testing.T) {
	t.Parallel()

	points, err := Generate(TypeLinear, Params{Slope: -2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if points[0].Weight <= points[len(points)-1].Weight {
		t.Errorf("expected descending weights, got %+v", points)
	}
}

func TestGenerateRejectsUnknownType(t *testing.T) {
	t.Parallel()

	if _, err := Generate(Type("zigzag"), Params{}); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestNewShapeCustom(t *testing.T) {
	t.Parallel()

	s, err := NewShape("tails", TypeCustom, Params{}, []Point{{90, 2}, {10, 2}})
	if err != nil {
		t.Fatalf("NewShape: %v", err)
	}
	if s.ID == "" {
		t.Error("expected an id")
	}
	if s.Points[0].Price != 10 || s.Points[0].Weight != 0.5 {
		t.Errorf("points = %+v, want sorted and normalized", s.Points)
	}
}

func TestLoadPresets(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shapes.yaml")
	data := `
shapes:
  - name: center-heavy
    type: bell
    default: true
    params:
      center: 50
      spread: 10
  - name: two-level
    type: custom
    points:
      - {price: 20, weight: 1}
      - {price: 80, weight: 3}
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	shapes, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	if len(shapes) != 2 {
		t.Fatalf("len = %d, want 2", len(shapes))
	}
	if !shapes[0].IsDefault || shapes[1].IsDefault {
		t.Errorf("default flags = %v/%v, want true/false", shapes[0].IsDefault, shapes[1].IsDefault)
	}
	if w := weightAt(shapes[1].Points, 80); w != 0.75 {
		t.Errorf("two-level weight@80 = %v, want 0.75", w)
	}
}
