package planner

import (
	"fmt"
	"math"
	"time"

	"liquidity-mm/internal/risk"
	"liquidity-mm/internal/shape"
	"liquidity-mm/pkg/types"
)

// Settings is the operator-controlled budget configuration of one bot.
type Settings struct {
	MaxAcceptableLoss int64   `json:"max_acceptable_loss" yaml:"max_acceptable_loss" mapstructure:"max_acceptable_loss"`
	TotalLiquidity    int64   `json:"total_liquidity" yaml:"total_liquidity" mapstructure:"total_liquidity"`
	GlobalMultiplier  float64 `json:"global_multiplier" yaml:"global_multiplier" mapstructure:"global_multiplier"`
	IsActive          bool    `json:"is_active" yaml:"is_active" mapstructure:"is_active"`
}

// Validate checks the settings an operator may save.
func (s Settings) Validate() error {
	if s.MaxAcceptableLoss <= 0 {
		return fmt.Errorf("%w: max_acceptable_loss must be > 0, got %d", types.ErrInvalidInput, s.MaxAcceptableLoss)
	}
	if s.TotalLiquidity <= 0 {
		return fmt.Errorf("%w: total_liquidity must be > 0, got %d", types.ErrInvalidInput, s.TotalLiquidity)
	}
	if math.IsNaN(s.GlobalMultiplier) || math.IsInf(s.GlobalMultiplier, 0) || s.GlobalMultiplier < 0 {
		return fmt.Errorf("%w: global_multiplier must be >= 0, got %v", types.ErrInvalidInput, s.GlobalMultiplier)
	}
	return nil
}

// OverrideMode selects how a market deviates from the default allocation.
type OverrideMode string

const (
	OverrideDefault     OverrideMode = "default"
	OverrideDisable     OverrideMode = "disable"
	OverrideMultiply    OverrideMode = "multiply"
	OverrideCustomCurve OverrideMode = "custom_curve"
)

// Override is a per-market adjustment. Multiplier is read only in multiply
// mode and Curve only in custom_curve mode.
type Override struct {
	Mode       OverrideMode  `json:"mode"`
	Multiplier float64       `json:"multiplier,omitempty"`
	Curve      []shape.Point `json:"curve,omitempty"`
}

// Validate rejects unknown modes and unusable parameters.
func (o Override) Validate() error {
	switch o.Mode {
	case "", OverrideDefault, OverrideDisable:
	case OverrideMultiply:
		if math.IsNaN(o.Multiplier) || math.IsInf(o.Multiplier, 0) || o.Multiplier < 0 {
			return fmt.Errorf("%w: override multiplier %v", types.ErrInvalidInput, o.Multiplier)
		}
	case OverrideCustomCurve:
		if len(o.Curve) == 0 {
			return fmt.Errorf("%w: custom curve override without points", types.ErrInvalidInput)
		}
		if err := shape.Validate(o.Curve); err != nil {
			return fmt.Errorf("%w: custom curve: %w", types.ErrInvalidInput, err)
		}
	default:
		return fmt.Errorf("%w: unknown override mode %q", types.ErrInvalidInput, o.Mode)
	}
	return nil
}

// CrossRule decides when a new order at p and a complementary resting order
// at q execute against each other.
type CrossRule string

const (
	CrossGTE CrossRule = "gte" // p + q >= 100
	CrossGT  CrossRule = "gt"  // p + q > 100
)

// Crosses applies the rule to a pair of complementary prices.
func (r CrossRule) Crosses(p, q int) bool {
	if r == CrossGT {
		return p+q > 100
	}
	return p+q >= 100
}

// Valid reports whether r is a known rule. The empty rule means CrossGTE.
func (r CrossRule) Valid() bool {
	return r == "" || r == CrossGTE || r == CrossGT
}

// Input is a consistent snapshot of everything a plan depends on. Compute
// never mutates it.
type Input struct {
	Settings   Settings
	Curve      []shape.Point      // default shape curve
	Weights    map[string]float64 // market ID -> effective weight
	Thresholds []risk.Threshold
	Exposure   int64
	Balance    types.Balance
	Overrides  map[string]Override

	// Resting orders per market, used only for auto-match estimates.
	RestingOrders map[string][]types.RestingOrder
	BookAsOf      time.Time

	OfferSide     types.Side // defaults to YES
	MinOrderUnits int64      // orders below this are dropped; 0 means 1
	CrossRule     CrossRule
	Now           time.Time
}

func (in Input) validate() error {
	s := in.Settings
	if s.MaxAcceptableLoss <= 0 {
		return fmt.Errorf("%w: max_acceptable_loss %d", types.ErrInvalidInput, s.MaxAcceptableLoss)
	}
	if s.TotalLiquidity <= 0 {
		return fmt.Errorf("%w: total_liquidity %d", types.ErrInvalidInput, s.TotalLiquidity)
	}
	if !finite(s.GlobalMultiplier) || s.GlobalMultiplier < 0 {
		return fmt.Errorf("%w: global_multiplier %v", types.ErrInvalidInput, s.GlobalMultiplier)
	}
	if in.Balance.Balance < 0 || in.Balance.ExistingOrdersRefund < 0 {
		return fmt.Errorf("%w: balance %+v", types.ErrInvalidInput, in.Balance)
	}
	if in.Exposure < 0 {
		return fmt.Errorf("%w: exposure %d", types.ErrInvalidInput, in.Exposure)
	}
	if err := shape.Validate(in.Curve); err != nil {
		return fmt.Errorf("%w: default curve: %w", types.ErrInvalidInput, err)
	}
	if err := risk.ValidateThresholds(in.Thresholds); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	for id, w := range in.Weights {
		if !finite(w) || w < 0 || w > 1 {
			return fmt.Errorf("%w: market %q weight %v", types.ErrInvalidInput, id, w)
		}
	}
	for id, o := range in.Overrides {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("override %q: %w", id, err)
		}
	}
	if in.OfferSide != "" && !in.OfferSide.Valid() {
		return fmt.Errorf("%w: offer side %q", types.ErrInvalidInput, in.OfferSide)
	}
	if !in.CrossRule.Valid() {
		return fmt.Errorf("%w: cross rule %q", types.ErrInvalidInput, in.CrossRule)
	}
	if in.MinOrderUnits < 0 {
		return fmt.Errorf("%w: min order units %d", types.ErrInvalidInput, in.MinOrderUnits)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
