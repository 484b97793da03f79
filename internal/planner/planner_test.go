package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidity-mm/internal/risk"
	"liquidity-mm/internal/shape"
	"liquidity-mm/pkg/types"
)

func baseInput() Input {
	return Input{
		Settings: Settings{
			MaxAcceptableLoss: 1_000_000,
			TotalLiquidity:    1_000_000,
			GlobalMultiplier:  1,
			IsActive:          true,
		},
		Curve:   []shape.Point{{Price: 10, Weight: 0.5}, {Price: 20, Weight: 0.5}},
		Weights: map[string]float64{"m1": 1},
		Balance: types.Balance{Balance: 1_000_000},
		Now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestComputeWorkedExample(t *testing.T) {
	plan, err := Compute(baseInput())
	require.NoError(t, err)

	assert.Equal(t, StatusOK, plan.Status)
	assert.Equal(t, "1000000", plan.DeployableBudget.String())
	require.Len(t, plan.Markets, 1)

	m := plan.Markets[0]
	assert.Equal(t, "1000000", m.Budget.String())
	require.Len(t, m.Orders, 2)
	assert.Equal(t, types.Order{MarketID: "m1", Side: types.YES, Price: 10, Amount: 500_000, Cost: 450_000}, m.Orders[0])
	assert.Equal(t, types.Order{MarketID: "m1", Side: types.YES, Price: 20, Amount: 500_000, Cost: 400_000}, m.Orders[1])

	assert.Equal(t, int64(850_000), plan.TotalCost)
	assert.Equal(t, 2, plan.TotalOrders)
	assert.Equal(t, 1, plan.TotalMarkets)
	assert.True(t, plan.HasSufficientBalance)
	assert.Zero(t, plan.Shortfall)
	assert.Empty(t, plan.Warnings)
}

func TestComputeInactiveIgnoresEverythingElse(t *testing.T) {
	in := baseInput()
	in.Settings.IsActive = false
	in.Settings.MaxAcceptableLoss = -1
	in.Exposure = -5
	in.Weights["bad"] = -3

	plan, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, plan.Status)
	assert.Empty(t, plan.Orders())
	assert.Zero(t, plan.TotalCost)
	assert.NotEmpty(t, plan.Warnings)
}

func TestComputeRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Input)
	}{
		{"zero max loss", func(in *Input) { in.Settings.MaxAcceptableLoss = 0 }},
		{"zero total liquidity", func(in *Input) { in.Settings.TotalLiquidity = 0 }},
		{"negative total liquidity", func(in *Input) { in.Settings.TotalLiquidity = -5 }},
		{"negative balance", func(in *Input) { in.Balance.Balance = -1 }},
		{"negative refund", func(in *Input) { in.Balance.ExistingOrdersRefund = -1 }},
		{"negative exposure", func(in *Input) { in.Exposure = -1 }},
		{"negative multiplier", func(in *Input) { in.Settings.GlobalMultiplier = -0.5 }},
		{"weight above one", func(in *Input) { in.Weights["m1"] = 1.5 }},
		{"unnormalized curve", func(in *Input) { in.Curve = []shape.Point{{Price: 10, Weight: 0.4}} }},
		{"price out of range", func(in *Input) { in.Curve = []shape.Point{{Price: 100, Weight: 1}} }},
		{"rising thresholds", func(in *Input) {
			in.Thresholds = []risk.Threshold{{ExposurePercent: 10, PullbackPercent: 20}, {ExposurePercent: 20, PullbackPercent: 40}}
		}},
		{"bad override mode", func(in *Input) { in.Overrides = map[string]Override{"m1": {Mode: "double"}} }},
		{"empty custom curve", func(in *Input) { in.Overrides = map[string]Override{"m1": {Mode: OverrideCustomCurve}} }},
		{"bad offer side", func(in *Input) { in.OfferSide = "MAYBE" }},
		{"bad cross rule", func(in *Input) { in.CrossRule = "lt" }},
		{"negative min units", func(in *Input) { in.MinOrderUnits = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.edit(&in)
			_, err := Compute(in)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}
}

func TestComputeAppliesPullback(t *testing.T) {
	in := baseInput()
	in.Settings.MaxAcceptableLoss = 10_000_000
	in.Balance.Balance = 10_000_000
	in.Exposure = 5_000_000

	plan, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, 50.0, plan.ExposurePct)
	assert.Equal(t, 0.5, plan.PullbackMultiplier)
	assert.Equal(t, "5000000", plan.DeployableBudget.String())
	assert.Equal(t, int64(2_500_000), plan.Markets[0].Orders[0].Amount)

	in.Thresholds = []risk.Threshold{{ExposurePercent: 25, PullbackPercent: 75}, {ExposurePercent: 50, PullbackPercent: 50}}
	in.Exposure = 3_000_000
	plan, err = Compute(in)
	require.NoError(t, err)
	assert.Equal(t, 0.75, plan.PullbackMultiplier)
	assert.Equal(t, "7500000", plan.DeployableBudget.String())
}

func TestComputeExposurePastCapDeploysNothing(t *testing.T) {
	in := baseInput()
	in.Exposure = 1_200_000

	plan, err := Compute(in)
	require.NoError(t, err)
	assert.Zero(t, plan.PullbackMultiplier)
	assert.Empty(t, plan.Orders())
	assert.Zero(t, plan.TotalMarkets)
	assert.NotEmpty(t, plan.Warnings)
}

func TestComputeBudgetChain(t *testing.T) {
	in := baseInput()
	in.Settings.MaxAcceptableLoss = 600_000
	in.Settings.TotalLiquidity = 2_000_000
	in.Settings.GlobalMultiplier = 0.5
	in.Balance = types.Balance{Balance: 700_000, ExistingOrdersRefund: 300_000}

	plan, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), plan.EffectiveBalance)
	assert.Equal(t, "600000", plan.MaxBudget.String())
	assert.Equal(t, "300000", plan.DisplayedLiquidity.String())
	assert.Equal(t, "300000", plan.DeployableBudget.String())
	assert.Contains(t, plan.Warnings[0], "below configured total liquidity")
}

func TestComputeInsufficientBalance(t *testing.T) {
	in := baseInput()
	in.Settings.GlobalMultiplier = 2

	plan, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000), plan.TotalCost)
	assert.False(t, plan.HasSufficientBalance)
	assert.Equal(t, int64(700_000), plan.Shortfall)
	require.NotEmpty(t, plan.Warnings)
	assert.Contains(t, plan.Warnings[len(plan.Warnings)-1], "shortfall 700000")
}

func TestComputeStatuses(t *testing.T) {
	in := baseInput()
	in.Weights = map[string]float64{"m1": 0, "m2": 0}
	plan, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, StatusNoMarketsWeighted, plan.Status)
	assert.Empty(t, plan.Markets)

	in = baseInput()
	in.Curve = nil
	plan, err = Compute(in)
	require.NoError(t, err)
	assert.Equal(t, StatusNoCurve, plan.Status)
	assert.Empty(t, plan.Orders())
}

func TestComputeOverrides(t *testing.T) {
	in := baseInput()
	in.Weights = map[string]float64{"a": 0.25, "b": 0.25, "c": 0.5}
	in.Overrides = map[string]Override{
		"a": {Mode: OverrideDisable},
		"b": {Mode: OverrideMultiply, Multiplier: 0.5},
		"c": {Mode: OverrideCustomCurve, Curve: []shape.Point{{Price: 40, Weight: 1}}},
	}

	plan, err := Compute(in)
	require.NoError(t, err)
	require.Len(t, plan.Markets, 3)

	a, b, c := plan.Markets[0], plan.Markets[1], plan.Markets[2]
	assert.Equal(t, "a", a.MarketID)
	assert.Empty(t, a.Orders)
	assert.True(t, a.Budget.IsZero())

	assert.Equal(t, "125000", b.Budget.String())
	require.Len(t, b.Orders, 2)
	assert.Equal(t, int64(62_500), b.Orders[0].Amount)

	require.Len(t, c.Orders, 1)
	assert.Equal(t, 40, c.Orders[0].Price)
	assert.Equal(t, int64(500_000), c.Orders[0].Amount)
	assert.Equal(t, int64(300_000), c.Orders[0].Cost)

	assert.Equal(t, 2, plan.TotalMarkets)
	assert.Equal(t, 3, plan.TotalOrders)
}

func TestComputeDropsDust(t *testing.T) {
	in := baseInput()
	in.MinOrderUnits = 600_000

	plan, err := Compute(in)
	require.NoError(t, err)
	assert.Empty(t, plan.Orders())
	assert.Equal(t, 2, plan.Markets[0].Dropped)
	assert.Zero(t, plan.TotalMarkets)
	assert.Contains(t, plan.Warnings[0], "2 orders below the minimum size")
}

func TestComputeTotalCostIsSumOfOrderCosts(t *testing.T) {
	in := baseInput()
	in.Settings.MaxAcceptableLoss = 9_999_991
	in.Balance.Balance = 9_999_991
	in.Settings.GlobalMultiplier = 0.77
	in.Curve = shape.Normalize([]shape.Point{{Price: 3, Weight: 1}, {Price: 17, Weight: 1}, {Price: 51, Weight: 1}, {Price: 98, Weight: 1}})
	in.Weights = map[string]float64{"x": 1.0 / 3, "y": 1.0 / 7, "z": 0.5}
	in.OfferSide = types.NO

	plan, err := Compute(in)
	require.NoError(t, err)

	var sum int64
	for _, o := range plan.Orders() {
		assert.Equal(t, types.NO, o.Side)
		assert.Equal(t, OrderCost(o.Amount, o.Price), o.Cost)
		sum += o.Cost
	}
	assert.Equal(t, sum, plan.TotalCost)
	assert.LessOrEqual(t, plan.TotalAmount, plan.DeployableBudget.IntPart())
}

func TestOrderCost(t *testing.T) {
	tests := []struct {
		amount int64
		price  int
		want   int64
	}{
		{500_000, 10, 450_000},
		{1, 50, 1},
		{3, 67, 1},
		{101, 1, 100},
		{0, 10, 0},
		{100, 99, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OrderCost(tt.amount, tt.price), "OrderCost(%d, %d)", tt.amount, tt.price)
	}
}

func TestSettingsValidate(t *testing.T) {
	ok := Settings{MaxAcceptableLoss: 1, TotalLiquidity: 1, GlobalMultiplier: 1, IsActive: true}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.TotalLiquidity = 0
	assert.ErrorIs(t, bad.Validate(), types.ErrInvalidInput)

	bad = ok
	bad.MaxAcceptableLoss = 0
	assert.ErrorIs(t, bad.Validate(), types.ErrInvalidInput)
}
