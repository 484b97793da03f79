package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidity-mm/internal/planner"
	"liquidity-mm/internal/risk"
	"liquidity-mm/internal/shape"
	"liquidity-mm/internal/tier"
	"liquidity-mm/pkg/types"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleState() State {
	return State{
		Settings: planner.Settings{
			MaxAcceptableLoss: 10_000_000,
			TotalLiquidity:    5_000_000,
			GlobalMultiplier:  0.8,
			IsActive:          true,
		},
		Curve:          []shape.Point{{Price: 10, Weight: 0.25}, {Price: 30, Weight: 0.75}},
		DefaultShapeID: "shape-1",
		Tiers: []tier.Tier{
			{Name: tier.S, BudgetPercent: 60, Markets: []tier.MarketWeight{
				{MarketID: "m1", Weight: 0.7, Locked: true},
				{MarketID: "m2", Weight: 0.3},
			}},
			{Name: tier.B, BudgetPercent: 40, Markets: []tier.MarketWeight{{MarketID: "m3", Weight: 1}}},
		},
		Thresholds: []risk.Threshold{
			{ExposurePercent: 25, PullbackPercent: 75},
			{ExposurePercent: 50, PullbackPercent: 50},
		},
		Overrides: map[string]planner.Override{
			"m2": {Mode: planner.OverrideMultiply, Multiplier: 1.5},
			"m3": {Mode: planner.OverrideCustomCurve, Curve: []shape.Point{{Price: 45, Weight: 1}}},
		},
		Placed: []string{"m1", "m9"},
	}
}

func TestSQLiteLoadEmpty(t *testing.T) {
	db := openTestDB(t)

	_, found, err := db.LoadState(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteStateRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	want := sampleState()
	require.NoError(t, db.SaveState(ctx, want))

	got, found, err := db.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}

func TestSQLiteSaveReplacesState(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveState(ctx, sampleState()))

	next := sampleState()
	next.Settings.IsActive = false
	next.Tiers = next.Tiers[:1]
	next.Tiers[0].BudgetPercent = 100
	next.Thresholds = nil
	delete(next.Overrides, "m3")
	next.Placed = []string{"m1"}
	require.NoError(t, db.SaveState(ctx, next))

	got, _, err := db.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, got.Settings.IsActive)
	require.Len(t, got.Tiers, 1)
	assert.Len(t, got.Tiers[0].Markets, 2)
	assert.Empty(t, got.Thresholds)
	assert.Len(t, got.Overrides, 1)
	assert.Equal(t, []string{"m1"}, got.Placed)
}

func TestSQLiteActivityLog(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	entries := []types.Activity{
		{ID: "a1", Action: types.ActionConfigChange, Details: "settings", Timestamp: base},
		{ID: "a2", Action: types.ActionDeploy, Details: "deploy 3 markets", ExposureBefore: 10, ExposureAfter: 500, Timestamp: base.Add(time.Minute)},
		{ID: "a3", Action: types.ActionWithdraw, Details: "withdraw", ExposureBefore: 500, ExposureAfter: 100, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, a := range entries {
		require.NoError(t, db.Record(ctx, a))
	}

	got, err := db.ListActivity(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entries[2], got[0])
	assert.Equal(t, entries[1], got[1])

	assert.Error(t, db.Record(ctx, types.Activity{Action: types.ActionDeploy}))
	assert.Error(t, db.Record(ctx, entries[0]), "duplicate id")
}
