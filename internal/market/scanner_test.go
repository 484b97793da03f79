package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"liquidity-mm/internal/config"
	"liquidity-mm/internal/exchange"
)

type fakeLister struct {
	markets []exchange.MarketInfo
	calls   []int // offsets requested
	err     error
}

func (f *fakeLister) ListMarkets(_ context.Context, limit, offset int) ([]exchange.MarketInfo, error) {
	f.calls = append(f.calls, offset)
	if f.err != nil {
		return nil, f.err
	}
	if offset >= len(f.markets) {
		return nil, nil
	}
	end := min(offset+limit, len(f.markets))
	return f.markets[offset:end], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScannerPagesThroughMarkets(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{}
	for i := 0; i < 5; i++ {
		lister.markets = append(lister.markets, exchange.MarketInfo{
			ID:     string(rune('a' + i)),
			Score:  float64(i * 10),
			Active: true,
		})
	}

	s := NewScanner(lister, config.ScannerConfig{PageSize: 2}, discardLogger())
	scores, err := s.Scores(context.Background())
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if len(scores) != 5 {
		t.Fatalf("len(scores) = %d, want 5", len(scores))
	}
	if scores["c"] != 20 {
		t.Errorf("scores[c] = %v, want 20", scores["c"])
	}
	want := []int{0, 2, 4}
	if len(lister.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", lister.calls, want)
	}
	for i := range want {
		if lister.calls[i] != want[i] {
			t.Errorf("call %d offset = %d, want %d", i, lister.calls[i], want[i])
		}
	}
}

func TestScannerFilters(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{markets: []exchange.MarketInfo{
		{ID: "keep", Question: "Will it rain?", Active: true, EndDate: now.AddDate(0, 0, 10)},
		{ID: "closed", Active: true, Closed: true},
		{ID: "inactive", Active: false},
		{ID: "EXCLUDED", Active: true},
		{ID: "sports", Question: "Who wins the NBA final?", Active: true},
		{ID: "far", Active: true, EndDate: now.AddDate(1, 0, 0)},
		{ID: "no-end", Active: true},
	}}

	cfg := config.ScannerConfig{
		MaxEndDateDays:  30,
		ExcludeMarkets:  []string{"excluded"},
		ExcludeKeywords: []string{" NBA "},
	}
	s := NewScanner(lister, cfg, discardLogger())
	s.now = func() time.Time { return now }

	scores, err := s.Scores(context.Background())
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("scores = %v, want keep and no-end", scores)
	}
	for _, id := range []string{"keep", "no-end"} {
		if _, ok := scores[id]; !ok {
			t.Errorf("missing %q", id)
		}
	}
}

func TestScannerPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s := NewScanner(&fakeLister{err: boom}, config.ScannerConfig{}, discardLogger())
	if _, err := s.Scores(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}
