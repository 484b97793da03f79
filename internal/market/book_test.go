package market

import (
	"testing"
	"time"

	"liquidity-mm/pkg/types"
)

func testBooks(now *time.Time) *Books {
	b := NewBooks()
	b.now = func() time.Time { return *now }
	return b
}

func TestBooksApplyAndGet(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := testBooks(&now)

	b.Apply(types.WSBookEvent{
		EventType: "book",
		MarketID:  "m1",
		Orders: []types.RestingOrder{
			{ID: "r1", Side: types.NO, Price: 60, Remaining: 100},
		},
		Timestamp: now.UnixMilli(),
	})

	snap, fresh := b.Get("m1", time.Minute)
	if !fresh {
		t.Fatal("expected fresh snapshot")
	}
	if len(snap.Orders) != 1 || snap.Orders[0].ID != "r1" {
		t.Fatalf("orders = %+v", snap.Orders)
	}
	if !snap.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", snap.Timestamp, now)
	}

	// callers get a copy
	snap.Orders[0].Remaining = 1
	again, _ := b.Get("m1", time.Minute)
	if again.Orders[0].Remaining != 100 {
		t.Errorf("cache mutated through returned snapshot: %d", again.Orders[0].Remaining)
	}
}

func TestBooksStaleness(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := testBooks(&now)

	if !b.IsStale("m1", time.Minute) {
		t.Error("unknown market should be stale")
	}

	b.Set(types.BookSnapshot{MarketID: "m1"})
	if b.IsStale("m1", time.Minute) {
		t.Error("just-set market should not be stale")
	}

	now = now.Add(2 * time.Minute)
	if !b.IsStale("m1", time.Minute) {
		t.Error("expected stale after max age")
	}
	if _, fresh := b.Get("m1", time.Minute); fresh {
		t.Error("Get reported fresh for stale book")
	}
}

func TestBooksMarketsAndRemove(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := testBooks(&now)
	b.Set(types.BookSnapshot{MarketID: "m2"})
	b.Set(types.BookSnapshot{MarketID: "m1"})

	got := b.Markets()
	if len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("Markets() = %v", got)
	}

	b.Remove("m1")
	if _, fresh := b.Get("m1", time.Hour); fresh {
		t.Error("removed market still present")
	}
	if len(b.Markets()) != 1 {
		t.Errorf("Markets() = %v after remove", b.Markets())
	}
}
