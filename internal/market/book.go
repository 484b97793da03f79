// Package market keeps the local view of the venue's markets.
//
// Books mirrors the resting orders of every tracked market. It is updated
// from two sources:
//   - REST snapshots via Set (fallback when the stream is stale)
//   - WebSocket "book" events via Apply
//
// Books is concurrency-safe (RWMutex protected). The planner reads resting
// orders from it for auto-match estimates; a snapshot older than the
// configured max age is reported as stale so the engine refetches over REST.
package market

import (
	"sort"
	"sync"
	"time"

	"liquidity-mm/pkg/types"
)

type entry struct {
	snap    types.BookSnapshot
	updated time.Time // local receive time, used for staleness
}

// Books maintains the latest resting-order snapshot per market.
type Books struct {
	mu    sync.RWMutex
	books map[string]entry
	now   func() time.Time
}

// NewBooks creates an empty book cache.
func NewBooks() *Books {
	return &Books{
		books: make(map[string]entry),
		now:   time.Now,
	}
}

// Apply replaces a market's book with a streamed snapshot.
func (b *Books) Apply(event types.WSBookEvent) {
	ts := b.now().UTC()
	if event.Timestamp > 0 {
		ts = time.UnixMilli(event.Timestamp).UTC()
	}
	b.Set(types.BookSnapshot{MarketID: event.MarketID, Orders: event.Orders, Timestamp: ts})
}

// Set replaces a market's book with a snapshot.
func (b *Books) Set(snap types.BookSnapshot) {
	orders := make([]types.RestingOrder, len(snap.Orders))
	copy(orders, snap.Orders)
	snap.Orders = orders

	b.mu.Lock()
	defer b.mu.Unlock()
	b.books[snap.MarketID] = entry{snap: snap, updated: b.now()}
}

// Get returns a copy of a market's snapshot and whether it is fresh
// (received within maxAge).
func (b *Books) Get(marketID string, maxAge time.Duration) (types.BookSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.books[marketID]
	if !ok {
		return types.BookSnapshot{}, false
	}
	snap := e.snap
	snap.Orders = make([]types.RestingOrder, len(e.snap.Orders))
	copy(snap.Orders, e.snap.Orders)
	return snap, b.now().Sub(e.updated) <= maxAge
}

// IsStale returns true if the market's book hasn't been updated within maxAge.
func (b *Books) IsStale(marketID string, maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.books[marketID]
	if !ok {
		return true
	}
	return b.now().Sub(e.updated) > maxAge
}

// Remove forgets a market.
func (b *Books) Remove(marketID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.books, marketID)
}

// Markets returns the tracked market IDs in sorted order.
func (b *Books) Markets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.books))
	for id := range b.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
