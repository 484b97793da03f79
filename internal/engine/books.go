package engine

import (
	"liquidity-mm/internal/tier"
)

// consumeBooks feeds streamed book snapshots into the cache.
func (e *Engine) consumeBooks() {
	events := e.deps.Feed.BookEvents()
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			e.books.Apply(evt)
		}
	}
}

// syncSubscriptions makes the stream follow the tiered markets: new markets
// are subscribed, dropped ones unsubscribed and evicted from the cache.
func (e *Engine) syncSubscriptions() {
	feed := e.deps.Feed
	if feed == nil {
		return
	}

	want := tier.EffectiveWeights(e.State().Tiers)
	have := make(map[string]bool)
	for _, id := range feed.Subscribed() {
		have[id] = true
	}

	var add, drop []string
	for _, id := range sortedKeys(want) {
		if !have[id] {
			add = append(add, id)
		}
	}
	for _, id := range sortedKeys(have) {
		if _, ok := want[id]; !ok {
			drop = append(drop, id)
		}
	}

	if len(add) > 0 {
		if err := feed.Subscribe(add); err != nil {
			e.logger.Warn("subscribe books", "markets", add, "error", err)
		}
	}
	if len(drop) > 0 {
		if err := feed.Unsubscribe(drop); err != nil {
			e.logger.Warn("unsubscribe books", "markets", drop, "error", err)
		}
		for _, id := range drop {
			e.books.Remove(id)
		}
	}
}
