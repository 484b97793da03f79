// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot: sides, planned and
// resting orders, balance figures, book snapshots, activity records and the
// WebSocket payloads of the book feed. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is one of the two complementary outcomes of a binary market.
type Side string

const (
	YES Side = "YES"
	NO  Side = "NO"
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == YES {
		return NO
	}
	return YES
}

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == YES || s == NO
}

// Prices are integer percentages of implied probability.
const (
	MinPrice = 1
	MaxPrice = 99
)

// ValidPrice reports whether p is a quotable price.
func ValidPrice(p int) bool {
	return p >= MinPrice && p <= MaxPrice
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is a single planned offer. Amount is in units (sats of payout),
// Cost is what the bot locks up if the offer is taken in full.
type Order struct {
	MarketID string `json:"market_id"`
	Side     Side   `json:"side"`
	Price    int    `json:"price"`
	Amount   int64  `json:"amount"`
	Cost     int64  `json:"cost"`
}

// RestingOrder is an order already on the venue's book.
type RestingOrder struct {
	ID        string `json:"id"`
	Side      Side   `json:"side"`
	Price     int    `json:"price"`
	Remaining int64  `json:"remaining_amount"`
	Own       bool   `json:"own"` // placed by this bot; never counted as a cross
}

// BookSnapshot is a point-in-time view of one market's resting orders.
type BookSnapshot struct {
	MarketID  string         `json:"market_id"`
	Orders    []RestingOrder `json:"orders"`
	Timestamp time.Time      `json:"timestamp"`
}

// PlaceResult is the venue's answer to a batch placement.
type PlaceResult struct {
	OrderIDs []string `json:"order_ids"`
	Rejected int      `json:"rejected"`
}

// CancelResult is the venue's answer to a cancel-all for one market.
type CancelResult struct {
	CancelledCount int   `json:"cancelled_count"`
	Refund         int64 `json:"refund"`
}

// ————————————————————————————————————————————————————————————————————————
// Account
// ————————————————————————————————————————————————————————————————————————

// Balance is the spendable balance plus what cancelling the bot's current
// orders would return.
type Balance struct {
	Balance              int64 `json:"balance"`
	ExistingOrdersRefund int64 `json:"existing_orders_refund"`
}

// Effective returns balance + refund.
func (b Balance) Effective() int64 {
	return b.Balance + b.ExistingOrdersRefund
}

// ————————————————————————————————————————————————————————————————————————
// Activity log
// ————————————————————————————————————————————————————————————————————————

// Action names an operator- or timer-driven change recorded in the activity log.
type Action string

const (
	ActionDeploy       Action = "deploy"
	ActionWithdraw     Action = "withdraw"
	ActionConfigChange Action = "config_change"
)

// Activity is one entry of the write-only activity log.
type Activity struct {
	ID             string    `json:"id"`
	Action         Action    `json:"action"`
	Details        string    `json:"details"`
	ExposureBefore int64     `json:"exposure_before"`
	ExposureAfter  int64     `json:"exposure_after"`
	Timestamp      time.Time `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————
// The venue's book channel sends a full "book" snapshot per market whenever
// it changes. Subscriptions are keyed by market ID.

// WSBookEvent is a full resting-order snapshot for one market.
type WSBookEvent struct {
	EventType string         `json:"event_type"` // always "book"
	MarketID  string         `json:"market_id"`
	Orders    []RestingOrder `json:"orders"`
	Timestamp int64          `json:"timestamp"` // unix millis
}

// WSSubscribeMsg is sent on connect and on every subscription change.
type WSSubscribeMsg struct {
	Type      string   `json:"type"`      // "book"
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
	Markets   []string `json:"markets"`
}
