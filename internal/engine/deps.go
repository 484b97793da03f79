package engine

import (
	"context"

	"liquidity-mm/internal/shape"
	"liquidity-mm/internal/store"
	"liquidity-mm/pkg/types"
)

// BalanceProvider reports the account's spendable balance.
type BalanceProvider interface {
	GetEffectiveBalance(ctx context.Context) (types.Balance, error)
}

// OrderBook reads and mutates one market's resting orders.
type OrderBook interface {
	GetRestingOrders(ctx context.Context, marketID string) (types.BookSnapshot, error)
	PlaceOrders(ctx context.Context, marketID string, orders []types.Order) (types.PlaceResult, error)
	CancelAllOrders(ctx context.Context, marketID string) (types.CancelResult, error)
}

// ExposureSource reports current aggregate exposure in sats.
type ExposureSource interface {
	GetExposure(ctx context.Context) (int64, error)
}

// ScoreSource reports a market's likelihood score.
type ScoreSource interface {
	GetScore(ctx context.Context, marketID string) (float64, error)
}

// ActivityLog is the write-only sink for deploy/withdraw/config changes.
type ActivityLog interface {
	Record(ctx context.Context, a types.Activity) error
}

// StateStore persists bot state across restarts.
type StateStore interface {
	SaveState(ctx context.Context, st store.State) error
	LoadState(ctx context.Context) (store.State, bool, error)
}

// ShapeLibrary stores named curve shapes.
type ShapeLibrary interface {
	Save(sh shape.Shape) error
	Load(id string) (*shape.Shape, error)
	List() ([]shape.Shape, error)
	Default() (*shape.Shape, error)
	SetDefault(id string) error
}

// MarketScanner lists every scoreable market on the venue.
type MarketScanner interface {
	Scores(ctx context.Context) (map[string]float64, error)
}

// BookStream streams book snapshots for subscribed markets.
type BookStream interface {
	Run(ctx context.Context) error
	BookEvents() <-chan types.WSBookEvent
	Subscribe(ids []string) error
	Unsubscribe(ids []string) error
	Subscribed() []string
	Close() error
}

// Deps are the engine's collaborators. Balance, Orders, Exposure and Activity
// are required; the rest are optional and disable their feature when nil.
type Deps struct {
	Balance  BalanceProvider
	Orders   OrderBook
	Exposure ExposureSource
	Scores   ScoreSource
	Activity ActivityLog

	State   StateStore
	Shapes  ShapeLibrary
	Scanner MarketScanner
	Feed    BookStream
}
