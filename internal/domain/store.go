package domain

import (
	"context"
	"time"
)

// PositionStore is the single source of truth for mutable position state.
// Update must write status, PnL, and metadata in one atomic statement so
// concurrent monitors for different positions never observe torn rows.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Get(ctx context.Context, address string) (Position, error)
	// Update persists every mutable field of the position in one statement.
	Update(ctx context.Context, p Position) error
	// SetStatus flips only the status column (used by the manual sell-request
	// endpoint so it cannot clobber monitor-owned fields).
	SetStatus(ctx context.Context, address string, status PositionStatus) error
	// ListActive returns all non-terminal positions (crash recovery).
	ListActive(ctx context.Context) ([]Position, error)
	// ListClosedBefore returns closed positions whose close time is strictly
	// before the cutoff (archival).
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)

	// AppendSell appends one record to the position's sell ledger and bumps
	// the position's cumulative sold fraction in the same transaction.
	AppendSell(ctx context.Context, rec SellRecord) error
	ListSells(ctx context.Context, address string) ([]SellRecord, error)

	AddSnapshot(ctx context.Context, snap Snapshot) error
}

// PriceCache stores the last-known-good price per token address. It is the
// final link of the monitor's price fallback chain and survives restarts.
type PriceCache interface {
	SetPrice(ctx context.Context, address string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, address string) (float64, time.Time, error)
}

// MarketDataCache stores recent full market-data lookups per token address so
// restarts and refresh failures can fall back to the last good observation.
type MarketDataCache interface {
	SetTokenData(ctx context.Context, address string, data MarketData, ttl time.Duration) error
	GetTokenData(ctx context.Context, address string) (MarketData, error)
}

// RateLimiter bounds outbound call volume against upstream market-data APIs
// and the HTTP surface. Allow counts the request when it is admitted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides cross-process mutual exclusion, used to guard against
// duplicate buys for the same token when more than one instance is running.
type LockManager interface {
	// Acquire returns an unlock func on success and ErrLockHeld when the
	// lock is owned elsewhere.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
