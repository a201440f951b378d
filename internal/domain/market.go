package domain

import (
	"context"
	"time"
)

// WrappedSOLMint is the mint address of wrapped SOL, the base currency for
// every swap this bot executes.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// MarketData is a full market snapshot for a token, as reported by the
// best-liquidity pair on the aggregator.
type MarketData struct {
	Price         float64
	PriceNative   float64 // price denominated in SOL
	Symbol        string
	MarketCapUSD  float64
	LiquidityUSD  float64
	Volume1hUSD   float64
	Volume24hUSD  float64
	DexID         string
	PairAddress   string
	PairCreatedAt time.Time
}

// SOLPriceUSD estimates the USD price of SOL from the USD/native price pair,
// falling back to the given default when the pair is incomplete.
func (d MarketData) SOLPriceUSD(fallback float64) float64 {
	if d.PriceNative > 0 && d.Price > 0 {
		return d.Price / d.PriceNative
	}
	return fallback
}

// Momentum holds recent buy/sell transaction counts used by the volume-decay
// rule, the entry filters, and snapshot collection.
type Momentum struct {
	Buys5m        int
	Sells5m       int
	Buys1h        int
	Sells1h       int
	PriceChange5m float64
}

// TxCount returns total 5-minute transactions.
func (m Momentum) TxCount() int {
	return m.Buys5m + m.Sells5m
}

// TxCount1h returns total 1-hour transactions.
func (m Momentum) TxCount1h() int {
	return m.Buys1h + m.Sells1h
}

// MarketDataProvider is the price/market-data lookup consumed by the monitor
// and the buy flow. Implementations aggregate multiple upstream feeds with
// fallback ordering; a miss is reported as ErrNoPrice, not a hard failure.
type MarketDataProvider interface {
	// FastPrice is the low-latency price-only lookup (short timeout).
	FastPrice(ctx context.Context, address string) (float64, error)
	// Observe fetches a full market snapshot and 5-minute momentum in one
	// upstream round trip, pinning to preferredDex when that pair still has
	// meaningful liquidity.
	Observe(ctx context.Context, address, preferredDex string) (MarketData, Momentum, error)
	// LastGoodPrice returns the most recent successfully fetched price for
	// the address, if any.
	LastGoodPrice(ctx context.Context, address string) (float64, time.Time, error)
}

// SwapRequest describes one swap submission to an exchange aggregator.
// Amounts are in UI units on both sides: SOL for buys, whole tokens for
// sells. Venues that need base units convert using Decimals.
type SwapRequest struct {
	InputMint   string
	OutputMint  string
	Amount      float64 // SOL for buys, UI token quantity for sells
	Decimals    int     // mint decimals of InputMint, set on sells
	IsBuy       bool
	PriorityFee float64 // SOL
}

// SwapExecutor submits a swap and returns the transaction signature.
// An empty signature with a nil error never occurs; failures return an error.
type SwapExecutor interface {
	Swap(ctx context.Context, req SwapRequest) (string, error)
}

// BalanceReader is the authoritative balance check used for external-sell
// detection and sell sizing. TokenBalance reports UI units, the same scale
// the swap venues price in.
type BalanceReader interface {
	TokenBalance(ctx context.Context, address string) (float64, error)
	TokenDecimals(ctx context.Context, address string) (int, error)
	SOLBalance(ctx context.Context) (float64, error)
}
