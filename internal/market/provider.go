// Package market aggregates upstream price feeds into the single
// MarketDataProvider the monitor and buy flow consume.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cachelabs/solsniper/internal/domain"
)

// dexScreenerLimitKey is the shared rate-limit bucket for DexScreener
// lookups across every monitor goroutine and instance.
const dexScreenerLimitKey = "dexscreener"

// tokenCacheTTL bounds how long a cached full snapshot may stand in for a
// failed refresh.
const tokenCacheTTL = 60 * time.Second

// FastPriceFeed is the low-latency price-only upstream (Jupiter).
type FastPriceFeed interface {
	Price(ctx context.Context, address string) (float64, error)
}

// TokenFeed is the full market-data upstream (DexScreener).
type TokenFeed interface {
	Token(ctx context.Context, address, preferredDex string) (domain.MarketData, domain.Momentum, error)
}

// Provider implements domain.MarketDataProvider over a fast price feed and a
// rate-limited full-data feed, with Redis-backed last-known-good caches.
type Provider struct {
	fast    FastPriceFeed
	full    TokenFeed
	prices  domain.PriceCache
	tokens  domain.MarketDataCache
	limiter domain.RateLimiter

	limitPerSec int
	log         *slog.Logger
}

// NewProvider creates a Provider. limitPerSec caps full-data lookups; zero
// disables rate limiting.
func NewProvider(
	fast FastPriceFeed,
	full TokenFeed,
	prices domain.PriceCache,
	tokens domain.MarketDataCache,
	limiter domain.RateLimiter,
	limitPerSec int,
	log *slog.Logger,
) *Provider {
	return &Provider{
		fast:        fast,
		full:        full,
		prices:      prices,
		tokens:      tokens,
		limiter:     limiter,
		limitPerSec: limitPerSec,
		log:         log.With("component", "market"),
	}
}

// FastPrice returns the current price from the low-latency feed and records
// it as the last known good price for the address.
func (p *Provider) FastPrice(ctx context.Context, address string) (float64, error) {
	price, err := p.fast.Price(ctx, address)
	if err != nil {
		return 0, err
	}

	if cacheErr := p.prices.SetPrice(ctx, address, price, time.Now().UTC()); cacheErr != nil {
		p.log.Warn("price cache write failed", "address", address, "error", cacheErr)
	}
	return price, nil
}

// Observe fetches a full market snapshot and momentum, falling back to the
// cached snapshot (with empty momentum) when the upstream fails or the
// shared rate limit is saturated.
func (p *Provider) Observe(ctx context.Context, address, preferredDex string) (domain.MarketData, domain.Momentum, error) {
	data, momentum, err := p.lookup(ctx, address, preferredDex)
	if err == nil {
		return data, momentum, nil
	}

	cached, cacheErr := p.tokens.GetTokenData(ctx, address)
	if cacheErr == nil {
		p.log.Debug("serving cached token data", "address", address, "error", err)
		return cached, domain.Momentum{}, nil
	}
	if !errors.Is(cacheErr, domain.ErrNotFound) {
		p.log.Warn("token cache read failed", "address", address, "error", cacheErr)
	}
	return domain.MarketData{}, domain.Momentum{}, err
}

// LastGoodPrice returns the most recent successfully fetched price.
func (p *Provider) LastGoodPrice(ctx context.Context, address string) (float64, time.Time, error) {
	return p.prices.GetPrice(ctx, address)
}

// lookup performs one rate-limited upstream fetch and refreshes both caches
// on success.
func (p *Provider) lookup(ctx context.Context, address, preferredDex string) (domain.MarketData, domain.Momentum, error) {
	if p.limitPerSec > 0 {
		allowed, err := p.limiter.Allow(ctx, dexScreenerLimitKey, p.limitPerSec, time.Second)
		if err != nil {
			p.log.Warn("rate limiter unavailable, proceeding", "error", err)
		} else if !allowed {
			return domain.MarketData{}, domain.Momentum{}, fmt.Errorf("market: dexscreener rate limit saturated")
		}
	}

	data, momentum, err := p.full.Token(ctx, address, preferredDex)
	if err != nil {
		return domain.MarketData{}, domain.Momentum{}, err
	}

	now := time.Now().UTC()
	if cacheErr := p.tokens.SetTokenData(ctx, address, data, tokenCacheTTL); cacheErr != nil {
		p.log.Warn("token cache write failed", "address", address, "error", cacheErr)
	}
	if cacheErr := p.prices.SetPrice(ctx, address, data.Price, now); cacheErr != nil {
		p.log.Warn("price cache write failed", "address", address, "error", cacheErr)
	}
	return data, momentum, nil
}

// Compile-time interface check.
var _ domain.MarketDataProvider = (*Provider)(nil)
