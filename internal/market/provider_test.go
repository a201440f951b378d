package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachelabs/solsniper/internal/domain"
)

type fakeFast struct {
	price float64
	err   error
	calls int
}

func (f *fakeFast) Price(ctx context.Context, address string) (float64, error) {
	f.calls++
	return f.price, f.err
}

type fakeFull struct {
	data     domain.MarketData
	momentum domain.Momentum
	err      error
	calls    int
}

func (f *fakeFull) Token(ctx context.Context, address, preferredDex string) (domain.MarketData, domain.Momentum, error) {
	f.calls++
	return f.data, f.momentum, f.err
}

type memPriceCache struct {
	prices map[string]float64
	times  map[string]time.Time
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{prices: map[string]float64{}, times: map[string]time.Time{}}
}

func (m *memPriceCache) SetPrice(ctx context.Context, address string, price float64, ts time.Time) error {
	m.prices[address] = price
	m.times[address] = ts
	return nil
}

func (m *memPriceCache) GetPrice(ctx context.Context, address string) (float64, time.Time, error) {
	p, ok := m.prices[address]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, m.times[address], nil
}

type memTokenCache struct {
	data map[string]domain.MarketData
}

func newMemTokenCache() *memTokenCache {
	return &memTokenCache{data: map[string]domain.MarketData{}}
}

func (m *memTokenCache) SetTokenData(ctx context.Context, address string, d domain.MarketData, ttl time.Duration) error {
	m.data[address] = d
	return nil
}

func (m *memTokenCache) GetTokenData(ctx context.Context, address string) (domain.MarketData, error) {
	d, ok := m.data[address]
	if !ok {
		return domain.MarketData{}, domain.ErrNotFound
	}
	return d, nil
}

type allowAllLimiter struct{ allowed bool }

func (l *allowAllLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.allowed, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(fast *fakeFast, full *fakeFull, limiter domain.RateLimiter) (*Provider, *memPriceCache, *memTokenCache) {
	prices := newMemPriceCache()
	tokens := newMemTokenCache()
	if limiter == nil {
		limiter = &allowAllLimiter{allowed: true}
	}
	return NewProvider(fast, full, prices, tokens, limiter, 10, testLogger()), prices, tokens
}

func TestFastPriceRecordsLastGood(t *testing.T) {
	fast := &fakeFast{price: 0.0042}
	p, prices, _ := newTestProvider(fast, &fakeFull{}, nil)

	got, err := p.FastPrice(context.Background(), "addr")
	require.NoError(t, err)
	assert.Equal(t, 0.0042, got)

	cached, _, err := prices.GetPrice(context.Background(), "addr")
	require.NoError(t, err)
	assert.Equal(t, 0.0042, cached)
}

func TestFastPriceErrorDoesNotTouchCache(t *testing.T) {
	fast := &fakeFast{err: domain.ErrNoPrice}
	p, prices, _ := newTestProvider(fast, &fakeFull{}, nil)

	_, err := p.FastPrice(context.Background(), "addr")
	assert.ErrorIs(t, err, domain.ErrNoPrice)

	_, _, err = prices.GetPrice(context.Background(), "addr")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestObserveRefreshesBothCaches(t *testing.T) {
	full := &fakeFull{data: domain.MarketData{Price: 1.5, MarketCapUSD: 42_000, DexID: "raydium"}}
	p, prices, tokens := newTestProvider(&fakeFast{}, full, nil)

	data, momentum, err := p.Observe(context.Background(), "addr", "")
	require.NoError(t, err)
	assert.Equal(t, 42_000.0, data.MarketCapUSD)
	_ = momentum

	cached, err := tokens.GetTokenData(context.Background(), "addr")
	require.NoError(t, err)
	assert.Equal(t, "raydium", cached.DexID)

	price, _, err := prices.GetPrice(context.Background(), "addr")
	require.NoError(t, err)
	assert.Equal(t, 1.5, price)
}

func TestObserveFallsBackToCacheOnUpstreamFailure(t *testing.T) {
	full := &fakeFull{err: errors.New("upstream down")}
	p, _, tokens := newTestProvider(&fakeFast{}, full, nil)

	require.NoError(t, tokens.SetTokenData(context.Background(), "addr",
		domain.MarketData{Price: 0.9, DexID: "pumpswap"}, time.Minute))

	data, _, err := p.Observe(context.Background(), "addr", "")
	require.NoError(t, err)
	assert.Equal(t, "pumpswap", data.DexID)
}

func TestObserveFailsWhenUpstreamAndCacheMiss(t *testing.T) {
	full := &fakeFull{err: errors.New("upstream down")}
	p, _, _ := newTestProvider(&fakeFast{}, full, nil)

	_, _, err := p.Observe(context.Background(), "addr", "")
	assert.Error(t, err)
}

func TestSaturatedRateLimitServesCache(t *testing.T) {
	full := &fakeFull{data: domain.MarketData{Price: 2.0}}
	p, _, tokens := newTestProvider(&fakeFast{}, full, &allowAllLimiter{allowed: false})

	require.NoError(t, tokens.SetTokenData(context.Background(), "addr",
		domain.MarketData{Price: 1.0}, time.Minute))

	data, _, err := p.Observe(context.Background(), "addr", "")
	require.NoError(t, err)
	assert.Equal(t, 1.0, data.Price, "must not hit upstream past the limit")
	assert.Zero(t, full.calls)
}

func TestObserveReturnsMomentum(t *testing.T) {
	full := &fakeFull{momentum: domain.Momentum{Buys5m: 30, Sells5m: 25}}
	p, _, _ := newTestProvider(&fakeFast{}, full, nil)

	_, m, err := p.Observe(context.Background(), "addr", "")
	require.NoError(t, err)
	assert.Equal(t, 55, m.TxCount())
}
