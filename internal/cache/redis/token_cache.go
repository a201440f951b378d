package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cachelabs/solsniper/internal/domain"
)

// defaultTokenTTL bounds how stale cached market data may get before a
// fresh DexScreener lookup is forced.
const defaultTokenTTL = 60 * time.Second

// TokenCache implements domain.MarketDataCache using Redis hashes with
// JSON-serialized market data per token address.
//
// Key schema:
//
//	token:{address} - hash with field "data" containing JSON
type TokenCache struct {
	rdb *redis.Client
}

// NewTokenCache creates a TokenCache backed by the given Client.
func NewTokenCache(c *Client) *TokenCache {
	return &TokenCache{rdb: c.Underlying()}
}

func tokenKey(address string) string { return "token:" + address }

// SetTokenData stores the latest full market-data observation for a token.
// A non-positive ttl falls back to the default.
func (tc *TokenCache) SetTokenData(ctx context.Context, address string, data domain.MarketData, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("redis: marshal token data %s: %w", address, err)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	key := tokenKey(address)

	pipe := tc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", raw)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set token data %s: %w", address, err)
	}
	return nil
}

// GetTokenData retrieves the cached market data for a token address.
// It returns domain.ErrNotFound when the entry is absent or expired.
func (tc *TokenCache) GetTokenData(ctx context.Context, address string) (domain.MarketData, error) {
	raw, err := tc.rdb.HGet(ctx, tokenKey(address), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketData{}, domain.ErrNotFound
		}
		return domain.MarketData{}, fmt.Errorf("redis: get token data %s: %w", address, err)
	}

	var data domain.MarketData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.MarketData{}, fmt.Errorf("redis: unmarshal token data %s: %w", address, err)
	}
	return data, nil
}

// Compile-time interface check.
var _ domain.MarketDataCache = (*TokenCache)(nil)
