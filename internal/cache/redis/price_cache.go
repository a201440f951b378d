package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cachelabs/solsniper/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each token's last-known-good price is stored as a hash at key
// "price:{address}" with fields "price" and "ts" (Unix nanosecond timestamp).
// It is the terminal link of the monitor's price fallback chain and, unlike
// an in-process cache, survives restarts.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(address string) string {
	return "price:" + address
}

// SetPrice stores the latest good price and its observation time for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, address string, price float64, ts time.Time) error {
	key := priceKey(address)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", address, err)
	}
	return nil
}

// GetPrice retrieves the last-known-good price and its timestamp for a token.
// It returns domain.ErrNotFound when no price has ever been recorded.
func (pc *PriceCache) GetPrice(ctx context.Context, address string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(address)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", address, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", address, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", address, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
