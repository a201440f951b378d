// Package dexscreener fetches token market data from the DexScreener API.
package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cachelabs/solsniper/internal/domain"
)

// minPinnedLiquidityUSD is the floor below which the position's original pair
// is abandoned in favour of the current best-liquidity pair.
const minPinnedLiquidityUSD = 100.0

// Client is an HTTP client for the public DexScreener token endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a DexScreener client. baseURL is the token endpoint, e.g.
// "https://api.dexscreener.com/latest/dex/tokens".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// pair mirrors the subset of the DexScreener pair payload the bot consumes.
type pair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Symbol string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD    string `json:"priceUsd"`
	PriceNative string `json:"priceNative"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H1  float64 `json:"h1"`
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Txns struct {
		M5 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"m5"`
		H1 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"h1"`
	} `json:"txns"`
	PriceChange struct {
		M5 float64 `json:"m5"`
	} `json:"priceChange"`
	MarketCap     float64 `json:"marketCap"`
	FDV           float64 `json:"fdv"`
	PairCreatedAt int64   `json:"pairCreatedAt"` // unix millis
}

// Token fetches the token's market snapshot and 5-minute momentum.
//
// Pair selection pins to preferredDex as long as that pair keeps meaningful
// liquidity; otherwise the highest-liquidity Solana pair wins. Pinning keeps
// a position's readings comparable across its whole lifetime even after the
// token graduates to another venue.
func (c *Client) Token(ctx context.Context, address, preferredDex string) (domain.MarketData, domain.Momentum, error) {
	url := c.baseURL + "/" + address

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.MarketData{}, domain.Momentum{}, fmt.Errorf("dexscreener: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.MarketData{}, domain.Momentum{}, fmt.Errorf("dexscreener: fetch %s: %w", address, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.MarketData{}, domain.Momentum{}, fmt.Errorf("dexscreener: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.MarketData{}, domain.Momentum{}, fmt.Errorf("dexscreener: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Pairs []pair `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.MarketData{}, domain.Momentum{}, fmt.Errorf("dexscreener: decode response: %w", err)
	}

	best := selectPair(payload.Pairs, preferredDex)
	if best == nil {
		return domain.MarketData{}, domain.Momentum{}, domain.ErrNoPrice
	}

	price, _ := strconv.ParseFloat(best.PriceUSD, 64)
	if price <= 0 {
		return domain.MarketData{}, domain.Momentum{}, domain.ErrNoPrice
	}
	priceNative, _ := strconv.ParseFloat(best.PriceNative, 64)

	mc := best.MarketCap
	if mc == 0 {
		mc = best.FDV
	}

	data := domain.MarketData{
		Price:        price,
		PriceNative:  priceNative,
		Symbol:       best.BaseToken.Symbol,
		MarketCapUSD: mc,
		LiquidityUSD: best.Liquidity.USD,
		Volume1hUSD:  best.Volume.H1,
		Volume24hUSD: best.Volume.H24,
		DexID:        best.DexID,
		PairAddress:  best.PairAddress,
	}
	if best.PairCreatedAt > 0 {
		data.PairCreatedAt = time.UnixMilli(best.PairCreatedAt)
	}

	momentum := domain.Momentum{
		Buys5m:        best.Txns.M5.Buys,
		Sells5m:       best.Txns.M5.Sells,
		Buys1h:        best.Txns.H1.Buys,
		Sells1h:       best.Txns.H1.Sells,
		PriceChange5m: best.PriceChange.M5,
	}
	return data, momentum, nil
}

// selectPair picks the pair the monitor should read from.
func selectPair(pairs []pair, preferredDex string) *pair {
	var best *pair
	for i := range pairs {
		p := &pairs[i]
		if p.ChainID != "solana" {
			continue
		}
		if preferredDex != "" && p.DexID == preferredDex && p.Liquidity.USD >= minPinnedLiquidityUSD {
			return p
		}
		if best == nil || p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	return best
}
