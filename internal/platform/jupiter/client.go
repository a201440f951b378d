// Package jupiter integrates the Jupiter aggregator: the price v2 feed for
// low-latency quotes and the quote/swap API for execution.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cachelabs/solsniper/internal/domain"
)

const lamportsPerSOL = 1_000_000_000

// TxSigner signs a serialized transaction as the fee payer.
type TxSigner interface {
	Address() string
	SignTransaction(txBase64 string) (string, error)
}

// TxSubmitter sends a signed transaction to the chain.
type TxSubmitter interface {
	SendTransaction(ctx context.Context, signedTxBase64 string) (string, error)
}

// ClientConfig holds Jupiter API endpoints and swap parameters.
type ClientConfig struct {
	PriceURL    string
	QuoteURL    string
	SwapURL     string
	SlippageBps int
	FastTimeout time.Duration // price feed only
}

// Client is the Jupiter API client. It implements domain.SwapExecutor by
// chaining quote, swap-build, local signing, and RPC submission.
type Client struct {
	cfg        ClientConfig
	signer     TxSigner
	submitter  TxSubmitter
	fastClient *http.Client
	httpClient *http.Client
}

// NewClient creates a Jupiter client. signer and submitter may be nil for
// price-only use.
func NewClient(cfg ClientConfig, signer TxSigner, submitter TxSubmitter) *Client {
	fastTimeout := cfg.FastTimeout
	if fastTimeout <= 0 {
		fastTimeout = 2 * time.Second
	}
	return &Client{
		cfg:        cfg,
		signer:     signer,
		submitter:  submitter,
		fastClient: &http.Client{Timeout: fastTimeout},
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// Price fetches the current USD price for a token from the price v2 feed.
// It is the fast path of the monitor cycle, so the timeout is tight and a
// miss returns domain.ErrNoPrice rather than blocking.
func (c *Client) Price(ctx context.Context, address string) (float64, error) {
	u := c.cfg.PriceURL + "?ids=" + url.QueryEscape(address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("jupiter: create price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.fastClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("jupiter: fetch price %s: %w", address, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("jupiter: read price response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("jupiter: price HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("jupiter: decode price response: %w", err)
	}

	entry, ok := payload.Data[address]
	if !ok || entry.Price == "" {
		return 0, domain.ErrNoPrice
	}
	price, err := strconv.ParseFloat(entry.Price, 64)
	if err != nil || price <= 0 {
		return 0, domain.ErrNoPrice
	}
	return price, nil
}

// Swap executes one swap end to end: quote, build, sign, submit. The
// returned signature is final; callers must never resubmit a request once a
// signature exists.
func (c *Client) Swap(ctx context.Context, req domain.SwapRequest) (string, error) {
	if c.signer == nil || c.submitter == nil {
		return "", fmt.Errorf("jupiter: swap requires a signer and submitter")
	}

	quote, err := c.quote(ctx, req)
	if err != nil {
		return "", err
	}

	txBase64, err := c.buildSwap(ctx, quote, req.PriorityFee)
	if err != nil {
		return "", err
	}

	signed, err := c.signer.SignTransaction(txBase64)
	if err != nil {
		return "", fmt.Errorf("jupiter: sign swap: %w", err)
	}

	sig, err := c.submitter.SendTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("jupiter: submit swap: %w", err)
	}
	return sig, nil
}

// quote fetches a quote for the swap. The API wants integer base units: SOL
// buys convert to lamports, sells scale the UI token amount by the mint's
// decimals.
func (c *Client) quote(ctx context.Context, req domain.SwapRequest) (json.RawMessage, error) {
	var amount uint64
	if req.IsBuy {
		amount = uint64(req.Amount * lamportsPerSOL)
	} else {
		amount = uint64(req.Amount * math.Pow10(req.Decimals))
	}
	if amount == 0 {
		return nil, fmt.Errorf("jupiter: zero swap amount")
	}

	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(c.cfg.SlippageBps))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.QuoteURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: create quote request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jupiter: fetch quote: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jupiter: read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter: quote HTTP %d: %s", resp.StatusCode, string(body))
	}
	return json.RawMessage(body), nil
}

// buildSwap exchanges a quote for an unsigned serialized transaction.
func (c *Client) buildSwap(ctx context.Context, quote json.RawMessage, priorityFeeSOL float64) (string, error) {
	payload := map[string]any{
		"quoteResponse":             quote,
		"userPublicKey":             c.signer.Address(),
		"wrapAndUnwrapSol":          true,
		"prioritizationFeeLamports": uint64(priorityFeeSOL * lamportsPerSOL),
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SwapURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("jupiter: create swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("jupiter: build swap: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("jupiter: read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("jupiter: swap HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("jupiter: decode swap response: %w", err)
	}
	if result.SwapTransaction == "" {
		return "", fmt.Errorf("jupiter: swap response missing transaction")
	}
	return result.SwapTransaction, nil
}

// Compile-time interface check.
var _ domain.SwapExecutor = (*Client)(nil)
