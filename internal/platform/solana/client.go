// Package solana is a minimal JSON-RPC client for the Solana mainnet API,
// covering the calls the bot needs: balances and transaction submission.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cachelabs/solsniper/internal/domain"
)

const lamportsPerSOL = 1_000_000_000

// Client talks to a Solana RPC endpoint for one wallet.
type Client struct {
	rpcURL     string
	wallet     string
	httpClient *http.Client

	decimalsMu sync.Mutex
	decimals   map[string]int
}

// NewClient creates a Client bound to the given RPC endpoint and wallet
// address.
func NewClient(rpcURL, wallet string) *Client {
	return &Client{
		rpcURL: rpcURL,
		wallet: wallet,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		decimals: make(map[string]int),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// TokenBalance returns the wallet's total balance for the given mint in UI
// units (whole tokens), summed across all of its token accounts. A wallet
// holding no accounts for the mint reports zero, not an error.
func (c *Client) TokenBalance(ctx context.Context, mint string) (float64, error) {
	params := []any{
		c.wallet,
		map[string]string{"mint": mint},
		map[string]string{"encoding": "jsonParsed"},
	}

	raw, err := c.call(ctx, "getTokenAccountsByOwner", params)
	if err != nil {
		return 0, fmt.Errorf("solana: token balance %s: %w", mint, err)
	}

	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmount *float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("solana: decode token accounts for %s: %w", mint, err)
	}

	total := 0.0
	for _, v := range result.Value {
		if ui := v.Account.Data.Parsed.Info.TokenAmount.UIAmount; ui != nil {
			total += *ui
		}
	}
	return total, nil
}

// TokenDecimals returns the mint's decimal count via getTokenSupply. Decimals
// are immutable for a mint, so results are cached for the client's lifetime.
func (c *Client) TokenDecimals(ctx context.Context, mint string) (int, error) {
	c.decimalsMu.Lock()
	if d, ok := c.decimals[mint]; ok {
		c.decimalsMu.Unlock()
		return d, nil
	}
	c.decimalsMu.Unlock()

	raw, err := c.call(ctx, "getTokenSupply", []any{mint})
	if err != nil {
		return 0, fmt.Errorf("solana: token decimals %s: %w", mint, err)
	}

	var result struct {
		Value struct {
			Decimals int `json:"decimals"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("solana: decode token supply for %s: %w", mint, err)
	}

	c.decimalsMu.Lock()
	c.decimals[mint] = result.Value.Decimals
	c.decimalsMu.Unlock()
	return result.Value.Decimals, nil
}

// SOLBalance returns the wallet's SOL balance.
func (c *Client) SOLBalance(ctx context.Context) (float64, error) {
	raw, err := c.call(ctx, "getBalance", []any{c.wallet})
	if err != nil {
		return 0, fmt.Errorf("solana: sol balance: %w", err)
	}

	var result struct {
		Value int64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("solana: decode balance: %w", err)
	}
	return float64(result.Value) / lamportsPerSOL, nil
}

// SendTransaction submits a signed, base64-encoded transaction and returns
// its signature. Preflight is skipped: by the time a swap is built the quote
// is already aging, and a preflight round trip costs more than it saves.
func (c *Client) SendTransaction(ctx context.Context, signedTxBase64 string) (string, error) {
	params := []any{
		signedTxBase64,
		map[string]any{
			"encoding":      "base64",
			"skipPreflight": true,
			"maxRetries":    3,
		},
	}

	raw, err := c.call(ctx, "sendTransaction", params)
	if err != nil {
		return "", fmt.Errorf("solana: send transaction: %w", err)
	}

	var signature string
	if err := json.Unmarshal(raw, &signature); err != nil {
		return "", fmt.Errorf("solana: decode signature: %w", err)
	}
	return signature, nil
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// Compile-time interface check.
var _ domain.BalanceReader = (*Client)(nil)
