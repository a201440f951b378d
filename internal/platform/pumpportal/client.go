// Package pumpportal executes swaps through the PumpPortal local-transaction
// API, the reliable venue for tokens still on their bonding curve.
package pumpportal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cachelabs/solsniper/internal/domain"
)

// TxSigner signs a serialized transaction as the fee payer.
type TxSigner interface {
	Address() string
	SignTransaction(txBase64 string) (string, error)
}

// TxSubmitter sends a signed transaction to the chain.
type TxSubmitter interface {
	SendTransaction(ctx context.Context, signedTxBase64 string) (string, error)
}

// Client is the PumpPortal trade-local API client. It implements
// domain.SwapExecutor.
type Client struct {
	tradeURL    string
	slippageBps int
	signer      TxSigner
	submitter   TxSubmitter
	httpClient  *http.Client
}

// NewClient creates a PumpPortal client.
func NewClient(tradeURL string, slippageBps int, signer TxSigner, submitter TxSubmitter) *Client {
	return &Client{
		tradeURL:    tradeURL,
		slippageBps: slippageBps,
		signer:      signer,
		submitter:   submitter,
		httpClient:  &http.Client{Timeout: 20 * time.Second},
	}
}

// Handles reports whether the token's mint address belongs to a launchpad
// venue PumpPortal routes better than the aggregator.
func Handles(address string) bool {
	return strings.HasSuffix(address, "pump") || strings.HasSuffix(address, "bonk")
}

// Swap builds a transaction via the trade-local endpoint, signs it, and
// submits it. The trade API denominates in UI units on both sides, so the
// request amount passes through unscaled. The returned signature is final.
func (c *Client) Swap(ctx context.Context, req domain.SwapRequest) (string, error) {
	action := "sell"
	mint := req.InputMint
	amount := req.Amount
	denominatedInSol := "false"
	if req.IsBuy {
		action = "buy"
		mint = req.OutputMint
		denominatedInSol = "true"
	}

	payload := map[string]any{
		"publicKey":        c.signer.Address(),
		"action":           action,
		"mint":             mint,
		"amount":           amount,
		"denominatedInSol": denominatedInSol,
		"slippage":         c.slippageBps / 100,
		"priorityFee":      req.PriorityFee,
		"pool":             "auto",
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("pumpportal: marshal trade request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tradeURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("pumpportal: create trade request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("pumpportal: build trade: %w", err)
	}
	defer resp.Body.Close()

	// The endpoint returns the raw serialized transaction bytes.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("pumpportal: read trade response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pumpportal: trade HTTP %d: %s", resp.StatusCode, string(body))
	}
	if len(body) == 0 {
		return "", fmt.Errorf("pumpportal: empty trade response")
	}

	signed, err := c.signer.SignTransaction(base64.StdEncoding.EncodeToString(body))
	if err != nil {
		return "", fmt.Errorf("pumpportal: sign trade: %w", err)
	}

	sig, err := c.submitter.SendTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("pumpportal: submit trade: %w", err)
	}
	return sig, nil
}

// Compile-time interface check.
var _ domain.SwapExecutor = (*Client)(nil)
