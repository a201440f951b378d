// Package executor turns exit decisions into on-chain sells. It owns the
// submission invariants: one sell in flight per token, a cooldown between
// completed sells, bounded retries with escalating priority fees, and the
// rule that a submitted transaction is never submitted twice.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cachelabs/solsniper/internal/domain"
	"github.com/cachelabs/solsniper/internal/notify"
	"github.com/cachelabs/solsniper/internal/platform/pumpportal"
)

// Notifier is the subset of the notification system the executor needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
	NotifyAll(ctx context.Context, title, message string) error
}

// Config holds the executor's retry and pacing parameters.
type Config struct {
	Cooldown            time.Duration
	MaxAttempts         int
	BasePriorityFee     float64 // SOL
	FeeStep             float64 // SOL added per retry
	ConfirmPolls        int
	ConfirmPollInterval time.Duration
	RetryPause          time.Duration
}

// Request is one bundled sell: every rule that fired this cycle has already
// been merged into a single fraction and a joined reason string.
type Request struct {
	Position  domain.Position
	Fraction  float64 // of the original position
	Price     float64
	MarketCap float64
	Reason    string
}

// SellExecutor executes sells through the venue-appropriate swap API and
// appends the resulting ledger records.
type SellExecutor struct {
	store      domain.PositionStore
	balances   domain.BalanceReader
	aggregator domain.SwapExecutor // Jupiter
	launchpad  domain.SwapExecutor // PumpPortal
	notifier   Notifier
	cfg        Config
	logger     *slog.Logger

	cooldown *Cooldown

	inflight   map[string]bool
	inflightMu sync.Mutex
}

// NewSellExecutor creates a SellExecutor. launchpad may equal aggregator when
// no separate launchpad route is configured.
func NewSellExecutor(
	store domain.PositionStore,
	balances domain.BalanceReader,
	aggregator domain.SwapExecutor,
	launchpad domain.SwapExecutor,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *SellExecutor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 20 * time.Second
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = time.Second
	}
	return &SellExecutor{
		store:      store,
		balances:   balances,
		aggregator: aggregator,
		launchpad:  launchpad,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "executor")),
		cooldown:   NewCooldown(cfg.Cooldown),
		inflight:   make(map[string]bool),
	}
}

// Sell executes one bundled sell for the position. On success it returns the
// ledger record it appended; the caller owns the position's status change.
//
// It returns ErrSellInFlight or ErrSellCooldown without touching the chain,
// ErrNoBalance when the wallet no longer holds the token, and ErrSwapFailed
// after the retry budget is exhausted with no transaction submitted.
func (e *SellExecutor) Sell(ctx context.Context, req Request) (domain.SellRecord, error) {
	pos := req.Position
	log := e.logger.With(
		slog.String("address", pos.Address),
		slog.String("ticker", pos.Ticker),
		slog.String("reason", req.Reason),
	)

	remaining := pos.Remaining()
	if remaining <= 0 {
		return domain.SellRecord{}, domain.ErrPositionClosed
	}
	fraction := req.Fraction
	if fraction > remaining {
		fraction = remaining
	}
	if fraction <= 0 {
		return domain.SellRecord{}, fmt.Errorf("executor: non-positive sell fraction for %s", pos.Address)
	}

	if !e.acquire(pos.Address) {
		return domain.SellRecord{}, domain.ErrSellInFlight
	}
	defer e.release(pos.Address)

	if e.cooldown.Active(pos.Address) {
		return domain.SellRecord{}, domain.ErrSellCooldown
	}

	balance, err := e.fetchBalance(ctx, pos.Address, log)
	if err != nil {
		return domain.SellRecord{}, err
	}
	if balance <= 0 {
		return domain.SellRecord{}, domain.ErrNoBalance
	}

	// The wallet balance covers the remaining fraction, so scale the UI
	// amount by the share of the remainder being sold.
	tokens := balance * (fraction / remaining)

	decimals, err := e.balances.TokenDecimals(ctx, pos.Address)
	if err != nil {
		return domain.SellRecord{}, fmt.Errorf("executor: token decimals for %s: %w", pos.Address, err)
	}

	solBefore, solErr := e.balances.SOLBalance(ctx)
	if solErr != nil {
		log.Warn("sol balance read failed before sell", slog.String("error", solErr.Error()))
	}

	sig, err := e.submit(ctx, pos.Address, tokens, decimals, log)
	if err != nil {
		e.notifyFailure(ctx, pos, fraction, req.Reason, err)
		return domain.SellRecord{}, err
	}

	received := e.confirm(ctx, pos.Address, balance, solBefore, solErr == nil, log)

	rec := domain.SellRecord{
		ID:             uuid.New().String(),
		Address:        pos.Address,
		Price:          req.Price,
		MarketCap:      req.MarketCap,
		AmountReceived: received,
		Fraction:       fraction,
		Reason:         req.Reason,
		TxSignature:    sig,
		At:             time.Now().UTC(),
	}

	if err := e.store.AppendSell(ctx, rec); err != nil {
		// The sell happened on-chain; a ledger write failure must be loud
		// but cannot undo the trade.
		log.Error("sell ledger write failed", slog.String("signature", sig), slog.String("error", err.Error()))
		return rec, fmt.Errorf("executor: record sell for %s: %w", pos.Address, err)
	}

	e.cooldown.Touch(pos.Address)

	log.Info("sell executed",
		slog.String("signature", sig),
		slog.Float64("fraction", fraction),
		slog.Float64("price", req.Price),
		slog.Float64("sol_received", received),
	)
	_ = e.notifier.Notify(ctx, notify.EventSellExecuted,
		fmt.Sprintf("Sold %.0f%% of %s", fraction*100, pos.Ticker),
		fmt.Sprintf("reason: %s\nprice: %.10f\nsignature: %s", req.Reason, req.Price, sig))

	return rec, nil
}

// CleanupCooldowns drops expired cooldown entries.
func (e *SellExecutor) CleanupCooldowns() {
	e.cooldown.Cleanup()
}

func (e *SellExecutor) acquire(address string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if e.inflight[address] {
		return false
	}
	e.inflight[address] = true
	return true
}

func (e *SellExecutor) release(address string) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	delete(e.inflight, address)
}

// fetchBalance reads the wallet's token balance, retrying transient RPC
// failures a couple of times before giving up.
func (e *SellExecutor) fetchBalance(ctx context.Context, address string, log *slog.Logger) (float64, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
		balance, err := e.balances.TokenBalance(ctx, address)
		if err == nil {
			return balance, nil
		}
		lastErr = err
		log.Warn("balance fetch failed", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
	}
	return 0, fmt.Errorf("executor: fetch balance for %s: %w", address, lastErr)
}

// submit tries the swap up to MaxAttempts times, raising the priority fee
// each round. The first returned signature ends the loop: a transaction that
// reached the chain is never submitted again, whatever happens afterwards.
func (e *SellExecutor) submit(ctx context.Context, address string, tokens float64, decimals int, log *slog.Logger) (string, error) {
	venue := e.aggregator
	if pumpportal.Handles(address) && e.launchpad != nil {
		venue = e.launchpad
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.cfg.RetryPause):
			}
		}

		fee := e.cfg.BasePriorityFee + e.cfg.FeeStep*float64(attempt)
		sig, err := venue.Swap(ctx, domain.SwapRequest{
			InputMint:   address,
			OutputMint:  domain.WrappedSOLMint,
			Amount:      tokens,
			Decimals:    decimals,
			IsBuy:       false,
			PriorityFee: fee,
		})
		if err == nil && sig != "" {
			return sig, nil
		}
		if err == nil {
			err = fmt.Errorf("empty signature")
		}
		lastErr = err
		log.Warn("swap attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Float64("priority_fee", fee),
			slog.String("error", err.Error()),
		)
	}

	return "", fmt.Errorf("executor: %w after %d attempts: %v", domain.ErrSwapFailed, e.cfg.MaxAttempts, lastErr)
}

// confirm polls the token balance a bounded number of times to observe the
// sell landing, and measures the SOL received. An unchanged balance after the
// last poll means the transaction is still propagating; it is treated as
// submitted and never resent.
func (e *SellExecutor) confirm(ctx context.Context, address string, balanceBefore, solBefore float64, haveSOLBefore bool, log *slog.Logger) float64 {
	confirmed := false
	for poll := 0; poll < e.cfg.ConfirmPolls; poll++ {
		select {
		case <-ctx.Done():
			return 0
		case <-time.After(e.cfg.ConfirmPollInterval):
		}

		balance, err := e.balances.TokenBalance(ctx, address)
		if err != nil {
			log.Warn("confirm poll failed", slog.Int("poll", poll+1), slog.String("error", err.Error()))
			continue
		}
		if balance < balanceBefore {
			confirmed = true
			break
		}
	}

	if !confirmed {
		log.Warn("sell not yet visible on chain, treating submission as final")
		return 0
	}

	if !haveSOLBefore {
		return 0
	}
	solAfter, err := e.balances.SOLBalance(ctx)
	if err != nil || solAfter <= solBefore {
		return 0
	}
	return solAfter - solBefore
}

func (e *SellExecutor) notifyFailure(ctx context.Context, pos domain.Position, fraction float64, reason string, err error) {
	e.logger.Error("sell failed, position unchanged",
		slog.String("address", pos.Address),
		slog.String("ticker", pos.Ticker),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	_ = e.notifier.NotifyAll(ctx,
		fmt.Sprintf("SELL FAILED: %s", pos.Ticker),
		fmt.Sprintf("address: %s\nfraction: %.0f%%\nreason: %s\nerror: %v\nmanual intervention may be required",
			pos.Address, fraction*100, reason, err))
}
