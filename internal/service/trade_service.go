// Package service holds the application services that sit between the HTTP
// surface / signal intake and the core monitoring machinery.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cachelabs/solsniper/internal/config"
	"github.com/cachelabs/solsniper/internal/domain"
	"github.com/cachelabs/solsniper/internal/notify"
	"github.com/cachelabs/solsniper/internal/platform/pumpportal"
)

// buyLockTTL bounds how long the cross-process buy guard for one token is
// held if a buy attempt dies mid-flight.
const buyLockTTL = 90 * time.Second

// Supervisor is the monitor-lifecycle surface the trade service drives.
type Supervisor interface {
	StartMonitor(ctx context.Context, pos domain.Position)
	Watching(address string) bool
}

// Notifier is the subset of the notification system the trade service needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// BuySignal is one accepted entry signal, already parsed by the intake layer.
type BuySignal struct {
	Address string
	Ticker  string
	Source  string
}

// TradeService turns accepted buy signals into open positions: it applies the
// entry filters, executes the buy swap on the venue-appropriate API, persists
// the position, and hands it to the supervisor for monitoring.
type TradeService struct {
	store      domain.PositionStore
	markets    domain.MarketDataProvider
	balances   domain.BalanceReader
	aggregator domain.SwapExecutor
	launchpad  domain.SwapExecutor
	locks      domain.LockManager
	supervisor Supervisor
	notifier   Notifier
	trading    config.TradingConfig
	exit       config.ExitConfig
	logger     *slog.Logger
}

// NewTradeService creates a TradeService with all required dependencies.
// launchpad may equal aggregator when no separate launchpad route is
// configured.
func NewTradeService(
	store domain.PositionStore,
	markets domain.MarketDataProvider,
	balances domain.BalanceReader,
	aggregator domain.SwapExecutor,
	launchpad domain.SwapExecutor,
	locks domain.LockManager,
	supervisor Supervisor,
	notifier Notifier,
	trading config.TradingConfig,
	exit config.ExitConfig,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		store:      store,
		markets:    markets,
		balances:   balances,
		aggregator: aggregator,
		launchpad:  launchpad,
		locks:      locks,
		supervisor: supervisor,
		notifier:   notifier,
		trading:    trading,
		exit:       exit,
		logger:     logger.With(slog.String("component", "trade_service")),
	}
}

// Buy takes one entry signal through filter, swap, persist, and monitor
// attach. At most one buy per token address proceeds at a time, across
// processes, via the lock manager.
func (s *TradeService) Buy(ctx context.Context, sig BuySignal) (domain.Position, error) {
	unlock, err := s.locks.Acquire(ctx, "buy:"+sig.Address, buyLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Position{}, fmt.Errorf("trade_service: buy %s: %w", sig.Address, err)
		}
		return domain.Position{}, fmt.Errorf("trade_service: acquire buy lock %s: %w", sig.Address, err)
	}
	defer unlock()

	if s.supervisor.Watching(sig.Address) {
		return domain.Position{}, fmt.Errorf("trade_service: buy %s: %w", sig.Address, domain.ErrAlreadyExists)
	}
	if existing, getErr := s.store.Get(ctx, sig.Address); getErr == nil && existing.Status.Active() {
		return domain.Position{}, fmt.Errorf("trade_service: buy %s: %w", sig.Address, domain.ErrAlreadyExists)
	}

	data, momentum, err := s.markets.Observe(ctx, sig.Address, "")
	if err != nil {
		return domain.Position{}, fmt.Errorf("trade_service: market data for %s: %w", sig.Address, err)
	}
	if reason := s.entryFilter(sig.Address, data, momentum); reason != "" {
		s.logger.InfoContext(ctx, "buy signal rejected",
			slog.String("address", sig.Address),
			slog.String("ticker", sig.Ticker),
			slog.String("reason", reason))
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx, notify.EventBuyRejected,
				fmt.Sprintf("Rejected %s", s.tickerFor(sig, data)),
				reason)
		}
		return domain.Position{}, fmt.Errorf("trade_service: buy %s: %w: %s", sig.Address, domain.ErrEntryRejected, reason)
	}

	sol, err := s.balances.SOLBalance(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("trade_service: sol balance: %w", err)
	}
	if sol-s.trading.ReserveSOL < s.trading.BuyAmountSOL {
		return domain.Position{}, fmt.Errorf("trade_service: buy %s: insufficient balance %.4f SOL", sig.Address, sol)
	}

	sigHash, err := s.buySwap(ctx, sig.Address)
	if err != nil {
		return domain.Position{}, fmt.Errorf("trade_service: buy swap %s: %w", sig.Address, err)
	}

	// Re-read the market after the fill; the pre-filter snapshot can be
	// seconds stale on a fast mover. Fall back to it if the refresh misses.
	entry := data
	if fresh, _, freshErr := s.markets.Observe(ctx, sig.Address, data.DexID); freshErr == nil && fresh.Price > 0 {
		entry = fresh
	}

	now := time.Now().UTC()
	pos := domain.Position{
		ID:             uuid.NewString(),
		Address:        sig.Address,
		Ticker:         s.tickerFor(sig, entry),
		Source:         sig.Source,
		EntryPrice:     entry.Price,
		EntryMarketCap: entry.MarketCapUSD,
		EntryAmountSOL: s.trading.BuyAmountSOL,
		EntryLiquidity: entry.LiquidityUSD,
		EntryVolume24h: entry.Volume24hUSD,
		DexID:          entry.DexID,
		TokenAgeMins:   tokenAgeMins(entry, now),
		Status:         domain.StatusOpen,
		StopLoss:       entry.Price * s.exit.HardStopLossFactor,
		HighestPrice:   entry.Price,
		PeakMarketCap:  entry.MarketCapUSD,
		OpenedAt:       now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, pos); err != nil {
		// The swap landed but the record did not: this needs a human.
		s.logger.ErrorContext(ctx, "position persist failed after buy",
			slog.String("address", sig.Address),
			slog.String("tx_signature", sigHash),
			slog.String("error", err.Error()))
		return domain.Position{}, fmt.Errorf("trade_service: persist position %s: %w", sig.Address, err)
	}

	s.supervisor.StartMonitor(ctx, pos)

	s.logger.InfoContext(ctx, "position opened",
		slog.String("address", pos.Address),
		slog.String("ticker", pos.Ticker),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("entry_mc", pos.EntryMarketCap),
		slog.String("tx_signature", sigHash))
	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, notify.EventPositionOpened,
			fmt.Sprintf("Bought %s", pos.Ticker),
			fmt.Sprintf("%.4f SOL at market cap $%.0f (%s)", pos.EntryAmountSOL, pos.EntryMarketCap, pos.Source))
	}
	return pos, nil
}

// entryFilter returns a rejection reason, or "" when the token qualifies.
func (s *TradeService) entryFilter(address string, data domain.MarketData, momentum domain.Momentum) string {
	if data.Price <= 0 {
		return "no price"
	}
	if s.trading.MaxEntryMC > 0 && data.MarketCapUSD > s.trading.MaxEntryMC {
		return fmt.Sprintf("market cap $%.0f above limit $%.0f", data.MarketCapUSD, s.trading.MaxEntryMC)
	}
	if s.trading.MinEntryMC > 0 && data.MarketCapUSD < s.trading.MinEntryMC {
		return fmt.Sprintf("market cap $%.0f below floor $%.0f", data.MarketCapUSD, s.trading.MinEntryMC)
	}
	liquidity := effectiveLiquidity(address, data)
	if s.trading.MinLiquidityUSD > 0 && liquidity < s.trading.MinLiquidityUSD {
		return fmt.Sprintf("liquidity $%.0f below floor $%.0f", liquidity, s.trading.MinLiquidityUSD)
	}
	if s.trading.MaxTokenAgeMins > 0 && !data.PairCreatedAt.IsZero() {
		if age := tokenAgeMins(data, time.Now().UTC()); age > s.trading.MaxTokenAgeMins {
			return fmt.Sprintf("token age %.0f min above limit %.0f", age, s.trading.MaxTokenAgeMins)
		}
	}
	// One-sided flow with no sells at all is the classic wash-trading shape
	// on fresh pairs.
	if momentum.Buys5m >= 30 && momentum.Sells5m == 0 {
		return fmt.Sprintf("suspicious flow: %d buys, 0 sells in 5m", momentum.Buys5m)
	}
	if score := washScore(data, momentum); score >= washScoreReject {
		return fmt.Sprintf("wash trading suspected (score %d)", score)
	}
	return ""
}

// washScoreReject is the suspicion level at which a token is refused.
const washScoreReject = 50

// washScore accumulates wash-trading suspicion from the shape of recent
// volume: huge volume per transaction, high volume on very few trades, and
// 24h volume far out of proportion to the pool.
func washScore(data domain.MarketData, momentum domain.Momentum) int {
	score := 0
	tx1h := momentum.TxCount1h()
	if tx1h > 0 {
		switch volPerTx := data.Volume1hUSD / float64(tx1h); {
		case volPerTx > 5000:
			score += 40
		case volPerTx > 2000:
			score += 20
		}
	}
	if data.Volume1hUSD > 10_000 && tx1h < 20 {
		score += 30
	}
	if data.LiquidityUSD > 0 && data.Volume24hUSD/data.LiquidityUSD > 50 {
		score += 25
	}
	return score
}

// effectiveLiquidity handles launchpad tokens whose bonding-curve reserves
// DexScreener does not report as pool liquidity: a pump.fun or moonshot token
// showing near-zero liquidity but a real market cap is valued by that cap
// instead, so the liquidity floor does not reject every pre-graduation token.
func effectiveLiquidity(address string, data domain.MarketData) float64 {
	launchpad := data.DexID == "pumpfun" || data.DexID == "moonshot" || pumpportal.Handles(address)
	if launchpad && data.LiquidityUSD < 500 && data.MarketCapUSD > 5000 {
		return data.MarketCapUSD
	}
	return data.LiquidityUSD
}

// buySwap submits the buy, retrying up to BuyMaxAttempts with the priority
// fee raised by BuyFeeStep per attempt. It stops at the first signature; a
// submitted transaction is never resent.
func (s *TradeService) buySwap(ctx context.Context, address string) (string, error) {
	attempts := s.trading.BuyMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		sigHash, err := s.venueFor(address).Swap(ctx, domain.SwapRequest{
			InputMint:   domain.WrappedSOLMint,
			OutputMint:  address,
			Amount:      s.trading.BuyAmountSOL,
			IsBuy:       true,
			PriorityFee: s.trading.PriorityFeeSOL + s.trading.BuyFeeStep*float64(attempt),
		})
		if err == nil && sigHash != "" {
			return sigHash, nil
		}
		lastErr = err
		s.logger.WarnContext(ctx, "buy swap attempt failed",
			slog.String("address", address),
			slog.Int("attempt", attempt+1),
			slog.String("error", errString(err)))
	}
	return "", fmt.Errorf("%w after %d attempts: %v", domain.ErrSwapFailed, attempts, lastErr)
}

func errString(err error) string {
	if err == nil {
		return "empty signature"
	}
	return err.Error()
}

func (s *TradeService) venueFor(address string) domain.SwapExecutor {
	if pumpportal.Handles(address) && s.launchpad != nil {
		return s.launchpad
	}
	return s.aggregator
}

func (s *TradeService) tickerFor(sig BuySignal, data domain.MarketData) string {
	if sig.Ticker != "" {
		return sig.Ticker
	}
	if data.Symbol != "" {
		return data.Symbol
	}
	return sig.Address[:min(8, len(sig.Address))]
}

func tokenAgeMins(data domain.MarketData, now time.Time) float64 {
	if data.PairCreatedAt.IsZero() {
		return 0
	}
	return now.Sub(data.PairCreatedAt).Minutes()
}

// RealizedPnL recomputes a position's realized PnL from its sell ledger and,
// for closed positions, persists the result. Each ledger entry contributes
// its fraction-weighted return against the entry price.
func (s *TradeService) RealizedPnL(ctx context.Context, address string) (float64, error) {
	pos, err := s.store.Get(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("trade_service: get position %s: %w", address, err)
	}
	if pos.EntryPrice <= 0 {
		return 0, fmt.Errorf("trade_service: position %s has no entry price", address)
	}

	sells, err := s.store.ListSells(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("trade_service: list sells %s: %w", address, err)
	}

	realized := 0.0
	for _, rec := range sells {
		realized += (rec.Price/pos.EntryPrice - 1) * rec.Fraction
	}

	if pos.Status.Terminal() && realized != pos.PnLPercent {
		pos.PnLPercent = realized
		pos.UpdatedAt = time.Now().UTC()
		if err := s.store.Update(ctx, pos); err != nil {
			return realized, fmt.Errorf("trade_service: persist realized pnl %s: %w", address, err)
		}
	}
	return realized, nil
}
