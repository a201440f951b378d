package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cachelabs/solsniper/internal/config"
	"github.com/cachelabs/solsniper/internal/domain"
	"github.com/cachelabs/solsniper/internal/executor"
	"github.com/cachelabs/solsniper/internal/notify"
)

// Seller executes one bundled sell and appends the resulting ledger record.
type Seller interface {
	Sell(ctx context.Context, req executor.Request) (domain.SellRecord, error)
}

// Notifier is the subset of the notification system the monitor needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Deps bundles the collaborators every monitor shares. The supervisor holds
// one Deps and hands it to each monitor it spawns.
type Deps struct {
	Store    domain.PositionStore
	Markets  domain.MarketDataProvider
	Balances domain.BalanceReader
	Seller   Seller
	Notifier Notifier
	Exit     config.ExitConfig
	Logger   *slog.Logger
	// OnUpdate, when set, receives a copy of the position after every
	// persisted cycle (websocket broadcast).
	OnUpdate func(domain.Position)
	// OnSell, when set, receives every appended ledger record.
	OnSell func(domain.SellRecord)
}

// Monitor is one exit-strategy state machine attached to a single position.
// All mutable position state is owned exclusively by this monitor between
// store round trips; the only outside write it tolerates is a status flip to
// SELL_REQUEST or CLOSED.
type Monitor struct {
	pos      domain.Position
	strategy *Strategy
	deps     Deps
	log      *slog.Logger

	manual atomic.Bool

	// per-position cycle state, torn down with the monitor
	cycle      int
	data       domain.MarketData
	momentum   domain.Momentum
	lastPrice  float64
	volatile   bool
	failures   int
	sellIssued bool
}

// New builds a monitor for the given position.
func New(pos domain.Position, strategy *Strategy, deps Deps) *Monitor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		pos:      pos,
		strategy: strategy,
		deps:     deps,
		log: logger.With(
			slog.String("component", "monitor"),
			slog.String("address", pos.Address),
			slog.String("ticker", pos.Ticker),
		),
	}
}

// RequestSell preempts the next cycle with a full liquidation. Callers also
// persist the SELL_REQUEST status so the command survives a restart.
func (m *Monitor) RequestSell() {
	m.manual.Store(true)
}

// Run polls until the position closes or ctx is cancelled. A failed cycle
// never terminates the loop; only a terminal status does.
func (m *Monitor) Run(ctx context.Context) {
	if m.pos.StopLoss <= 0 && m.pos.EntryPrice > 0 {
		m.pos.StopLoss = m.pos.EntryPrice * m.deps.Exit.HardStopLossFactor
	}

	calm, fast := m.deps.Exit.PollIntervals()
	m.log.Info("monitor started",
		slog.Float64("entry_price", m.pos.EntryPrice),
		slog.Float64("stop_loss", m.pos.StopLoss),
		slog.String("status", string(m.pos.Status)))

	timer := time.NewTimer(calm)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor cancelled")
			return
		case <-timer.C:
		}

		done, volatile := m.runCycle(ctx)
		if done {
			return
		}
		next := calm
		if volatile {
			next = fast
		}
		timer.Reset(next)
	}
}

// runCycle executes one full evaluation cycle. It returns done when the
// position reached a terminal state and volatile when the price moved enough
// to warrant the fast cadence.
func (m *Monitor) runCycle(ctx context.Context) (done bool, volatile bool) {
	m.cycle++

	if stop := m.syncStatus(ctx); stop {
		return true, false
	}

	m.refreshData(ctx)

	price, ok := m.fetchPrice(ctx)
	if !ok {
		return false, false
	}
	m.volatile = m.lastPrice > 0 &&
		math.Abs(price-m.lastPrice)/m.lastPrice > m.deps.Exit.VolatilityThreshold
	m.lastPrice = price

	obs := Observation{
		Price:     price,
		MarketCap: m.scaledMarketCap(price),
		Momentum:  m.momentum,
		Now:       time.Now().UTC(),
	}

	for _, multiple := range m.strategy.UpdateMarks(&m.pos, obs) {
		m.alertMultiple(ctx, multiple, obs)
	}

	decision := m.strategy.DecideSells(&m.pos, obs, m.manual.Load())
	if decision.SellFraction > 0 {
		m.executeSell(ctx, decision, obs)
	}

	m.pos.UpdatedAt = obs.Now
	if err := m.deps.Store.Update(ctx, m.pos); err != nil {
		m.log.Warn("position update failed", slog.String("error", err.Error()))
	}
	if m.deps.OnUpdate != nil {
		m.deps.OnUpdate(m.pos)
	}

	if m.pos.Status.Terminal() {
		m.log.Info("position closed",
			slog.Float64("sold_fraction", m.pos.SoldFraction),
			slog.Float64("pnl_percent", m.pos.PnLPercent*100))
		return true, false
	}

	m.housekeeping(ctx, obs)

	if m.deps.Exit.BalanceCheckCycles > 0 && m.cycle%m.deps.Exit.BalanceCheckCycles == 0 {
		// A balance read right after our own sell can observe the drained
		// account before confirmation settles; skip one check window.
		if m.sellIssued {
			m.sellIssued = false
		} else if m.detectExternalSell(ctx, obs) {
			return true, false
		}
	}
	return false, m.volatile
}

// syncStatus re-reads the persisted status so operator commands issued through
// the store (or another process) take effect within one cycle.
func (m *Monitor) syncStatus(ctx context.Context) bool {
	fresh, err := m.deps.Store.Get(ctx, m.pos.Address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.log.Warn("position vanished from store, stopping monitor")
			return true
		}
		m.log.Warn("status check failed", slog.String("error", err.Error()))
		return false
	}
	switch fresh.Status {
	case domain.StatusClosed:
		m.log.Info("position closed externally, stopping monitor")
		return true
	case domain.StatusSellRequest:
		m.manual.Store(true)
	}
	return false
}

// refreshData updates the coarse market snapshot (market cap, volume,
// momentum) on its own cadence, faster while the price is moving.
func (m *Monitor) refreshData(ctx context.Context) {
	every := m.deps.Exit.DataRefreshCalmCycles
	if m.volatile {
		every = m.deps.Exit.DataRefreshVolatileCycles
	}
	if every <= 0 {
		every = 30
	}
	if m.data.Price > 0 && m.cycle%every != 0 {
		return
	}

	data, momentum, err := m.deps.Markets.Observe(ctx, m.pos.Address, m.pos.DexID)
	if err != nil {
		m.log.Debug("market data refresh failed, keeping cached snapshot",
			slog.String("error", err.Error()))
		return
	}
	m.data = data
	m.momentum = momentum
}

// priceJumpWarnFraction is the single-reading move that gets flagged as a
// major price event, usually a feed glitch or a rug in progress.
const priceJumpWarnFraction = 0.20

// fetchPrice walks the fallback chain: fast feed, fresh full snapshot, then
// the last-known-good cache. Consecutive failures escalate in log severity so
// a dead or delisted token surfaces without killing the loop.
func (m *Monitor) fetchPrice(ctx context.Context) (float64, bool) {
	price, err := m.deps.Markets.FastPrice(ctx, m.pos.Address)
	if err == nil && price > 0 {
		m.failures = 0
		m.warnOnPriceJump(price)
		return price, true
	}

	data, momentum, obsErr := m.deps.Markets.Observe(ctx, m.pos.Address, m.pos.DexID)
	if obsErr == nil && data.Price > 0 {
		m.data = data
		m.momentum = momentum
		m.failures = 0
		m.warnOnPriceJump(data.Price)
		return data.Price, true
	}

	m.failures++
	m.logFailureStreak(err)

	cached, at, cacheErr := m.deps.Markets.LastGoodPrice(ctx, m.pos.Address)
	if cacheErr == nil && cached > 0 {
		if age := time.Since(at); age > time.Minute {
			m.log.Warn("using stale cached price",
				slog.Duration("age", age),
				slog.Int("failure_streak", m.failures))
		}
		return cached, true
	}
	if m.lastPrice > 0 {
		return m.lastPrice, true
	}
	return 0, false
}

// warnOnPriceJump flags a fresh reading that moved more than
// priceJumpWarnFraction against the previous one. The reading still stands;
// the warning gives the operator a chance to intervene before the rules do.
func (m *Monitor) warnOnPriceJump(price float64) {
	if m.lastPrice <= 0 || price <= 0 {
		return
	}
	change := math.Abs(price-m.lastPrice) / m.lastPrice
	if change > priceJumpWarnFraction {
		m.log.Warn("major price move since last reading",
			slog.Float64("previous_price", m.lastPrice),
			slog.Float64("price", price),
			slog.Float64("change_pct", change*100))
	}
}

func (m *Monitor) logFailureStreak(err error) {
	attrs := []any{slog.Int("streak", m.failures)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	switch {
	case m.failures == 1:
		m.log.Debug("price fetch failed", attrs...)
	case m.failures == 10 || m.failures == 50:
		m.log.Warn("price fetch failing repeatedly", attrs...)
	case m.failures >= 100 && m.failures%100 == 0:
		m.log.Error("price feed appears dead", attrs...)
	}
}

// scaledMarketCap adjusts the cached market cap by the live price so the peak
// tracker does not lag the fast feed.
func (m *Monitor) scaledMarketCap(price float64) float64 {
	if m.data.Price <= 0 || price <= 0 {
		return m.data.MarketCapUSD
	}
	return m.data.MarketCapUSD * (price / m.data.Price)
}

func (m *Monitor) alertMultiple(ctx context.Context, multiple int, obs Observation) {
	m.log.Info("price multiple crossed",
		slog.Int("multiple", multiple),
		slog.Float64("price", obs.Price))
	if m.deps.Notifier == nil {
		return
	}
	title := fmt.Sprintf("%s hit %dx", m.pos.Ticker, multiple)
	msg := fmt.Sprintf("price %.8g, market cap $%.0f, pnl %+.1f%%",
		obs.Price, obs.MarketCap, m.pos.PnLPercent*100)
	if err := m.deps.Notifier.Notify(ctx, notify.EventMultipleAlert, title, msg); err != nil {
		m.log.Warn("multiple alert failed", slog.String("error", err.Error()))
	}
}

// executeSell hands the bundled decision to the executor and, only on
// success, applies the decision's marks and status transition. A failed or
// throttled sell leaves the position untouched so the same rules re-fire next
// cycle.
func (m *Monitor) executeSell(ctx context.Context, d Decision, obs Observation) {
	rec, err := m.deps.Seller.Sell(ctx, executor.Request{
		Position:  m.pos,
		Fraction:  d.SellFraction,
		Price:     obs.Price,
		MarketCap: obs.MarketCap,
		Reason:    d.Reason(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrSellCooldown) || errors.Is(err, domain.ErrSellInFlight) {
			m.log.Debug("sell throttled", slog.String("reason", d.Reason()),
				slog.String("error", err.Error()))
			return
		}
		m.log.Error("bundled sell failed",
			slog.Float64("fraction", d.SellFraction),
			slog.String("reason", d.Reason()),
			slog.String("error", err.Error()))
		return
	}

	m.sellIssued = true
	m.strategy.ApplySell(&m.pos, d, rec)
	if m.deps.OnSell != nil {
		m.deps.OnSell(rec)
	}
	m.log.Info("bundled sell executed",
		slog.Float64("fraction", rec.Fraction),
		slog.String("reason", rec.Reason),
		slog.Float64("sold_fraction", m.pos.SoldFraction),
		slog.String("status", string(m.pos.Status)))
}

// housekeeping records snapshots and the periodic status line.
func (m *Monitor) housekeeping(ctx context.Context, obs Observation) {
	if n := m.deps.Exit.SnapshotCycles; n > 0 && m.cycle%n == 0 {
		snap := domain.Snapshot{
			Address:    m.pos.Address,
			At:         obs.Now,
			Price:      obs.Price,
			MarketCap:  obs.MarketCap,
			Buys5m:     obs.Momentum.Buys5m,
			Sells5m:    obs.Momentum.Sells5m,
			PnLPercent: m.pos.PnLPercent,
		}
		if err := m.deps.Store.AddSnapshot(ctx, snap); err != nil {
			m.log.Debug("snapshot write failed", slog.String("error", err.Error()))
		}
	}

	if n := m.deps.Exit.StatusLogCycles; n > 0 && m.cycle%n == 0 {
		m.log.Info("position status",
			slog.Float64("price", obs.Price),
			slog.Float64("multiple", m.pos.Multiple(obs.Price)),
			slog.Float64("pnl_percent", m.pos.PnLPercent*100),
			slog.Float64("stop_loss", m.pos.StopLoss),
			slog.Float64("sold_fraction", m.pos.SoldFraction),
			slog.String("status", string(m.pos.Status)))
	}
}

// detectExternalSell checks the on-chain balance out-of-band. A zero balance
// that this machine did not cause means the operator sold elsewhere: record a
// synthetic full sell at the best available price and close the position.
func (m *Monitor) detectExternalSell(ctx context.Context, obs Observation) bool {
	balance, err := m.deps.Balances.TokenBalance(ctx, m.pos.Address)
	if err != nil {
		m.log.Debug("balance check failed", slog.String("error", err.Error()))
		return false
	}
	remaining := m.pos.Remaining()
	if balance > 0 || remaining <= soldEpsilon {
		return false
	}

	m.log.Warn("external sell detected",
		slog.Float64("remaining_fraction", remaining),
		slog.Float64("estimated_price", obs.Price))

	rec := domain.SellRecord{
		ID:        uuid.NewString(),
		Address:   m.pos.Address,
		Price:     obs.Price,
		MarketCap: obs.MarketCap,
		Fraction:  remaining,
		Reason:    "EXTERNAL SELL DETECTED",
		At:        obs.Now,
	}
	if err := m.deps.Store.AppendSell(ctx, rec); err != nil {
		m.log.Error("external sell record failed", slog.String("error", err.Error()))
		return false
	}
	if m.deps.OnSell != nil {
		m.deps.OnSell(rec)
	}

	m.pos.SoldFraction = 1
	m.pos.Status = domain.StatusClosed
	closedAt := obs.Now
	m.pos.ClosedAt = &closedAt
	m.pos.Meta.ExternalSell = true
	m.pos.Meta.AddEvent("external_sell", fmt.Sprintf("estimated price %.8g", obs.Price))
	m.pos.UpdatedAt = obs.Now
	if err := m.deps.Store.Update(ctx, m.pos); err != nil {
		m.log.Warn("position update failed", slog.String("error", err.Error()))
	}
	if m.deps.OnUpdate != nil {
		m.deps.OnUpdate(m.pos)
	}
	if m.deps.Notifier != nil {
		_ = m.deps.Notifier.Notify(ctx, notify.EventPositionClosed,
			fmt.Sprintf("%s closed (external sell)", m.pos.Ticker),
			fmt.Sprintf("balance reached zero outside the bot, pnl estimated at %+.1f%%", m.pos.PnLPercent*100))
	}
	return true
}
