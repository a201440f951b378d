package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachelabs/solsniper/internal/config"
	"github.com/cachelabs/solsniper/internal/domain"
	"github.com/cachelabs/solsniper/internal/executor"
)

type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	sells     map[string][]domain.SellRecord
	snapshots int
}

func newMemStore(positions ...domain.Position) *memStore {
	s := &memStore{
		positions: make(map[string]domain.Position),
		sells:     make(map[string][]domain.SellRecord),
	}
	for _, p := range positions {
		s.positions[p.Address] = p
	}
	return s
}

func (s *memStore) Create(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.Address]; ok {
		return domain.ErrAlreadyExists
	}
	s.positions[p.Address] = p
	return nil
}

func (s *memStore) Get(ctx context.Context, address string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[address]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memStore) Update(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Address] = p
	return nil
}

func (s *memStore) SetStatus(ctx context.Context, address string, status domain.PositionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[address]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	s.positions[address] = p
	return nil
}

func (s *memStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []domain.Position
	for _, p := range s.positions {
		if p.Status.Active() {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *memStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	return nil, nil
}

func (s *memStore) AppendSell(ctx context.Context, rec domain.SellRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sells[rec.Address] = append(s.sells[rec.Address], rec)
	return nil
}

func (s *memStore) ListSells(ctx context.Context, address string) ([]domain.SellRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SellRecord(nil), s.sells[address]...), nil
}

func (s *memStore) AddSnapshot(ctx context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots++
	return nil
}

func (s *memStore) status(t *testing.T, address string) domain.PositionStatus {
	t.Helper()
	p, err := s.Get(context.Background(), address)
	require.NoError(t, err)
	return p.Status
}

type scriptedMarkets struct {
	mu         sync.Mutex
	price      float64
	fail       bool
	momentum   domain.Momentum
	lastGood   float64
	lastGoodAt time.Time
}

func (f *scriptedMarkets) setPrice(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func (f *scriptedMarkets) FastPrice(ctx context.Context, address string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, domain.ErrNoPrice
	}
	return f.price, nil
}

func (f *scriptedMarkets) Observe(ctx context.Context, address, preferredDex string) (domain.MarketData, domain.Momentum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return domain.MarketData{}, domain.Momentum{}, domain.ErrNoPrice
	}
	return domain.MarketData{Price: f.price, MarketCapUSD: f.price * 1_000_000}, f.momentum, nil
}

func (f *scriptedMarkets) LastGoodPrice(ctx context.Context, address string) (float64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastGood <= 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return f.lastGood, f.lastGoodAt, nil
}

type staticBalances struct {
	mu      sync.Mutex
	balance float64
	seq     []float64 // consumed ahead of balance when non-empty
}

func (b *staticBalances) TokenBalance(ctx context.Context, address string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.seq) > 0 {
		v := b.seq[0]
		b.seq = b.seq[1:]
		return v, nil
	}
	return b.balance, nil
}

func (b *staticBalances) TokenDecimals(ctx context.Context, address string) (int, error) {
	return 6, nil
}

func (b *staticBalances) SOLBalance(ctx context.Context) (float64, error) { return 1.0, nil }

// recordingSeller mimics the executor contract: on success it appends the
// ledger record exactly like the real one does.
type recordingSeller struct {
	mu    sync.Mutex
	store *memStore
	calls []executor.Request
	err   error
}

func (r *recordingSeller) Sell(ctx context.Context, req executor.Request) (domain.SellRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return domain.SellRecord{}, r.err
	}
	r.calls = append(r.calls, req)
	rec := domain.SellRecord{
		Address:  req.Position.Address,
		Price:    req.Price,
		Fraction: req.Fraction,
		Reason:   req.Reason,
		At:       time.Now().UTC(),
	}
	if r.store != nil {
		_ = r.store.AppendSell(ctx, rec)
	}
	return rec, nil
}

func (r *recordingSeller) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingSeller) call(i int) executor.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(ctx context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event+": "+title)
	return nil
}

func testExitConfig() config.ExitConfig {
	cfg := config.Defaults().Exit
	cfg.PollIntervalMS = 2
	cfg.FastPollIntervalMS = 1
	cfg.DataRefreshCalmCycles = 5
	cfg.DataRefreshVolatileCycles = 2
	cfg.BalanceCheckCycles = 3
	cfg.SnapshotCycles = 1000
	cfg.StatusLogCycles = 1000
	return cfg
}

func testDeps(store *memStore, markets *scriptedMarkets, balances *staticBalances, seller *recordingSeller) Deps {
	return Deps{
		Store:    store,
		Markets:  markets,
		Balances: balances,
		Seller:   seller,
		Notifier: &recordingNotifier{},
		Exit:     testExitConfig(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// runMonitor runs the monitor to completion or until the deadline, failing
// the test if the loop neither closed the position nor got cancelled.
func runMonitor(t *testing.T, m *Monitor, deadline time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline + time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitorStopLossClosesPosition(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1StopLossAddr"
	store := newMemStore(pos)
	markets := &scriptedMarkets{price: 0.5}
	balances := &staticBalances{balance: 1000}
	seller := &recordingSeller{store: store}

	m := New(pos, defaultStrategy(), testDeps(store, markets, balances, seller))
	runMonitor(t, m, 2*time.Second)

	require.Equal(t, 1, seller.callCount())
	req := seller.call(0)
	assert.InDelta(t, 1.0, req.Fraction, 1e-9)
	assert.Contains(t, req.Reason, "STOP LOSS")
	assert.Equal(t, domain.StatusClosed, store.status(t, pos.Address))
}

func TestMonitorTierSellIsOneBundledCall(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1TierAddr"
	store := newMemStore(pos)
	markets := &scriptedMarkets{price: 2.0}
	balances := &staticBalances{balance: 1000}
	seller := &recordingSeller{store: store}

	m := New(pos, defaultStrategy(), testDeps(store, markets, balances, seller))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return seller.callCount() >= 1 },
		2*time.Second, time.Millisecond)
	// Let a few more cycles observe the same price above the tier.
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	require.Equal(t, 1, seller.callCount(), "tier must fire exactly once")
	req := seller.call(0)
	assert.Equal(t, "TP 1.8x", req.Reason)
	assert.InDelta(t, 0.50, req.Fraction, 1e-9)
	assert.Equal(t, domain.StatusPartial, store.status(t, pos.Address))
}

func TestMonitorManualSellRequest(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1ManualAddr"
	store := newMemStore(pos)
	markets := &scriptedMarkets{price: 1.0}
	balances := &staticBalances{balance: 1000}
	seller := &recordingSeller{store: store}

	m := New(pos, defaultStrategy(), testDeps(store, markets, balances, seller))
	m.RequestSell()
	runMonitor(t, m, 2*time.Second)

	require.Equal(t, 1, seller.callCount())
	assert.Equal(t, "MANUAL SELL REQUEST", seller.call(0).Reason)
	assert.Equal(t, domain.StatusClosed, store.status(t, pos.Address))
}

func TestMonitorActsOnPersistedSellRequest(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1PersistedAddr"
	pos.Status = domain.StatusSellRequest // as left behind by a pre-restart command
	store := newMemStore(pos)
	markets := &scriptedMarkets{price: 1.0}
	seller := &recordingSeller{store: store}

	m := New(pos, defaultStrategy(), testDeps(store, markets, &staticBalances{balance: 1000}, seller))
	runMonitor(t, m, 2*time.Second)

	require.Equal(t, 1, seller.callCount())
	assert.Equal(t, "MANUAL SELL REQUEST", seller.call(0).Reason)
	assert.Equal(t, domain.StatusClosed, store.status(t, pos.Address))
}

func TestMonitorDetectsExternalSell(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1ExternalAddr"
	store := newMemStore(pos)
	markets := &scriptedMarkets{price: 1.0}
	balances := &staticBalances{balance: 0}
	seller := &recordingSeller{store: store}

	m := New(pos, defaultStrategy(), testDeps(store, markets, balances, seller))
	runMonitor(t, m, 2*time.Second)

	assert.Zero(t, seller.callCount(), "no swap is issued for an external sell")
	sells, err := store.ListSells(context.Background(), pos.Address)
	require.NoError(t, err)
	require.Len(t, sells, 1)
	assert.Equal(t, "EXTERNAL SELL DETECTED", sells[0].Reason)
	assert.InDelta(t, 1.0, sells[0].Fraction, 1e-9)

	closed, err := store.Get(context.Background(), pos.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.True(t, closed.Meta.ExternalSell)
}

func TestMonitorWarnsOnMajorPriceMove(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1JumpAddr"
	store := newMemStore(pos)
	markets := &scriptedMarkets{price: 1.0}
	seller := &recordingSeller{store: store}

	var buf bytes.Buffer
	deps := testDeps(store, markets, &staticBalances{balance: 1000}, seller)
	deps.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	m := New(pos, defaultStrategy(), deps)

	m.runCycle(context.Background())
	markets.setPrice(1.1)
	m.runCycle(context.Background())
	assert.NotContains(t, buf.String(), "major price move", "a 10% move is routine")

	markets.setPrice(1.5)
	m.runCycle(context.Background())
	assert.Contains(t, buf.String(), "major price move")
}

func TestMonitorBalanceCheckSkippedAfterOwnSell(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1RaceAddr"
	store := newMemStore(pos)
	markets := &scriptedMarkets{price: 2.0}
	// The wallet already reads zero right after our own sell went out; that
	// must not be mistaken for an external sell.
	balances := &staticBalances{balance: 0}
	seller := &recordingSeller{store: store}

	deps := testDeps(store, markets, balances, seller)
	deps.Exit.BalanceCheckCycles = 1
	m := New(pos, defaultStrategy(), deps)

	done, _ := m.runCycle(context.Background())
	require.False(t, done)

	require.Equal(t, 1, seller.callCount())
	sells, err := store.ListSells(context.Background(), pos.Address)
	require.NoError(t, err)
	require.Len(t, sells, 1, "the tier sell is the only ledger entry")
	assert.Equal(t, "TP 1.8x", sells[0].Reason)
	assert.Equal(t, domain.StatusPartial, store.status(t, pos.Address))

	// The grace lasts one window: a zero balance on the next check is real.
	done, _ = m.runCycle(context.Background())
	assert.True(t, done)
	assert.Equal(t, domain.StatusClosed, store.status(t, pos.Address))
}

func TestMonitorSurvivesPriceFeedOutage(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1OutageAddr"
	store := newMemStore(pos)
	markets := &scriptedMarkets{fail: true}
	balances := &staticBalances{balance: 1000}
	seller := &recordingSeller{store: store}

	m := New(pos, defaultStrategy(), testDeps(store, markets, balances, seller))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on cancellation")
	}

	assert.Zero(t, seller.callCount(), "no price means no decisions")
	assert.Equal(t, domain.StatusOpen, store.status(t, pos.Address))
}

func TestMonitorFallsBackToCachedPrice(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1CachedAddr"
	store := newMemStore(pos)
	// Upstream dead, but the last-known-good cache still has a price below
	// the stop.
	markets := &scriptedMarkets{fail: true, lastGood: 0.4, lastGoodAt: time.Now().Add(-5 * time.Minute)}
	seller := &recordingSeller{store: store}

	m := New(pos, defaultStrategy(), testDeps(store, markets, &staticBalances{balance: 1000}, seller))
	runMonitor(t, m, 2*time.Second)

	require.Equal(t, 1, seller.callCount())
	assert.Contains(t, seller.call(0).Reason, "STOP LOSS")
	assert.Equal(t, domain.StatusClosed, store.status(t, pos.Address))
}

func TestMonitorKeepsPositionOnFailedSell(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1FailedSellAddr"
	store := newMemStore(pos)
	markets := &scriptedMarkets{price: 0.5}
	seller := &recordingSeller{store: store, err: fmt.Errorf("executor: %w", domain.ErrSwapFailed)}

	m := New(pos, defaultStrategy(), testDeps(store, markets, &staticBalances{balance: 1000}, seller))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	got, err := store.Get(context.Background(), pos.Address)
	require.NoError(t, err)
	assert.NotEqual(t, domain.StatusClosed, got.Status, "a failed sell must not close the position")
	assert.Zero(t, got.SoldFraction)
}
