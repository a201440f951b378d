package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachelabs/solsniper/internal/domain"
)

type fakeStore struct {
	mu    sync.Mutex
	sells []domain.SellRecord
	err   error
}

func (s *fakeStore) Create(ctx context.Context, p domain.Position) error { return nil }
func (s *fakeStore) Get(ctx context.Context, address string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (s *fakeStore) Update(ctx context.Context, p domain.Position) error { return nil }
func (s *fakeStore) SetStatus(ctx context.Context, address string, status domain.PositionStatus) error {
	return nil
}
func (s *fakeStore) ListActive(ctx context.Context) ([]domain.Position, error) { return nil, nil }
func (s *fakeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	return nil, nil
}
func (s *fakeStore) AppendSell(ctx context.Context, rec domain.SellRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sells = append(s.sells, rec)
	return nil
}
func (s *fakeStore) ListSells(ctx context.Context, address string) ([]domain.SellRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SellRecord(nil), s.sells...), nil
}
func (s *fakeStore) AddSnapshot(ctx context.Context, snap domain.Snapshot) error { return nil }

type fakeBalances struct {
	mu       sync.Mutex
	token    float64
	tokenErr error
	sol      float64
	decimals int
	calls    int
	// afterSell simulates the balance dropping once a swap landed.
	drainOnCall int
}

func (b *fakeBalances) TokenBalance(ctx context.Context, address string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.tokenErr != nil {
		return 0, b.tokenErr
	}
	if b.drainOnCall > 0 && b.calls >= b.drainOnCall {
		return 0, nil
	}
	return b.token, nil
}

func (b *fakeBalances) TokenDecimals(ctx context.Context, address string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.decimals == 0 {
		return 6, nil
	}
	return b.decimals, nil
}

func (b *fakeBalances) SOLBalance(ctx context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sol, nil
}

type fakeSwapper struct {
	mu       sync.Mutex
	sig      string
	failures int // errors to return before succeeding
	calls    int
	requests []domain.SwapRequest
}

func (f *fakeSwapper) Swap(ctx context.Context, req domain.SwapRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.calls <= f.failures {
		return "", errors.New("blockhash expired")
	}
	return f.sig, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	louds  []string
}

func (n *fakeNotifier) Notify(ctx context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) NotifyAll(ctx context.Context, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.louds = append(n.louds, title)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Cooldown:            20 * time.Second,
		MaxAttempts:         5,
		BasePriorityFee:     0.0003,
		FeeStep:             0.0001,
		ConfirmPolls:        1,
		ConfirmPollInterval: time.Millisecond,
		RetryPause:          time.Millisecond,
	}
}

func openPosition(sold float64) domain.Position {
	return domain.Position{
		ID:           "id-1",
		Address:      "TokenAddrpump",
		Ticker:       "TEST",
		EntryPrice:   0.001,
		Status:       domain.StatusOpen,
		SoldFraction: sold,
		OpenedAt:     time.Now().Add(-time.Hour),
	}
}

func newExecutor(store *fakeStore, bal *fakeBalances, agg, pad *fakeSwapper, n *fakeNotifier) *SellExecutor {
	return NewSellExecutor(store, bal, agg, pad, n, testConfig(), testLogger())
}

func TestSellHappyPathAppendsLedger(t *testing.T) {
	store := &fakeStore{}
	bal := &fakeBalances{token: 1_000_000, sol: 1.0}
	agg := &fakeSwapper{sig: "sigA"}
	pad := &fakeSwapper{sig: "sigP"}
	n := &fakeNotifier{}
	e := newExecutor(store, bal, agg, pad, n)

	rec, err := e.Sell(context.Background(), Request{
		Position: openPosition(0),
		Fraction: 0.5,
		Price:    0.0018,
		Reason:   "TP1 @1.8x",
	})
	require.NoError(t, err)

	assert.Equal(t, 0.5, rec.Fraction)
	assert.Equal(t, "sigP", rec.TxSignature, "pump-suffixed mints route through the launchpad venue")
	require.Len(t, store.sells, 1)
	assert.Equal(t, "TP1 @1.8x", store.sells[0].Reason)
	assert.Contains(t, n.events, "sell_executed")
	assert.Zero(t, agg.calls)
}

func TestSellRoutesAggregatorForOtherMints(t *testing.T) {
	store := &fakeStore{}
	bal := &fakeBalances{token: 500}
	agg := &fakeSwapper{sig: "sigA"}
	pad := &fakeSwapper{sig: "sigP"}
	e := newExecutor(store, bal, agg, pad, &fakeNotifier{})

	pos := openPosition(0)
	pos.Address = "PlainMintAddress111"

	rec, err := e.Sell(context.Background(), Request{Position: pos, Fraction: 1.0, Reason: "STOP LOSS"})
	require.NoError(t, err)
	assert.Equal(t, "sigA", rec.TxSignature)
	assert.Zero(t, pad.calls)
}

func TestSellClampsFractionToRemaining(t *testing.T) {
	store := &fakeStore{}
	bal := &fakeBalances{token: 400}
	agg := &fakeSwapper{sig: "sig"}
	e := newExecutor(store, bal, agg, agg, &fakeNotifier{})

	// 60% already sold; a full liquidation can only take the remaining 40%.
	rec, err := e.Sell(context.Background(), Request{
		Position: openPosition(0.60),
		Fraction: 1.0,
		Reason:   "TRAILING STOP",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.40, rec.Fraction, 1e-9)

	// The whole wallet balance goes: the balance covers exactly the remainder.
	require.Len(t, agg.requests, 1)
	assert.InDelta(t, 400.0, agg.requests[0].Amount, 1e-6)
	assert.False(t, agg.requests[0].IsBuy)
	assert.Equal(t, domain.WrappedSOLMint, agg.requests[0].OutputMint)
}

func TestSellPartialFractionScalesBalance(t *testing.T) {
	store := &fakeStore{}
	bal := &fakeBalances{token: 1000}
	agg := &fakeSwapper{sig: "sig"}
	e := newExecutor(store, bal, agg, agg, &fakeNotifier{})

	// Half already sold, selling 20% of original = 40% of what's left.
	_, err := e.Sell(context.Background(), Request{
		Position: openPosition(0.50),
		Fraction: 0.20,
		Reason:   "TP2 @3x",
	})
	require.NoError(t, err)
	require.Len(t, agg.requests, 1)
	assert.InDelta(t, 400.0, agg.requests[0].Amount, 1e-6)
}

func TestSellCarriesMintDecimalsIntoSwap(t *testing.T) {
	store := &fakeStore{}
	bal := &fakeBalances{token: 250, decimals: 9}
	agg := &fakeSwapper{sig: "sig"}
	e := newExecutor(store, bal, agg, agg, &fakeNotifier{})

	_, err := e.Sell(context.Background(), Request{Position: openPosition(0), Fraction: 1.0, Reason: "STOP LOSS"})
	require.NoError(t, err)

	require.Len(t, agg.requests, 1)
	assert.Equal(t, 9, agg.requests[0].Decimals)
	assert.InDelta(t, 250.0, agg.requests[0].Amount, 1e-6, "sell amount stays in UI units")
}

func TestSellEscalatesPriorityFeeAcrossRetries(t *testing.T) {
	store := &fakeStore{}
	bal := &fakeBalances{token: 100}
	agg := &fakeSwapper{sig: "sig", failures: 2}
	e := newExecutor(store, bal, agg, agg, &fakeNotifier{})

	_, err := e.Sell(context.Background(), Request{Position: openPosition(0), Fraction: 1.0, Reason: "STOP LOSS"})
	require.NoError(t, err)

	require.Len(t, agg.requests, 3)
	assert.InDelta(t, 0.0003, agg.requests[0].PriorityFee, 1e-9)
	assert.InDelta(t, 0.0004, agg.requests[1].PriorityFee, 1e-9)
	assert.InDelta(t, 0.0005, agg.requests[2].PriorityFee, 1e-9)
}

func TestSellExhaustedRetriesFailsLoud(t *testing.T) {
	store := &fakeStore{}
	bal := &fakeBalances{token: 100}
	agg := &fakeSwapper{failures: 100}
	n := &fakeNotifier{}
	e := newExecutor(store, bal, agg, agg, n)

	_, err := e.Sell(context.Background(), Request{Position: openPosition(0), Fraction: 1.0, Reason: "STOP LOSS"})
	require.ErrorIs(t, err, domain.ErrSwapFailed)

	assert.Equal(t, 5, agg.calls, "retry budget is bounded")
	assert.Empty(t, store.sells, "no ledger entry without a transaction")
	assert.NotEmpty(t, n.louds, "failure must page the operator")
}

func TestSellNeverResubmitsAfterSignature(t *testing.T) {
	store := &fakeStore{}
	// Balance never decreases: confirmation stays pending.
	bal := &fakeBalances{token: 100}
	agg := &fakeSwapper{sig: "sig-final"}
	e := newExecutor(store, bal, agg, agg, &fakeNotifier{})

	rec, err := e.Sell(context.Background(), Request{Position: openPosition(0), Fraction: 1.0, Reason: "ZOMBIE"})
	require.NoError(t, err)

	assert.Equal(t, 1, agg.calls, "a submitted transaction is final")
	assert.Equal(t, "sig-final", rec.TxSignature)
	assert.Zero(t, rec.AmountReceived, "unconfirmed sells do not guess the proceeds")
	require.Len(t, store.sells, 1)
}

func TestSellRejectsWhenInFlight(t *testing.T) {
	store := &fakeStore{}
	bal := &fakeBalances{token: 100}
	agg := &fakeSwapper{sig: "sig"}
	e := newExecutor(store, bal, agg, agg, &fakeNotifier{})

	e.acquire("TokenAddrpump")
	defer e.release("TokenAddrpump")

	_, err := e.Sell(context.Background(), Request{Position: openPosition(0), Fraction: 0.5, Reason: "TP1"})
	assert.ErrorIs(t, err, domain.ErrSellInFlight)
	assert.Zero(t, agg.calls)
}

func TestSellHonoursCooldown(t *testing.T) {
	store := &fakeStore{}
	bal := &fakeBalances{token: 100}
	agg := &fakeSwapper{sig: "sig"}
	e := newExecutor(store, bal, agg, agg, &fakeNotifier{})

	_, err := e.Sell(context.Background(), Request{Position: openPosition(0), Fraction: 0.25, Reason: "TP1"})
	require.NoError(t, err)

	_, err = e.Sell(context.Background(), Request{Position: openPosition(0.25), Fraction: 0.25, Reason: "TP2"})
	assert.ErrorIs(t, err, domain.ErrSellCooldown)
	assert.Equal(t, 1, agg.calls)
}

func TestSellZeroBalance(t *testing.T) {
	store := &fakeStore{}
	bal := &fakeBalances{token: 0}
	agg := &fakeSwapper{sig: "sig"}
	e := newExecutor(store, bal, agg, agg, &fakeNotifier{})

	_, err := e.Sell(context.Background(), Request{Position: openPosition(0), Fraction: 1.0, Reason: "STOP LOSS"})
	assert.ErrorIs(t, err, domain.ErrNoBalance)
}

func TestSellClosedPosition(t *testing.T) {
	store := &fakeStore{}
	e := newExecutor(store, &fakeBalances{token: 100}, &fakeSwapper{sig: "s"}, nil, &fakeNotifier{})

	_, err := e.Sell(context.Background(), Request{Position: openPosition(1.0), Fraction: 0.5, Reason: "TP1"})
	assert.ErrorIs(t, err, domain.ErrPositionClosed)
}

func TestCooldownLifecycle(t *testing.T) {
	c := NewCooldown(10 * time.Millisecond)

	assert.False(t, c.Active("a"))
	c.Touch("a")
	assert.True(t, c.Active("a"))

	time.Sleep(15 * time.Millisecond)
	assert.False(t, c.Active("a"))

	c.Cleanup()
	c.mu.Lock()
	assert.Empty(t, c.last)
	c.mu.Unlock()
}
