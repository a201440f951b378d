package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachelabs/solsniper/internal/domain"
)

func newTestSupervisor(store *memStore, markets *scriptedMarkets) (*Supervisor, *recordingSeller) {
	seller := &recordingSeller{store: store}
	sup := NewSupervisor(testDeps(store, markets, &staticBalances{balance: 1000}, seller))
	return sup, seller
}

func TestStartMonitorDeduplicates(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1DedupAddr"
	store := newMemStore(pos)
	sup, _ := newTestSupervisor(store, &scriptedMarkets{price: 1.0})
	defer sup.Stop()

	ctx := context.Background()
	sup.StartMonitor(ctx, pos)
	sup.StartMonitor(ctx, pos)

	assert.Equal(t, []string{pos.Address}, sup.Active())
}

func TestStartMonitorIgnoresClosedPositions(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1ClosedAddr"
	pos.Status = domain.StatusClosed
	sup, _ := newTestSupervisor(newMemStore(pos), &scriptedMarkets{price: 1.0})
	defer sup.Stop()

	sup.StartMonitor(context.Background(), pos)
	assert.Empty(t, sup.Active())
}

func TestResumeAllAttachesEveryActivePosition(t *testing.T) {
	a := openPosition(1.0)
	a.Address = "So1ResumeA"
	b := openPosition(2.0)
	b.Address = "So1ResumeB"
	b.Status = domain.StatusPartial
	closed := openPosition(3.0)
	closed.Address = "So1ResumeClosed"
	closed.Status = domain.StatusClosed

	store := newMemStore(a, b, closed)
	sup, _ := newTestSupervisor(store, &scriptedMarkets{price: 1.0})
	defer sup.Stop()

	count, err := sup.ResumeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, sup.Watching(a.Address))
	assert.True(t, sup.Watching(b.Address))
	assert.False(t, sup.Watching(closed.Address))

	// Idempotent: a second resume attaches nothing new.
	count, err = sup.ResumeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, sup.Active(), 2)
}

func TestMonitorDetachesWhenPositionCloses(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1DetachAddr"
	store := newMemStore(pos)
	sup, seller := newTestSupervisor(store, &scriptedMarkets{price: 0.5})
	defer sup.Stop()

	sup.StartMonitor(context.Background(), pos)
	require.Eventually(t, func() bool { return !sup.Watching(pos.Address) },
		2*time.Second, time.Millisecond, "monitor should detach after the stop loss closes the position")

	assert.Equal(t, 1, seller.callCount())
	assert.Equal(t, domain.StatusClosed, store.status(t, pos.Address))
}

func TestRequestSellLiquidatesViaRunningMonitor(t *testing.T) {
	pos := openPosition(1.0)
	pos.Address = "So1RequestAddr"
	store := newMemStore(pos)
	sup, seller := newTestSupervisor(store, &scriptedMarkets{price: 1.0})
	defer sup.Stop()

	sup.StartMonitor(context.Background(), pos)
	require.NoError(t, sup.RequestSell(context.Background(), pos.Address))

	require.Eventually(t, func() bool { return !sup.Watching(pos.Address) },
		2*time.Second, time.Millisecond)
	require.Equal(t, 1, seller.callCount())
	assert.Equal(t, "MANUAL SELL REQUEST", seller.call(0).Reason)
	assert.Equal(t, domain.StatusClosed, store.status(t, pos.Address))
}

func TestRequestSellUnknownAddress(t *testing.T) {
	sup, _ := newTestSupervisor(newMemStore(), &scriptedMarkets{price: 1.0})
	defer sup.Stop()

	err := sup.RequestSell(context.Background(), "So1MissingAddr")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStopCancelsAllMonitors(t *testing.T) {
	a := openPosition(1.0)
	a.Address = "So1StopA"
	b := openPosition(1.0)
	b.Address = "So1StopB"
	store := newMemStore(a, b)
	sup, _ := newTestSupervisor(store, &scriptedMarkets{price: 1.0})

	ctx := context.Background()
	sup.StartMonitor(ctx, a)
	sup.StartMonitor(ctx, b)
	require.Len(t, sup.Active(), 2)

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Empty(t, sup.Active())
}
