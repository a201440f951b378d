package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cachelabs/solsniper/internal/domain"
)

// Supervisor owns the set of running monitors. It guarantees at most one
// monitor per token address, re-attaches monitors to every non-terminal
// position on startup, and releases a monitor's per-position state when it
// terminates.
type Supervisor struct {
	deps     Deps
	strategy *Strategy
	log      *slog.Logger

	mu     sync.Mutex
	active map[string]*running
	wg     sync.WaitGroup
}

type running struct {
	monitor *Monitor
	cancel  context.CancelFunc
}

// NewSupervisor builds a Supervisor sharing one Deps across all monitors.
func NewSupervisor(deps Deps) *Supervisor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		deps:     deps,
		strategy: NewStrategy(deps.Exit),
		log:      logger.With(slog.String("component", "supervisor")),
		active:   make(map[string]*running),
	}
}

// StartMonitor attaches a monitor to the position. It is a no-op when the
// address is already being watched or the position is terminal.
func (s *Supervisor) StartMonitor(ctx context.Context, pos domain.Position) {
	if !pos.Status.Active() {
		return
	}

	s.mu.Lock()
	if _, ok := s.active[pos.Address]; ok {
		s.mu.Unlock()
		return
	}
	monCtx, cancel := context.WithCancel(ctx)
	m := New(pos, s.strategy, s.deps)
	s.active[pos.Address] = &running{monitor: m, cancel: cancel}
	s.mu.Unlock()

	s.log.Info("monitor attached",
		slog.String("address", pos.Address),
		slog.String("ticker", pos.Ticker))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.remove(pos.Address)
		m.Run(monCtx)
	}()
}

// ResumeAll re-attaches a monitor to every non-terminal position in the
// store. Idempotent: already-watched addresses are skipped by StartMonitor.
func (s *Supervisor) ResumeAll(ctx context.Context) (int, error) {
	positions, err := s.deps.Store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("monitor: list active positions: %w", err)
	}
	for _, pos := range positions {
		s.StartMonitor(ctx, pos)
	}
	if len(positions) > 0 {
		s.log.Info("resumed monitors", slog.Int("count", len(positions)))
	}
	return len(positions), nil
}

// RequestSell forces a full liquidation of the position. The command is
// persisted as SELL_REQUEST so it survives a restart, and the running monitor
// (if any) is flagged so it acts on the very next cycle.
func (s *Supervisor) RequestSell(ctx context.Context, address string) error {
	if err := s.deps.Store.SetStatus(ctx, address, domain.StatusSellRequest); err != nil {
		return fmt.Errorf("monitor: request sell %s: %w", address, err)
	}

	s.mu.Lock()
	r, ok := s.active[address]
	s.mu.Unlock()
	if ok {
		r.monitor.RequestSell()
	}
	s.log.Info("sell requested", slog.String("address", address))
	return nil
}

// Watching reports whether the address currently has a monitor attached.
func (s *Supervisor) Watching(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[address]
	return ok
}

// Active returns the watched addresses in stable order.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]string, 0, len(s.active))
	for addr := range s.active {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Stop cancels every monitor and waits for them to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	for _, r := range s.active {
		r.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Supervisor) remove(address string) {
	s.mu.Lock()
	delete(s.active, address)
	s.mu.Unlock()
	s.log.Info("monitor detached", slog.String("address", address))
}
