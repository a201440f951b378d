package executor

import (
	"sync"
	"time"
)

// Cooldown enforces a minimum gap between completed sells per token address.
// It is safe for concurrent use.
type Cooldown struct {
	last map[string]time.Time // address -> last completed sell
	gap  time.Duration
	mu   sync.Mutex
}

// NewCooldown creates a Cooldown with the given minimum gap.
func NewCooldown(gap time.Duration) *Cooldown {
	return &Cooldown{
		last: make(map[string]time.Time),
		gap:  gap,
	}
}

// Active returns true while the address is still inside its cooldown window.
func (c *Cooldown) Active(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.last[address]
	if !ok {
		return false
	}
	return time.Since(last) < c.gap
}

// Touch restarts the cooldown window for the address.
func (c *Cooldown) Touch(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[address] = time.Now()
}

// Cleanup removes entries whose window has long expired. Call periodically to
// prevent unbounded growth across many short-lived positions.
func (c *Cooldown) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for addr, ts := range c.last {
		if now.Sub(ts) >= c.gap {
			delete(c.last, addr)
		}
	}
}
