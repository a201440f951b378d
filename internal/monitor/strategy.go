// Package monitor runs one exit-strategy state machine per open position and
// the supervisor that owns them. The strategy layer is pure: it inspects a
// position and one market observation and produces marks and a bundled sell
// decision, leaving all I/O to the monitor loop.
package monitor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cachelabs/solsniper/internal/config"
	"github.com/cachelabs/solsniper/internal/domain"
)

// soldEpsilon absorbs float drift when deciding whether a position is fully
// sold.
const soldEpsilon = 1e-9

// Observation is the market input to one evaluation cycle.
type Observation struct {
	Price     float64
	MarketCap float64
	Momentum  domain.Momentum
	Now       time.Time
}

// Decision is the outcome of one evaluation cycle: every rule that wants to
// sell has been merged into a single fraction of the ORIGINAL position, with
// the contributing reasons joined for the ledger. Marks for the rules that
// fired (tier flags, volume-decay flag) are applied only after the sell
// succeeds, via ApplySell.
type Decision struct {
	SellFraction float64
	Reasons      []string
	Tiers        []string
	VolumeDecay  bool
	// Terminate means the loop must stop after this cycle's sell completes
	// (manual override, zombie kill, hard stop).
	Terminate bool
}

// Reason returns the joined reason string recorded on the ledger entry.
func (d Decision) Reason() string {
	return strings.Join(d.Reasons, " + ")
}

// Strategy evaluates the exit rules for a position. It is stateless and safe
// to share across monitors.
type Strategy struct {
	cfg   config.ExitConfig
	tiers []config.Tier // ascending by multiple
}

// NewStrategy builds a Strategy from the exit configuration.
func NewStrategy(cfg config.ExitConfig) *Strategy {
	return &Strategy{cfg: cfg, tiers: cfg.SortedTiers()}
}

// UpdateMarks applies the sell-independent effects of one observation to the
// position: PnL, highest price, peak market cap, the one-time break-even
// lock, the trailing stop ratchet, peak volume tracking, and the integer
// multiple alert cursor. It returns the integer multiples newly crossed since
// the last alert, in ascending order, never skipping one.
func (s *Strategy) UpdateMarks(p *domain.Position, obs Observation) []int {
	if p.EntryPrice > 0 && obs.Price > 0 {
		p.PnLPercent = obs.Price/p.EntryPrice - 1
	}
	if obs.Price > p.HighestPrice {
		p.HighestPrice = obs.Price
	}
	if obs.MarketCap > p.PeakMarketCap {
		p.PeakMarketCap = obs.MarketCap
	}

	if !p.Meta.BreakEvenLocked && s.cfg.BreakEvenAtPnL > 0 && p.PnLPercent >= s.cfg.BreakEvenAtPnL {
		p.Meta.BreakEvenLocked = true
		if p.EntryPrice > p.StopLoss {
			p.StopLoss = p.EntryPrice
		}
		p.Meta.AddEvent("break_even_lock", fmt.Sprintf("stop raised to entry %.8g", p.EntryPrice))
	}

	// Trailing stop only ratchets upward, and only once the position can no
	// longer close at a loss.
	if p.Meta.BreakEvenLocked {
		if trail := p.HighestPrice * (1 - s.cfg.TrailingStopFraction); trail > p.StopLoss {
			p.StopLoss = trail
		}
	}

	if p.PnLPercent >= s.cfg.VolumeDecayMinPnL {
		if tx := obs.Momentum.TxCount(); tx > p.Meta.PeakVolume {
			p.Meta.PeakVolume = tx
		}
	}

	return s.crossedMultiples(p, obs.Price)
}

// crossedMultiples advances the alert cursor and returns every integer
// multiple from the cursor up to the current one, starting at 2x.
func (s *Strategy) crossedMultiples(p *domain.Position, price float64) []int {
	current := int(math.Floor(p.Multiple(price)))
	if current < 2 || current <= p.Meta.LastAlertMultiple {
		return nil
	}
	from := p.Meta.LastAlertMultiple + 1
	if from < 2 {
		from = 2
	}
	var crossed []int
	for m := from; m <= current; m++ {
		crossed = append(crossed, m)
	}
	p.Meta.LastAlertMultiple = current
	return crossed
}

// DecideSells evaluates the exit rules in priority order and returns the
// bundled sell for this cycle. It never mutates the position: marks land in
// ApplySell once the sell has actually executed. manual forces a full
// liquidation regardless of anything else.
func (s *Strategy) DecideSells(p *domain.Position, obs Observation, manual bool) Decision {
	remaining := p.Remaining()
	if remaining <= soldEpsilon || p.Status.Terminal() {
		return Decision{Terminate: true}
	}

	if manual || p.Status == domain.StatusSellRequest {
		return Decision{
			SellFraction: remaining,
			Reasons:      []string{"MANUAL SELL REQUEST"},
			Terminate:    true,
		}
	}

	if s.cfg.ZombieMaxHold() > 0 && obs.Now.Sub(p.OpenedAt) > s.cfg.ZombieMaxHold() && p.PnLPercent < 0 {
		return Decision{
			SellFraction: remaining,
			Reasons: []string{fmt.Sprintf("ZOMBIE KILL (held %s at a loss)",
				obs.Now.Sub(p.OpenedAt).Round(time.Minute))},
			Terminate: true,
		}
	}

	var d Decision
	multiple := p.Multiple(obs.Price)
	for _, tier := range s.tiers {
		if multiple >= tier.Multiple && !p.Meta.TierHit(tier.Name) {
			d.SellFraction += tier.SellFraction
			d.Reasons = append(d.Reasons, "TP "+tier.Name)
			d.Tiers = append(d.Tiers, tier.Name)
		}
	}

	if !p.Meta.VolumeDecayFired &&
		p.PnLPercent >= s.cfg.VolumeDecayMinPnL &&
		p.Meta.PeakVolume > s.cfg.VolumeDecayPeakFloor &&
		float64(obs.Momentum.TxCount()) < float64(p.Meta.PeakVolume)*s.cfg.VolumeDecayDropFraction {
		d.SellFraction += s.cfg.VolumeDecaySellFraction
		d.Reasons = append(d.Reasons, "VOLUME DECAY")
		d.VolumeDecay = true
	}

	if p.StopLoss > 0 && obs.Price > 0 && obs.Price <= p.StopLoss {
		d.SellFraction = remaining
		d.Reasons = append(d.Reasons, fmt.Sprintf("STOP LOSS @ %.8g", p.StopLoss))
		d.Terminate = true
	}

	if d.SellFraction > remaining {
		d.SellFraction = remaining
	}
	return d
}

// ApplySell records a completed bundled sell on the position: tier flags and
// their stop floors, the volume-decay flag, the cumulative sold fraction, and
// the resulting status transition. rec is the ledger record the executor
// appended.
func (s *Strategy) ApplySell(p *domain.Position, d Decision, rec domain.SellRecord) {
	for _, name := range d.Tiers {
		p.Meta.MarkTier(name)
		p.Meta.AddEvent("tier_hit", name)
		if tier, ok := s.tierByName(name); ok && tier.StopFloorMultiple > 0 {
			if floor := p.EntryPrice * tier.StopFloorMultiple; floor > p.StopLoss {
				p.StopLoss = floor
			}
		}
	}
	if d.VolumeDecay {
		p.Meta.VolumeDecayFired = true
		p.Meta.AddEvent("volume_decay", d.Reason())
	}

	p.SoldFraction += rec.Fraction
	if p.SoldFraction > 1 {
		p.SoldFraction = 1
	}

	switch {
	case d.Terminate || p.SoldFraction >= 1-soldEpsilon:
		now := rec.At
		if now.IsZero() {
			now = time.Now().UTC()
		}
		p.Status = domain.StatusClosed
		p.ClosedAt = &now
	case s.allTiersHit(p):
		p.Status = domain.StatusMoonbag
	default:
		p.Status = domain.StatusPartial
	}
}

func (s *Strategy) tierByName(name string) (config.Tier, bool) {
	for _, t := range s.tiers {
		if t.Name == name {
			return t, true
		}
	}
	return config.Tier{}, false
}

func (s *Strategy) allTiersHit(p *domain.Position) bool {
	for _, t := range s.tiers {
		if !p.Meta.TierHit(t.Name) {
			return false
		}
	}
	return true
}
