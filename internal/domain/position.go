package domain

import "time"

// PositionStatus tracks where a position is in its lifecycle.
type PositionStatus string

const (
	// StatusOpen means the full position is still held.
	StatusOpen PositionStatus = "OPEN"
	// StatusPartial means at least one take-profit tier has fired.
	StatusPartial PositionStatus = "PARTIAL"
	// StatusMoonbag means all standard tiers have fired and only the
	// residual fraction is riding with a trailing stop.
	StatusMoonbag PositionStatus = "MOONBAG"
	// StatusSellRequest is an operator-forced full liquidation. The monitor
	// treats it as a preemptive command, not a resting state.
	StatusSellRequest PositionStatus = "SELL_REQUEST"
	// StatusClosed is terminal: no tokens remain under management.
	StatusClosed PositionStatus = "CLOSED"
)

// Terminal reports whether the status is final.
func (s PositionStatus) Terminal() bool {
	return s == StatusClosed
}

// Active reports whether a monitor should be (or stay) attached.
func (s PositionStatus) Active() bool {
	return s != StatusClosed && s != ""
}

// Position is one open-to-closed trading engagement with a single token.
// The token address is the unique key; at most one non-terminal position
// exists per address.
type Position struct {
	ID      string
	Address string
	Ticker  string
	Source  string

	EntryPrice     float64
	EntryMarketCap float64
	EntryAmountSOL float64
	EntryLiquidity float64
	EntryVolume24h float64
	DexID          string
	TokenAgeMins   float64

	Status        PositionStatus
	PnLPercent    float64 // running realized+unrealized PnL as a fraction (0.5 == +50%)
	HighestPrice  float64 // monotonically non-decreasing
	StopLoss      float64 // ratchets upward after its initial assignment
	SoldFraction  float64 // cumulative fraction of the original position sold, <= 1.0
	PeakMarketCap float64

	Meta PositionMeta

	OpenedAt  time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// Multiple returns the current price multiple relative to entry, or zero when
// the entry price is unknown.
func (p Position) Multiple(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return price / p.EntryPrice
}

// Remaining returns the fraction of the original position still held.
func (p Position) Remaining() float64 {
	r := 1.0 - p.SoldFraction
	if r < 0 {
		return 0
	}
	return r
}

// PositionMeta is the per-position mutable metadata blob persisted alongside
// the row. Downstream consumers (dashboard, reporting) read it as JSON, so
// fields must stay stable.
type PositionMeta struct {
	TiersHit          []string         `json:"tiers_hit,omitempty"`
	BreakEvenLocked   bool             `json:"break_even_locked,omitempty"`
	LastAlertMultiple int              `json:"last_alert_multiple,omitempty"`
	PeakVolume        int              `json:"peak_volume,omitempty"`
	VolumeDecayFired  bool             `json:"volume_decay_fired,omitempty"`
	ExternalSell      bool             `json:"external_sell,omitempty"`
	Events            []LifecycleEvent `json:"events,omitempty"`
}

// TierHit reports whether the named take-profit tier has already fired.
func (m *PositionMeta) TierHit(name string) bool {
	for _, t := range m.TiersHit {
		if t == name {
			return true
		}
	}
	return false
}

// MarkTier records that the named tier fired. It is idempotent: a tier flag,
// once set, is never unset or duplicated.
func (m *PositionMeta) MarkTier(name string) {
	if m.TierHit(name) {
		return
	}
	m.TiersHit = append(m.TiersHit, name)
}

// AddEvent appends a timestamped lifecycle event.
func (m *PositionMeta) AddEvent(kind, detail string) {
	m.Events = append(m.Events, LifecycleEvent{
		At:     time.Now().UTC(),
		Kind:   kind,
		Detail: detail,
	})
}

// LifecycleEvent is one append-only entry in a position's event history
// (tier hits, stop-loss moves, lock acquisitions).
type LifecycleEvent struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// SellRecord is one partial or full sell appended to a position's ledger.
// Fraction is expressed against the ORIGINAL position size, so the sum of
// fractions across a position's ledger never exceeds 1.0.
type SellRecord struct {
	ID             string
	Address        string
	Price          float64
	MarketCap      float64
	AmountReceived float64 // base currency (SOL) received
	Fraction       float64
	Reason         string
	TxSignature    string
	At             time.Time
}

// Snapshot is a point-in-time observation of a monitored position, recorded
// on a coarse cadence for later time-series analysis.
type Snapshot struct {
	Address    string
	At         time.Time
	Price      float64
	MarketCap  float64
	Buys5m     int
	Sells5m    int
	PnLPercent float64
}
