package microrisk

import (
	"log"
	"sync"
	"time"
)

// Strategy classifies a position's intended holding horizon.
type Strategy string

const (
	StrategyScalp     Strategy = "SCALP"
	StrategySwing     Strategy = "SWING"
	StrategyPortfolio Strategy = "PORTFOLIO"
)

// PositionShadow is the micro loop's lightweight copy of one position.
// Sync fields are owned by the main position book and overwritten on every
// sync; local fields are owned by the micro loop and survive syncs.
type PositionShadow struct {
	// Sync fields.
	Symbol     string
	Qty        int64
	AvgEntry   float64
	Strategy   Strategy
	EntryTime  time.Time
	LastSyncAt time.Time

	// Local fields.
	CurrentPrice   float64
	HighestPrice   float64 // highest mark seen since entry
	LowestPrice    float64 // lowest mark seen since entry
	MAE            float64 // most adverse excursion as a signed pnl fraction
	MFE            float64 // most favorable excursion as a signed pnl fraction
	TrailingActive bool
	TrailingStop   float64
	Frozen         bool
	TimeExtended   bool
}

// direction is +1 for long, -1 for short, 0 for flat.
func (p *PositionShadow) direction() int64 {
	switch {
	case p.Qty > 0:
		return 1
	case p.Qty < 0:
		return -1
	}
	return 0
}

// PnlPct is the signed unrealized return at the current price.
func (p *PositionShadow) PnlPct() float64 {
	if p.AvgEntry <= 0 || p.CurrentPrice <= 0 || p.Qty == 0 {
		return 0
	}
	return float64(p.direction()) * (p.CurrentPrice - p.AvgEntry) / p.AvgEntry
}

// ObservePrice folds a new mark into the local fields: current price, the
// price extremes, and the excursion watermarks.
func (p *PositionShadow) ObservePrice(price float64) {
	if price <= 0 {
		return
	}
	p.CurrentPrice = price
	if p.HighestPrice == 0 || price > p.HighestPrice {
		p.HighestPrice = price
	}
	if p.LowestPrice == 0 || price < p.LowestPrice {
		p.LowestPrice = price
	}
	if p.direction() == 0 {
		return
	}
	pnl := p.PnlPct()
	if pnl < p.MAE {
		p.MAE = pnl
	}
	if pnl > p.MFE {
		p.MFE = pnl
	}
}

// favorablePrice is the most favorable mark since entry for the position's
// direction: the highest for a long, the lowest for a short.
func (p *PositionShadow) favorablePrice() float64 {
	if p.direction() < 0 {
		return p.LowestPrice
	}
	return p.HighestPrice
}

// HeldFor is the time since entry.
func (p *PositionShadow) HeldFor(now time.Time) time.Duration {
	if p.EntryTime.IsZero() {
		return 0
	}
	return now.Sub(p.EntryTime)
}

// MainPosition is one row of the main position book offered to a sync.
type MainPosition struct {
	Symbol    string
	Qty       int64
	AvgEntry  float64
	Strategy  Strategy
	EntryTime time.Time
}

// Staleness grades how old the last sync is.
type Staleness int

const (
	SyncFresh Staleness = iota
	SyncStale
	SyncCritical
)

// ShadowManager owns the shadow book. All methods are safe for concurrent
// use; the micro loop reads while the sync path writes.
type ShadowManager struct {
	mu         sync.RWMutex
	shadows    map[string]*PositionShadow
	lastSyncAt time.Time
	maxSyncAge time.Duration
}

// NewShadowManager builds an empty book. maxSyncAge is the budget after
// which the book is considered stale; twice the budget is critical.
func NewShadowManager(maxSyncAge time.Duration) *ShadowManager {
	if maxSyncAge <= 0 {
		maxSyncAge = time.Second
	}
	return &ShadowManager{
		shadows:    make(map[string]*PositionShadow),
		maxSyncAge: maxSyncAge,
	}
}

func (m *ShadowManager) Get(symbol string) (*PositionShadow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.shadows[symbol]
	return p, ok
}

func (m *ShadowManager) Has(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.shadows[symbol]
	return ok
}

func (m *ShadowManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.shadows)
}

// Items returns the live shadows. The pointers are shared; only the micro
// loop goroutine may mutate local fields.
func (m *ShadowManager) Items() []*PositionShadow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PositionShadow, 0, len(m.shadows))
	for _, p := range m.shadows {
		out = append(out, p)
	}
	return out
}

func (m *ShadowManager) Remove(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shadows, symbol)
}

// AddPosition registers a shadow for a freshly filled position, or
// refreshes the sync fields when the symbol already has one. Local fields
// are never touched here.
func (m *ShadowManager) AddPosition(mp MainPosition, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shadow, ok := m.shadows[mp.Symbol]
	if !ok {
		shadow = &PositionShadow{Symbol: mp.Symbol}
		m.shadows[mp.Symbol] = shadow
	}
	shadow.Qty = mp.Qty
	shadow.AvgEntry = mp.AvgEntry
	shadow.Strategy = mp.Strategy
	shadow.EntryTime = mp.EntryTime
	shadow.LastSyncAt = now
}

// SyncFromMain overwrites the sync fields of known shadows from the main
// position book. Symbols without a shadow are ignored; shadows are born on
// the first fill and removed on full exit, never by the sync. A quantity
// mismatch on a known symbol is reported as a conflict before the main
// book wins; the returned conflict symbols let the caller raise alerts.
func (m *ShadowManager) SyncFromMain(positions []MainPosition, now time.Time) (conflicts []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mp := range positions {
		shadow, ok := m.shadows[mp.Symbol]
		if !ok {
			continue
		}
		if shadow.Qty != mp.Qty {
			log.Printf("microrisk: %s qty conflict: shadow=%d main=%d, main wins",
				mp.Symbol, shadow.Qty, mp.Qty)
			conflicts = append(conflicts, mp.Symbol)
		}
		shadow.Qty = mp.Qty
		shadow.AvgEntry = mp.AvgEntry
		shadow.Strategy = mp.Strategy
		shadow.EntryTime = mp.EntryTime
		shadow.LastSyncAt = now
	}
	m.lastSyncAt = now
	return conflicts
}

// CheckSyncStaleness grades the book's sync age at the given instant.
// A book that has never synced is fresh while empty and critical once it
// holds positions.
func (m *ShadowManager) CheckSyncStaleness(now time.Time) Staleness {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastSyncAt.IsZero() {
		if len(m.shadows) == 0 {
			return SyncFresh
		}
		return SyncCritical
	}
	age := now.Sub(m.lastSyncAt)
	switch {
	case age > 2*m.maxSyncAge:
		return SyncCritical
	case age > m.maxSyncAge:
		return SyncStale
	}
	return SyncFresh
}
