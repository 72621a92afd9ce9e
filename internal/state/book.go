package state

import (
	"log"
	"sync"
	"time"

	"execution-core/internal/microrisk"
	"execution-core/pkg/broker"
)

// Position is one entry in the main position book. Qty is signed:
// positive long, negative short.
type Position struct {
	Symbol    string             `json:"symbol"`
	Qty       int64              `json:"qty"`
	AvgEntry  float64            `json:"avg_entry"`
	Strategy  microrisk.Strategy `json:"strategy"`
	EntryTime time.Time          `json:"entry_time"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Book is the authoritative in-memory position store. The execution
// driver applies fills into it and the reconciliation syncer pushes it
// down to the micro-risk shadow set. Durable history lives in the
// executions table, not here.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

func NewBook() *Book {
	return &Book{positions: make(map[string]*Position)}
}

// Position returns a copy of the entry for symbol, or a zero-qty
// placeholder when the book has no entry.
func (b *Book) Position(symbol string) Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if p, ok := b.positions[symbol]; ok {
		return *p
	}
	return Position{Symbol: symbol}
}

// Positions returns a copy of every open (non-flat) position.
func (b *Book) Positions() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}

func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// ApplyFill folds one executed fill into the book. Adding in the same
// direction re-averages the entry price; reducing keeps it. Crossing
// through zero opens a fresh position at the fill price.
func (b *Book) ApplyFill(symbol string, side broker.Side, qty int64, price float64, strategy microrisk.Strategy) Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	delta := qty
	if side == broker.SideSell {
		delta = -qty
	}

	now := time.Now()
	p, ok := b.positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol, Strategy: strategy, EntryTime: now}
		b.positions[symbol] = p
	}

	prev := p.Qty
	next := prev + delta

	switch {
	case prev == 0 || sameSign(prev, delta):
		// Opening or adding: volume-weighted average entry.
		total := abs(prev) + abs(delta)
		if total > 0 {
			p.AvgEntry = (p.AvgEntry*float64(abs(prev)) + price*float64(abs(delta))) / float64(total)
		}
		if prev == 0 {
			p.EntryTime = now
			p.Strategy = strategy
		}
	case sameSign(prev, next) || next == 0:
		// Reducing or closing: entry price unchanged.
	default:
		// Flipped through zero: remainder is a new position.
		p.AvgEntry = price
		p.EntryTime = now
		p.Strategy = strategy
	}

	p.Qty = next
	p.UpdatedAt = now

	if next == 0 {
		delete(b.positions, symbol)
		return Position{Symbol: symbol, UpdatedAt: now}
	}
	return *p
}

// SetPosition overwrites one entry, used when an external source of
// truth disagrees with the book. Qty 0 removes the entry.
func (b *Book) SetPosition(symbol string, qty int64, avgEntry float64, strategy microrisk.Strategy) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if qty == 0 {
		delete(b.positions, symbol)
		return
	}

	now := time.Now()
	p, ok := b.positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol, EntryTime: now}
		b.positions[symbol] = p
	}
	p.Qty = qty
	p.AvgEntry = avgEntry
	p.Strategy = strategy
	p.UpdatedAt = now
	log.Printf("state: position set %s qty=%d avg=%.4f", symbol, qty, avgEntry)
}

// MainPositions renders the book in the shape the shadow sync consumes.
func (b *Book) MainPositions() []microrisk.MainPosition {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]microrisk.MainPosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, microrisk.MainPosition{
			Symbol:    p.Symbol,
			Qty:       p.Qty,
			AvgEntry:  p.AvgEntry,
			Strategy:  p.Strategy,
			EntryTime: p.EntryTime,
		})
	}
	return out
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
