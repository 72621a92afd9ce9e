package microrisk

import (
	"math"
	"sync"
)

// priceRing is a fixed capacity ring of recent marks for one symbol.
type priceRing struct {
	buf  []float64
	next int
	size int
}

func newPriceRing(capacity int) *priceRing {
	return &priceRing{buf: make([]float64, capacity)}
}

func (r *priceRing) push(price float64) {
	r.buf[r.next] = price
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *priceRing) last() (float64, bool) {
	if r.size == 0 {
		return 0, false
	}
	idx := (r.next - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// recent returns up to n most recent marks, newest first.
func (r *priceRing) recent(n int) []float64 {
	if n > r.size {
		n = r.size
	}
	out := make([]float64, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// PriceBook keeps per symbol rings of recent marks and flags implausible
// jumps between consecutive ticks.
type PriceBook struct {
	mu       sync.Mutex
	rings    map[string]*priceRing
	capacity int
	jumpPct  float64
}

// NewPriceBook builds a book holding capacity marks per symbol. A tick
// moving more than jumpPct from its predecessor is reported as anomalous.
func NewPriceBook(capacity int, jumpPct float64) *PriceBook {
	if capacity <= 0 {
		capacity = 100
	}
	if jumpPct <= 0 {
		jumpPct = 0.05
	}
	return &PriceBook{
		rings:    make(map[string]*priceRing),
		capacity: capacity,
		jumpPct:  jumpPct,
	}
}

// Ingest records a mark and reports whether it jumped implausibly far from
// the previous one. Anomalous marks are still recorded; the caller decides
// what to do with the flag.
func (b *PriceBook) Ingest(symbol string, price float64) (anomaly bool) {
	if price <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ring, ok := b.rings[symbol]
	if !ok {
		ring = newPriceRing(b.capacity)
		b.rings[symbol] = ring
	}
	if prev, ok := ring.last(); ok && prev > 0 {
		if math.Abs(price-prev)/prev >= b.jumpPct {
			anomaly = true
		}
	}
	ring.push(price)
	return anomaly
}

// Last returns the most recent mark for the symbol.
func (b *PriceBook) Last(symbol string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring, ok := b.rings[symbol]
	if !ok {
		return 0, false
	}
	return ring.last()
}

// Recent returns up to n recent marks for the symbol, newest first.
func (b *PriceBook) Recent(symbol string, n int) []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring, ok := b.rings[symbol]
	if !ok {
		return nil
	}
	return ring.recent(n)
}
