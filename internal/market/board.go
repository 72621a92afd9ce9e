package market

import (
	"math"
	"sync"
	"time"

	"execution-core/internal/execution"
	"execution-core/internal/microrisk"
)

// Tick is one market data update from a feed.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	At     time.Time `json:"at"`
}

// symbolState is the latest view plus a short return history per symbol.
type symbolState struct {
	last    Tick
	returns []float64
	next    int
	size    int
}

// Board is the in-process market state shared by the pipeline and the risk
// loop. It keeps the latest quote per symbol and a short return window for
// realized volatility.
type Board struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState
	window  int
	vix     float64
}

// NewBoard builds a board keeping window returns per symbol.
func NewBoard(window int) *Board {
	if window <= 0 {
		window = 60
	}
	return &Board{symbols: make(map[string]*symbolState), window: window}
}

// Apply folds a tick into the board.
func (b *Board) Apply(t Tick) {
	if t.Price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.symbols[t.Symbol]
	if !ok {
		st = &symbolState{returns: make([]float64, b.window)}
		b.symbols[t.Symbol] = st
	}
	if prev := st.last.Price; prev > 0 {
		st.returns[st.next] = (t.Price - prev) / prev
		st.next = (st.next + 1) % len(st.returns)
		if st.size < len(st.returns) {
			st.size++
		}
	}
	st.last = t
}

// SetVIX records the market wide volatility index.
func (b *Board) SetVIX(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vix = v
}

// Last returns the latest tick for the symbol.
func (b *Board) Last(symbol string) (Tick, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.symbols[symbol]
	if !ok {
		return Tick{}, false
	}
	return st.last, true
}

// TopOfBook satisfies the pipeline's market view.
func (b *Board) TopOfBook(symbol string) execution.TopOfBook {
	t, ok := b.Last(symbol)
	if !ok {
		return execution.TopOfBook{}
	}
	return execution.TopOfBook{BestBid: t.Bid, BestAsk: t.Ask}
}

// Snapshot satisfies the risk loop's market data source.
func (b *Board) Snapshot(symbol string) (microrisk.MarketSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.symbols[symbol]
	if !ok {
		return microrisk.MarketSnapshot{}, false
	}
	return microrisk.MarketSnapshot{
		Price:       st.last.Price,
		VIX:         b.vix,
		RealizedVol: realizedVol(st.returns, st.size),
	}, true
}

// realizedVol is the standard deviation of the recorded returns.
func realizedVol(returns []float64, size int) float64 {
	if size < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < size; i++ {
		sum += returns[i]
	}
	mean := sum / float64(size)
	var sq float64
	for i := 0; i < size; i++ {
		d := returns[i] - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(size-1))
}
