package market

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestBoardAppliesTicks(t *testing.T) {
	b := NewBoard(10)
	b.Apply(Tick{Symbol: "AAPL", Price: 100, Bid: 99.9, Ask: 100.1})

	last, ok := b.Last("AAPL")
	if !ok || last.Price != 100 {
		t.Fatalf("last = %+v ok=%v", last, ok)
	}
	tob := b.TopOfBook("AAPL")
	if tob.BestBid != 99.9 || tob.BestAsk != 100.1 {
		t.Fatalf("tob = %+v", tob)
	}
	if got := b.TopOfBook("MSFT"); got.BestBid != 0 || got.BestAsk != 0 {
		t.Fatalf("unknown symbol tob = %+v, want zero", got)
	}
}

func TestBoardIgnoresNonPositivePrices(t *testing.T) {
	b := NewBoard(10)
	b.Apply(Tick{Symbol: "AAPL", Price: 0})
	if _, ok := b.Last("AAPL"); ok {
		t.Fatal("zero price tick must be dropped")
	}
}

func TestBoardSnapshotRealizedVol(t *testing.T) {
	b := NewBoard(10)
	b.SetVIX(22)
	for _, p := range []float64{100, 101, 100, 102, 100} {
		b.Apply(Tick{Symbol: "AAPL", Price: p})
	}

	snap, ok := b.Snapshot("AAPL")
	if !ok {
		t.Fatal("snapshot missing")
	}
	if snap.VIX != 22 || snap.Price != 100 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.RealizedVol <= 0 {
		t.Fatalf("realized vol = %f, want positive for a moving series", snap.RealizedVol)
	}

	// A flat series has zero realized volatility.
	for i := 0; i < 10; i++ {
		b.Apply(Tick{Symbol: "FLAT", Price: 50})
	}
	snap, _ = b.Snapshot("FLAT")
	if snap.RealizedVol != 0 {
		t.Fatalf("flat series vol = %f, want 0", snap.RealizedVol)
	}
}

func TestRealizedVolMatchesSampleStddev(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.02, 0.0}
	got := realizedVol(returns, len(returns))

	mean := 0.005
	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	want := math.Sqrt(sq / 3)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("vol = %v, want %v", got, want)
	}
}

func TestMockFeedPublishes(t *testing.T) {
	board := NewBoard(10)
	ticks := make(chan Tick, 64)
	feed := &MockFeed{
		Symbols:  []string{"AAPL"},
		Interval: 5 * time.Millisecond,
		Board:    board,
		Handler:  func(tk Tick) { ticks <- tk },
	}
	ctx, cancel := context.WithCancel(context.Background())
	feed.Start(ctx)

	var got Tick
	select {
	case got = <-ticks:
	case <-time.After(time.Second):
		t.Fatal("no tick within a second")
	}
	cancel()
	feed.Stop()

	if got.Symbol != "AAPL" || got.Price <= 0 {
		t.Fatalf("tick = %+v", got)
	}
	if got.Ask <= got.Bid {
		t.Fatalf("crossed quote: %+v", got)
	}
	if _, ok := board.Last("AAPL"); !ok {
		t.Fatal("board must see the tick")
	}
}
