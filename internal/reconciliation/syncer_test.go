package reconciliation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"execution-core/internal/microrisk"
	"execution-core/internal/state"
	"execution-core/pkg/broker"
)

type fakeNotifier struct {
	mu    sync.Mutex
	codes []string
	msgs  []string
}

func (f *fakeNotifier) Notify(code, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	f.msgs = append(f.msgs, message)
}

func (f *fakeNotifier) has(code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c == code {
			return true
		}
	}
	return false
}

func TestSyncOnceRefreshesKnownShadows(t *testing.T) {
	book := state.NewBook()
	book.ApplyFill("AAPL", broker.SideBuy, 100, 100.0, microrisk.StrategyScalp)
	book.ApplyFill("MSFT", broker.SideBuy, 50, 300.0, microrisk.StrategyScalp)
	shadows := microrisk.NewShadowManager(time.Second)
	shadows.AddPosition(microrisk.MainPosition{Symbol: "AAPL", Qty: 100, AvgEntry: 99.0, Strategy: microrisk.StrategyScalp}, time.Now())

	s := NewSyncer(book, shadows, &fakeNotifier{}, 0)
	report := s.SyncOnce(time.Now())

	if report.Synced != 2 {
		t.Fatalf("synced = %d, want 2", report.Synced)
	}
	if len(report.Conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", report.Conflicts)
	}
	sh, ok := shadows.Get("AAPL")
	if !ok || sh.AvgEntry != 100.0 {
		t.Fatalf("shadow sync fields not refreshed from book: %+v", sh)
	}
	if shadows.Has("MSFT") {
		t.Fatal("sync must not create shadows; fills do")
	}
	if report.Staleness != microrisk.SyncFresh {
		t.Fatalf("staleness = %v, want fresh", report.Staleness)
	}
}

func TestSyncOnceReportsConflicts(t *testing.T) {
	book := state.NewBook()
	book.ApplyFill("AAPL", broker.SideBuy, 100, 100.0, microrisk.StrategyScalp)
	shadows := microrisk.NewShadowManager(time.Second)
	shadows.AddPosition(microrisk.MainPosition{Symbol: "AAPL", Qty: 100, AvgEntry: 100.0, Strategy: microrisk.StrategyScalp}, time.Now())
	notifier := &fakeNotifier{}
	s := NewSyncer(book, shadows, notifier, 0)

	s.SyncOnce(time.Now())

	// The book moves while the shadow still holds the old quantity.
	book.ApplyFill("AAPL", broker.SideBuy, 50, 101.0, microrisk.StrategyScalp)
	report := s.SyncOnce(time.Now())

	if len(report.Conflicts) != 1 || report.Conflicts[0] != "AAPL" {
		t.Fatalf("conflicts = %v, want [AAPL]", report.Conflicts)
	}
	if !notifier.has(microrisk.CodeFS101) {
		t.Fatalf("conflict should raise %s", microrisk.CodeFS101)
	}
	notifier.mu.Lock()
	msg := strings.Join(notifier.msgs, " ")
	notifier.mu.Unlock()
	if !strings.Contains(msg, "AAPL") {
		t.Fatalf("alert message should name the symbol: %q", msg)
	}

	// Book wins: the shadow now carries the new quantity.
	sh, _ := shadows.Get("AAPL")
	if sh.Qty != 150 {
		t.Fatalf("shadow qty = %d, want 150", sh.Qty)
	}
}

func TestSyncLeavesRemovalToExitPath(t *testing.T) {
	book := state.NewBook()
	book.ApplyFill("AAPL", broker.SideBuy, 100, 100.0, microrisk.StrategyScalp)
	shadows := microrisk.NewShadowManager(time.Second)
	shadows.AddPosition(microrisk.MainPosition{Symbol: "AAPL", Qty: 100, AvgEntry: 100.0, Strategy: microrisk.StrategyScalp}, time.Now())
	s := NewSyncer(book, shadows, nil, 0)

	s.SyncOnce(time.Now())
	book.ApplyFill("AAPL", broker.SideSell, 100, 102.0, microrisk.StrategyScalp)
	s.SyncOnce(time.Now())

	if !shadows.Has("AAPL") {
		t.Fatal("sync must not remove shadows; the exit fill does")
	}
}

func TestSyncerLoop(t *testing.T) {
	book := state.NewBook()
	book.ApplyFill("AAPL", broker.SideBuy, 10, 100.0, microrisk.StrategyScalp)
	shadows := microrisk.NewShadowManager(time.Second)
	// Shadow lags behind the book until the loop refreshes it.
	shadows.AddPosition(microrisk.MainPosition{Symbol: "AAPL", Qty: 5, AvgEntry: 100.0, Strategy: microrisk.StrategyScalp}, time.Now())
	s := NewSyncer(book, shadows, nil, 5*time.Millisecond)

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	synced := func() bool {
		sh, ok := shadows.Get("AAPL")
		return ok && sh.Qty == 10
	}
	for time.Now().Before(deadline) {
		if synced() {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !synced() {
		t.Fatalf("loop never synced the book")
	}

	s.Stop()
	s.Stop() // idempotent
}
