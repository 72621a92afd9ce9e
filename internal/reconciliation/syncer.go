package reconciliation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"execution-core/internal/microrisk"
	"execution-core/internal/state"
)

// Notifier receives sync alerts, usually the monitor recorder.
type Notifier interface {
	Notify(code, message string)
}

// Syncer periodically pushes the main position book down into the
// micro-risk shadow set. The book always wins: sync fields of known
// shadows are overwritten on every pass and conflicts are reported, not
// resolved here. Shadow creation and removal belong to the fill path.
type Syncer struct {
	book     *state.Book
	shadows  *microrisk.ShadowManager
	notifier Notifier
	interval time.Duration

	mu      sync.Mutex
	last    Report
	wg      conc.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// Report summarizes one sync pass.
type Report struct {
	Timestamp time.Time
	Synced    int
	Conflicts []string
	Staleness microrisk.Staleness
}

func NewSyncer(book *state.Book, shadows *microrisk.ShadowManager, notifier Notifier, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Syncer{
		book:     book,
		shadows:  shadows,
		notifier: notifier,
		interval: interval,
	}
}

// SyncOnce runs a single sync pass.
func (s *Syncer) SyncOnce(now time.Time) Report {
	positions := s.book.MainPositions()
	conflicts := s.shadows.SyncFromMain(positions, now)

	report := Report{
		Timestamp: now,
		Synced:    len(positions),
		Conflicts: conflicts,
		Staleness: s.shadows.CheckSyncStaleness(now),
	}

	if len(conflicts) > 0 && s.notifier != nil {
		s.notifier.Notify(microrisk.CodeFS101,
			fmt.Sprintf("shadow sync conflicts: %v", conflicts))
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report
}

// LastReport returns the most recent sync report.
func (s *Syncer) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start launches the periodic sync loop. Stop terminates it.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Go(func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.SyncOnce(now)
			}
		}
	})
	log.Printf("reconciliation: shadow sync started (interval=%v)", s.interval)
}

func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
