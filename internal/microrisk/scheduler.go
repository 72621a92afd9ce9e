package microrisk

import (
	"sync"
	"time"
)

// Suspender is a time based gate satisfying SchedulerControl. The strategy
// scheduler checks IsSuspended before each evaluation sweep.
type Suspender struct {
	mu         sync.Mutex
	until      time.Time
	indefinite bool
}

// Suspend blocks the scheduler for d. A non-positive d suspends
// indefinitely; only Resume clears it.
func (s *Suspender) Suspend(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		s.indefinite = true
		return
	}
	until := time.Now().Add(d)
	if until.After(s.until) {
		s.until = until
	}
}

func (s *Suspender) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until = time.Time{}
	s.indefinite = false
}

func (s *Suspender) IsSuspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indefinite || time.Now().Before(s.until)
}
