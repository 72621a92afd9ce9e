package events

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"execution-core/internal/safety"
)

// Handler consumes one event. Errors are logged and swallowed; a handler can
// never take down a consumer.
type Handler func(*Event) error

// Config fixes every dispatcher parameter at construction.
type Config struct {
	P0Capacity int

	P1Capacity     int
	P1BatchSize    int
	P1BatchTimeout time.Duration

	P2Capacity     int
	P2BatchSize    int
	P2BatchTimeout time.Duration

	P3Capacity     int
	P3BatchSize    int
	P3BatchTimeout time.Duration
	P3SampleRate   float64

	// PollTimeout bounds how long an idle consumer waits before re-checking
	// for shutdown.
	PollTimeout time.Duration

	// Advisory utilization thresholds, exposed as metrics only.
	BackpressureWarn     float64
	BackpressureCritical float64
}

func DefaultConfig() Config {
	return Config{
		P0Capacity:           100,
		P1Capacity:           10000,
		P1BatchSize:          100,
		P1BatchTimeout:       10 * time.Millisecond,
		P2Capacity:           1000,
		P2BatchSize:          50,
		P2BatchTimeout:       100 * time.Millisecond,
		P3Capacity:           50000,
		P3BatchSize:          100,
		P3BatchTimeout:       time.Second,
		P3SampleRate:         0.1,
		PollTimeout:          100 * time.Millisecond,
		BackpressureWarn:     0.7,
		BackpressureCritical: 0.9,
	}
}

// Degradation is the set of tiers the dispatcher currently accepts.
type Degradation int32

const (
	DegradationNormal       Degradation = iota // P0-P3
	DegradationP3Paused                        // P0-P2
	DegradationP2P3Paused                      // P0-P1
	DegradationCriticalOnly                    // P0
)

func (d Degradation) String() string {
	switch d {
	case DegradationNormal:
		return "NORMAL"
	case DegradationP3Paused:
		return "P3_PAUSED"
	case DegradationP2P3Paused:
		return "P2_P3_PAUSED"
	case DegradationCriticalOnly:
		return "CRITICAL_ONLY"
	default:
		return "UNKNOWN"
	}
}

// Allows reports whether a tier is accepted at this degradation level.
func (d Degradation) Allows(p Priority) bool {
	switch d {
	case DegradationNormal:
		return true
	case DegradationP3Paused:
		return p <= PriorityP2
	case DegradationP2P3Paused:
		return p <= PriorityP1
	case DegradationCriticalOnly:
		return p == PriorityP0
	default:
		return p == PriorityP0
	}
}

func degradationFor(level safety.Level) Degradation {
	switch level {
	case safety.LevelNormal:
		return DegradationNormal
	case safety.LevelWarning:
		return DegradationP3Paused
	case safety.LevelFail:
		return DegradationP2P3Paused
	default:
		return DegradationCriticalOnly
	}
}

// Dispatcher owns one queue per tier and fans events out to registered
// handlers from four independent consumer goroutines. It is the sole emitter
// of the core's event stream; no component bypasses tier policy.
type Dispatcher struct {
	cfg    Config
	queues [4]Queue

	mu       sync.RWMutex
	handlers [4][]Handler

	degradation atomic.Int32
	rejects     atomic.Uint64

	cancel  context.CancelFunc
	wg      conc.WaitGroup
	started atomic.Bool
}

func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{cfg: cfg}
	d.queues[PriorityP0] = NewBoundedQueue(cfg.P0Capacity)
	d.queues[PriorityP1] = NewRingQueue(cfg.P1Capacity)
	d.queues[PriorityP2] = NewCollapsingQueue(cfg.P2Capacity)
	d.queues[PriorityP3] = NewSamplingQueue(cfg.P3Capacity, cfg.P3SampleRate)
	return d
}

// RegisterHandler appends a handler for a tier.
func (d *Dispatcher) RegisterHandler(p Priority, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[p] = append(d.handlers[p], h)
}

// Dispatch routes the event to its tier queue. Returns false when the tier
// is suppressed by the current degradation level or the queue refused it.
func (d *Dispatcher) Dispatch(ctx context.Context, e *Event) bool {
	deg := Degradation(d.degradation.Load())
	if !deg.Allows(e.Priority) {
		d.rejects.Add(1)
		return false
	}
	return d.queues[e.Priority].Put(ctx, e)
}

// ApplySafetyState maps the safety level onto a degradation level.
// Re-applying the same state is a silent no-op.
func (d *Dispatcher) ApplySafetyState(level safety.Level) {
	next := degradationFor(level)
	prev := Degradation(d.degradation.Swap(int32(next)))
	if prev != next {
		log.Printf("dispatcher: degradation %s -> %s (safety %s)", prev, next, level)
	}
}

// Degradation returns the current degradation level.
func (d *Dispatcher) Degradation() Degradation {
	return Degradation(d.degradation.Load())
}

// RejectCount returns how many dispatches were refused by degradation.
func (d *Dispatcher) RejectCount() uint64 { return d.rejects.Load() }

// Queue exposes a tier's queue, mainly for stats and tests.
func (d *Dispatcher) Queue(p Priority) Queue { return d.queues[p] }

// Stats returns the advisory per-tier queue snapshots.
func (d *Dispatcher) Stats() map[string]QueueStats {
	out := make(map[string]QueueStats, 4)
	for p := PriorityP0; p <= PriorityP3; p++ {
		out[p.String()] = d.queues[p].Stats()
	}
	return out
}

// Start launches the four consumers: P0 strictly one event at a time, the
// rest in batches. Calling Start twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Go(func() { d.consumeSingle(ctx, PriorityP0) })
	d.wg.Go(func() { d.consumeBatch(ctx, PriorityP1, d.cfg.P1BatchSize, d.cfg.P1BatchTimeout) })
	d.wg.Go(func() { d.consumeBatch(ctx, PriorityP2, d.cfg.P2BatchSize, d.cfg.P2BatchTimeout) })
	d.wg.Go(func() { d.consumeBatch(ctx, PriorityP3, d.cfg.P3BatchSize, d.cfg.P3BatchTimeout) })
}

// Stop cancels the consumers and waits for them to exit.
func (d *Dispatcher) Stop() {
	if !d.started.CompareAndSwap(true, false) {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) consumeSingle(ctx context.Context, p Priority) {
	q := d.queues[p]
	for {
		if ctx.Err() != nil {
			return
		}
		e := q.Get(ctx, d.cfg.PollTimeout)
		if e == nil {
			continue
		}
		d.deliver(p, e)
	}
}

func (d *Dispatcher) consumeBatch(ctx context.Context, p Priority, batchSize int, batchTimeout time.Duration) {
	q := d.queues[p]
	for {
		if ctx.Err() != nil {
			return
		}
		batch := q.GetBatch(ctx, batchSize, batchTimeout)
		for _, e := range batch {
			d.deliver(p, e)
		}
	}
}

func (d *Dispatcher) deliver(p Priority, e *Event) {
	d.mu.RLock()
	handlers := d.handlers[p]
	d.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("dispatcher: handler panic on %s: %v", e.Type, r)
				}
			}()
			if err := h(e); err != nil {
				log.Printf("dispatcher: handler error on %s: %v", e.Type, err)
			}
		}()
	}
}
