package events

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// SamplingQueue is the P3 discipline: bounded FIFO that, when full, admits a
// new event with probability sampleRate (evicting the oldest to make room)
// and drops it otherwise. While not full every put is accepted.
type SamplingQueue struct {
	ch         chan *Event
	sampleRate float64
	randFn     func() float64 // swapped in tests

	puts    atomic.Uint64
	dropped atomic.Uint64
}

func NewSamplingQueue(capacity int, sampleRate float64) *SamplingQueue {
	if capacity <= 0 {
		capacity = 50000
	}
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 0.1
	}
	return &SamplingQueue{
		ch:         make(chan *Event, capacity),
		sampleRate: sampleRate,
		randFn:     rand.Float64,
	}
}

func (q *SamplingQueue) Put(_ context.Context, e *Event) bool {
	q.puts.Add(1)
	select {
	case q.ch <- e:
		return true
	default:
	}

	// Full: admit with sampling probability, evicting the oldest.
	if q.randFn() >= q.sampleRate {
		q.dropped.Add(1)
		return false
	}
	select {
	case <-q.ch:
		q.dropped.Add(1)
	default:
	}
	select {
	case q.ch <- e:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

func (q *SamplingQueue) Get(ctx context.Context, timeout time.Duration) *Event {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e := <-q.ch:
		return e
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (q *SamplingQueue) GetBatch(ctx context.Context, max int, timeout time.Duration) []*Event {
	first := q.Get(ctx, timeout)
	if first == nil {
		return nil
	}
	return drain(q.ch, []*Event{first}, max)
}

func (q *SamplingQueue) Size() int     { return len(q.ch) }
func (q *SamplingQueue) Capacity() int { return cap(q.ch) }

func (q *SamplingQueue) Utilization() float64 {
	return utilization(len(q.ch), cap(q.ch))
}

func (q *SamplingQueue) Stats() QueueStats {
	return QueueStats{
		Size:        len(q.ch),
		Capacity:    cap(q.ch),
		Utilization: q.Utilization(),
		Puts:        q.puts.Load(),
		Dropped:     q.dropped.Load(),
	}
}
