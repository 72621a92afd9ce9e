package events

import (
	"context"
	"sync/atomic"
	"time"
)

// RingQueue is the P1 discipline: FIFO with a hard length cap. Overflow
// silently evicts the oldest event and counts the eviction; Put never blocks
// for long and never refuses market data.
type RingQueue struct {
	ch      chan *Event
	puts    atomic.Uint64
	dropped atomic.Uint64
}

func NewRingQueue(capacity int) *RingQueue {
	if capacity <= 0 {
		capacity = 10000
	}
	return &RingQueue{ch: make(chan *Event, capacity)}
}

func (q *RingQueue) Put(ctx context.Context, e *Event) bool {
	q.puts.Add(1)
	for {
		select {
		case q.ch <- e:
			return true
		default:
		}
		// Full: evict the oldest, then retry the send.
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
	}
}

func (q *RingQueue) Get(ctx context.Context, timeout time.Duration) *Event {
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

func (q *RingQueue) GetBatch(ctx context.Context, max int, timeout time.Duration) []*Event {
	first := q.Get(ctx, timeout)
	if first == nil {
		return nil
	}
	return drain(q.ch, []*Event{first}, max)
}

func (q *RingQueue) Size() int     { return len(q.ch) }
func (q *RingQueue) Capacity() int { return cap(q.ch) }

func (q *RingQueue) Utilization() float64 {
	return utilization(len(q.ch), cap(q.ch))
}

// Dropped reports evicted events. Best-effort under concurrent producers.
func (q *RingQueue) Dropped() uint64 { return q.dropped.Load() }

func (q *RingQueue) Stats() QueueStats {
	return QueueStats{
		Size:        len(q.ch),
		Capacity:    cap(q.ch),
		Utilization: q.Utilization(),
		Puts:        q.puts.Load(),
		Dropped:     q.dropped.Load(),
	}
}
