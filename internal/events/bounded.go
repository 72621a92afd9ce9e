package events

import (
	"context"
	"sync/atomic"
	"time"
)

// BoundedQueue is the P0 discipline: strict FIFO, Put blocks the producer
// when full, nothing is ever dropped.
type BoundedQueue struct {
	ch   chan *Event
	puts atomic.Uint64
}

func NewBoundedQueue(capacity int) *BoundedQueue {
	if capacity <= 0 {
		capacity = 100
	}
	return &BoundedQueue{ch: make(chan *Event, capacity)}
}

func (q *BoundedQueue) Put(ctx context.Context, e *Event) bool {
	select {
	case q.ch <- e:
		q.puts.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *BoundedQueue) Get(ctx context.Context, timeout time.Duration) *Event {
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

func (q *BoundedQueue) GetBatch(ctx context.Context, max int, timeout time.Duration) []*Event {
	first := q.Get(ctx, timeout)
	if first == nil {
		return nil
	}
	return drain(q.ch, []*Event{first}, max)
}

func (q *BoundedQueue) Size() int     { return len(q.ch) }
func (q *BoundedQueue) Capacity() int { return cap(q.ch) }

func (q *BoundedQueue) Utilization() float64 {
	return utilization(len(q.ch), cap(q.ch))
}

func (q *BoundedQueue) Stats() QueueStats {
	return QueueStats{
		Size:        len(q.ch),
		Capacity:    cap(q.ch),
		Utilization: q.Utilization(),
		Puts:        q.puts.Load(),
	}
}
