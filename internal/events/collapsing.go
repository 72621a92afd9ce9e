package events

import (
	"context"
	"sync"
	"time"
)

// CollapsingQueue is the P2 discipline: at most one pending event per type.
// Re-putting a type overwrites the stored event in place without moving the
// type in the FIFO order; a new type arriving at capacity evicts the oldest
// type.
type CollapsingQueue struct {
	mu       sync.Mutex
	byType   map[Type]*Event
	order    []Type
	capacity int
	notify   chan struct{}

	puts      uint64
	collapsed uint64
	dropped   uint64
}

func NewCollapsingQueue(capacity int) *CollapsingQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &CollapsingQueue{
		byType:   make(map[Type]*Event, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (q *CollapsingQueue) Put(_ context.Context, e *Event) bool {
	q.mu.Lock()
	q.puts++
	if _, exists := q.byType[e.Type]; exists {
		q.byType[e.Type] = e
		q.collapsed++
		q.mu.Unlock()
		return true
	}
	if len(q.order) >= q.capacity {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.byType, oldest)
		q.dropped++
	}
	q.byType[e.Type] = e
	q.order = append(q.order, e.Type)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *CollapsingQueue) pop() *Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return nil
	}
	t := q.order[0]
	q.order = q.order[1:]
	e := q.byType[t]
	delete(q.byType, t)
	return e
}

func (q *CollapsingQueue) Get(ctx context.Context, timeout time.Duration) *Event {
	deadline := time.Now().Add(timeout)
	for {
		if e := q.pop(); e != nil {
			return e
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			return nil
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

func (q *CollapsingQueue) GetBatch(ctx context.Context, max int, timeout time.Duration) []*Event {
	first := q.Get(ctx, timeout)
	if first == nil {
		return nil
	}
	batch := []*Event{first}
	for len(batch) < max {
		e := q.pop()
		if e == nil {
			break
		}
		batch = append(batch, e)
	}
	return batch
}

func (q *CollapsingQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

func (q *CollapsingQueue) Capacity() int { return q.capacity }

func (q *CollapsingQueue) Utilization() float64 {
	return utilization(q.Size(), q.capacity)
}

// Collapsed reports how many puts overwrote an existing type.
func (q *CollapsingQueue) Collapsed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.collapsed
}

func (q *CollapsingQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Size:        len(q.order),
		Capacity:    q.capacity,
		Utilization: utilization(len(q.order), q.capacity),
		Puts:        q.puts,
		Dropped:     q.dropped,
		Collapsed:   q.collapsed,
	}
}
