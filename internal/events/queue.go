package events

import (
	"context"
	"time"
)

// Queue is the common surface of the four tier disciplines. Put semantics
// differ per tier: bounded blocks, ring drops oldest, collapsing overwrites
// by type, sampling admits probabilistically when full.
type Queue interface {
	// Put offers an event. Returns false only when the queue refused it
	// (sampling drop, cancelled context); a ring overflow still returns true.
	Put(ctx context.Context, e *Event) bool
	// Get waits up to timeout for one event. Nil on timeout or cancellation.
	Get(ctx context.Context, timeout time.Duration) *Event
	// GetBatch waits up to timeout for the first event, then drains up to
	// max without waiting further.
	GetBatch(ctx context.Context, max int, timeout time.Duration) []*Event

	Size() int
	Capacity() int
	Utilization() float64
	Stats() QueueStats
}

// QueueStats is an advisory snapshot used for backpressure metrics.
type QueueStats struct {
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
	Puts        uint64  `json:"puts"`
	Dropped     uint64  `json:"dropped"`
	Collapsed   uint64  `json:"collapsed"`
}

func utilization(size, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return float64(size) / float64(capacity)
}

// drain pulls already-buffered events from a channel without waiting.
func drain(ch chan *Event, batch []*Event, max int) []*Event {
	for len(batch) < max {
		select {
		case e := <-ch:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}
