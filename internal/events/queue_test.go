package events

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestEveryTypeHasExactlyOnePriority(t *testing.T) {
	if len(AllTypes()) != 23 {
		t.Fatalf("catalog size=%d, expected 23", len(AllTypes()))
	}
	counts := map[Priority]int{}
	for _, typ := range AllTypes() {
		p := PriorityOf(typ)
		if p < PriorityP0 || p > PriorityP3 {
			t.Fatalf("type %s mapped to invalid tier %v", typ, p)
		}
		counts[p]++

		c := ContractOf(typ)
		if p == PriorityP0 && (!c.RequiresAck || c.CanDrop) {
			t.Fatalf("P0 contract for %s: %+v", typ, c)
		}
		if p != PriorityP0 && c.RequiresAck {
			t.Fatalf("only P0 requires ack, got %s: %+v", typ, c)
		}
	}
	for p := PriorityP0; p <= PriorityP3; p++ {
		if counts[p] == 0 {
			t.Fatalf("tier %v has no types", p)
		}
	}
}

func TestBoundedQueueConservation(t *testing.T) {
	q := NewBoundedQueue(8)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !q.Put(ctx, New(TypeFillConfirmed, nil)) {
			t.Fatal("put into non-full bounded queue must succeed")
		}
	}
	got := 0
	for q.Get(ctx, 10*time.Millisecond) != nil {
		got++
	}
	if got != 5 || q.Size() != 0 {
		t.Fatalf("puts=5 gets=%d size=%d", got, q.Size())
	}
	if q.Stats().Dropped != 0 {
		t.Fatal("bounded queue never drops")
	}
}

func TestBoundedQueuePutBlocksWhenFull(t *testing.T) {
	q := NewBoundedQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	q.Put(ctx, New(TypeFillConfirmed, nil))
	start := time.Now()
	ok := q.Put(ctx, New(TypeFillConfirmed, nil))
	if ok {
		t.Fatal("put into full bounded queue should block until cancellation")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("put returned before the context expired")
	}
}

func TestRingQueueDropsOldestKeepsSuffix(t *testing.T) {
	q := NewRingQueue(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		e := New(TypePriceTick, map[string]any{"i": i})
		if !q.Put(ctx, e) {
			t.Fatalf("ring put %d refused", i)
		}
	}
	if q.Dropped() != 2 {
		t.Fatalf("dropped=%d, expected 2", q.Dropped())
	}

	// Survivors must be the suffix 3,4,5 in order.
	for want := 3; want <= 5; want++ {
		e := q.Get(ctx, 10*time.Millisecond)
		if e == nil || e.Payload["i"].(int) != want {
			t.Fatalf("expected %d, got %+v", want, e)
		}
	}
}

func TestCollapsingQueueOverwritesInPlace(t *testing.T) {
	q := NewCollapsingQueue(10)
	ctx := context.Background()

	q.Put(ctx, New(TypeStrategyEvaluate, map[string]any{"v": 1}))
	q.Put(ctx, New(TypeRiskEvaluate, map[string]any{"v": 1}))
	sizeBefore := q.Size()

	q.Put(ctx, New(TypeStrategyEvaluate, map[string]any{"v": 2}))
	if q.Size() != sizeBefore {
		t.Fatalf("collapse changed size: %d -> %d", sizeBefore, q.Size())
	}
	if q.Collapsed() != 1 {
		t.Fatalf("collapsed=%d, expected 1", q.Collapsed())
	}

	// Insertion order of keys is unchanged: strategy still drains first,
	// carrying the latest payload.
	e := q.Get(ctx, 10*time.Millisecond)
	if e.Type != TypeStrategyEvaluate || e.Payload["v"].(int) != 2 {
		t.Fatalf("expected collapsed strategy event v=2, got %+v", e)
	}
	if e = q.Get(ctx, 10*time.Millisecond); e.Type != TypeRiskEvaluate {
		t.Fatalf("expected risk event second, got %+v", e)
	}
}

func TestCollapsingQueueEvictsOldestKeyAtCapacity(t *testing.T) {
	q := NewCollapsingQueue(2)
	ctx := context.Background()

	q.Put(ctx, New(TypeStrategyEvaluate, nil))
	q.Put(ctx, New(TypeRiskEvaluate, nil))
	q.Put(ctx, New(TypePortfolioEvaluate, nil))

	if q.Size() != 2 {
		t.Fatalf("size=%d, expected 2", q.Size())
	}
	first := q.Get(ctx, 10*time.Millisecond)
	if first.Type != TypeRiskEvaluate {
		t.Fatalf("oldest key should have been evicted, head is %s", first.Type)
	}
}

func TestSamplingQueueAcceptsWhenNotFull(t *testing.T) {
	q := NewSamplingQueue(100, 0.1)
	q.randFn = func() float64 { return 0.99 } // would reject if full
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if !q.Put(ctx, New(TypeMetricUpdate, nil)) {
			t.Fatalf("put %d refused while not full", i)
		}
	}
}

func TestSamplingQueueFullBehavior(t *testing.T) {
	q := NewSamplingQueue(2, 0.1)
	ctx := context.Background()
	q.Put(ctx, New(TypeMetricUpdate, map[string]any{"i": 1}))
	q.Put(ctx, New(TypeMetricUpdate, map[string]any{"i": 2}))

	// Below the sample threshold: evict oldest, admit new.
	q.randFn = func() float64 { return 0.05 }
	if !q.Put(ctx, New(TypeMetricUpdate, map[string]any{"i": 3})) {
		t.Fatal("sampled-in put should be accepted")
	}
	// Above the threshold: drop the new event.
	q.randFn = func() float64 { return 0.95 }
	if q.Put(ctx, New(TypeMetricUpdate, map[string]any{"i": 4})) {
		t.Fatal("sampled-out put should be refused")
	}

	e := q.Get(ctx, 10*time.Millisecond)
	if e.Payload["i"].(int) != 2 {
		t.Fatalf("oldest should have been evicted; head=%v", e.Payload["i"])
	}
}

func TestUtilizationBounds(t *testing.T) {
	ctx := context.Background()
	queues := map[string]Queue{
		"bounded":    NewBoundedQueue(4),
		"ring":       NewRingQueue(4),
		"collapsing": NewCollapsingQueue(4),
		"sampling":   NewSamplingQueue(4, 1.0),
	}
	for name, q := range queues {
		t.Run(name, func(t *testing.T) {
			if q.Utilization() != 0 {
				t.Fatalf("empty utilization=%f", q.Utilization())
			}
			types := []Type{TypeStrategyEvaluate, TypeRiskEvaluate, TypePortfolioEvaluate}
			for i, typ := range types {
				q.Put(ctx, New(typ, map[string]any{"i": fmt.Sprint(i)}))
				if q.Size() < 0 || q.Size() > q.Capacity() {
					t.Fatalf("size %d outside [0,%d]", q.Size(), q.Capacity())
				}
			}
			want := float64(q.Size()) / float64(q.Capacity())
			if q.Utilization() != want {
				t.Fatalf("utilization=%f, expected %f", q.Utilization(), want)
			}
		})
	}
}
