package feedback

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"execution-core/pkg/db"
)

// ResultStore yields completed executions newer than a watermark.
type ResultStore interface {
	FetchExecutionsSince(ctx context.Context, since time.Time) ([]db.ExecutionRow, error)
}

// CollectorConfig fixes the polling cadence and retry budget.
type CollectorConfig struct {
	Interval   time.Duration
	MaxRetries int // retries per record before counting an error
}

func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{Interval: 60 * time.Second, MaxRetries: 2}
}

// Collector periodically pulls fresh execution results and feeds them to the
// aggregator. It survives store failures, per-record aggregation failures,
// and panics; only cancellation stops it.
type Collector struct {
	store ResultStore
	agg   *Aggregator
	cfg   CollectorConfig

	lastRun   time.Time
	stop      chan struct{}
	processed atomic.Uint64
	errCount  atomic.Uint64
}

func NewCollector(store ResultStore, agg *Aggregator, cfg CollectorConfig) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 2
	}
	return &Collector{
		store:   store,
		agg:     agg,
		cfg:     cfg,
		lastRun: time.Now().Add(-cfg.Interval),
		stop:    make(chan struct{}),
	}
}

// Start runs the polling loop until the context is cancelled or Stop is
// called. Blocks; run it in its own goroutine.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			var pc panics.Catcher
			pc.Try(func() { c.runOnce(ctx) })
			if r := pc.Recovered(); r != nil {
				log.Printf("feedback collector: recovered panic: %v", r)
				c.errCount.Add(1)
			}
		}
	}
}

// Stop signals the loop to exit within one poll interval.
func (c *Collector) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// Processed returns how many records were aggregated successfully.
func (c *Collector) Processed() uint64 { return c.processed.Load() }

// Errors returns how many records were given up on.
func (c *Collector) Errors() uint64 { return c.errCount.Load() }

func (c *Collector) runOnce(ctx context.Context) {
	since := c.lastRun
	rows, err := c.store.FetchExecutionsSince(ctx, since)
	if err != nil {
		log.Printf("feedback collector: fetch executions: %v", err)
		return
	}

	for _, row := range rows {
		in := inputsFromRow(row)
		var lastErr error
		for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
			if _, lastErr = c.agg.AggregateAndStore(ctx, in); lastErr == nil {
				break
			}
		}
		if lastErr != nil {
			log.Printf("feedback collector: giving up on %s: %v", row.OrderID, lastErr)
			c.errCount.Add(1)
		} else {
			c.processed.Add(1)
		}
		if row.CreatedAt.After(c.lastRun) {
			c.lastRun = row.CreatedAt
		}
	}
}

func inputsFromRow(row db.ExecutionRow) ExecutionInputs {
	return ExecutionInputs{
		OrderID:          row.OrderID,
		Symbol:           row.Symbol,
		ExecutionStart:   row.ExecutionStart,
		ExecutionEnd:     row.ExecutionEnd,
		DecisionPrice:    row.DecisionPrice,
		AvgFillPrice:     row.AvgFillPrice,
		FilledQty:        float64(row.FilledQty),
		OriginalQty:      float64(row.OriginalQty),
		PartialFillRatio: row.PartialFillRatio,
		AvgFillLatencyMs: row.AvgFillLatencyMs,
		StrategyTag:      row.StrategyTag,
	}
}
