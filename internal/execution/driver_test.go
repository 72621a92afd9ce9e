package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/safety"
	"execution-core/pkg/broker"
)

// fastConfig shrinks stage budgets so runs finish in milliseconds.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.MonitoringTimeout = 50 * time.Millisecond
	cfg.MonitorPollInterval = 5 * time.Millisecond
	return cfg
}

type captureEmitter struct {
	mu    sync.Mutex
	types []events.Type
}

func (c *captureEmitter) Dispatch(_ context.Context, e *events.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = append(c.types, e.Type)
	return true
}

func (c *captureEmitter) has(t events.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, got := range c.types {
		if got == t {
			return true
		}
	}
	return false
}

// emptyFeed never reports fills.
type emptyFeed struct{}

func (emptyFeed) PendingFills(context.Context, *ExecutionContext) []FillEvent { return nil }

// onceFeed reports a fixed fill bag on the first poll only.
type onceFeed struct {
	fills []FillEvent
	done  bool
}

func (f *onceFeed) PendingFills(_ context.Context, ec *ExecutionContext) []FillEvent {
	if f.done {
		return nil
	}
	f.done = true
	out := make([]FillEvent, len(f.fills))
	for i, fill := range f.fills {
		if fill.BrokerOrderID == "" && len(ec.Splits) > i {
			fill.BrokerOrderID = ec.Splits[i].BrokerOrderID
		}
		out[i] = fill
	}
	return out
}

type noQuotes struct{}

func (noQuotes) TopOfBook(string) TopOfBook { return TopOfBook{} }

func paper() *broker.PaperBroker {
	return broker.NewPaperBroker(broker.PaperConfig{})
}

func TestDriverSmallOrderCompletes(t *testing.T) {
	emitter := &captureEmitter{}
	driver := NewDriver(fastConfig(), paper(), &SimFillFeed{}, noQuotes{}, emitter, nil, nil)

	decision := mustDecision(t, 50, 100.0)
	result := driver.Execute(context.Background(), decision, baseEnv())

	if result.State != StateComplete {
		t.Fatalf("state = %s, want COMPLETE", result.State)
	}
	if result.SplitCount != 1 {
		t.Fatalf("split count = %d, want 1 (below the split threshold)", result.SplitCount)
	}
	if result.FilledQty != 50 || result.FillRate() != 1.0 {
		t.Fatalf("filled = %d, rate = %f", result.FilledQty, result.FillRate())
	}
	if result.AvgFillPrice != 100.0 {
		t.Fatalf("avg fill price = %f, want 100", result.AvgFillPrice)
	}
	if len(result.Alerts) != 0 {
		t.Fatalf("clean run should raise no alerts, got %+v", result.Alerts)
	}
	if !emitter.has(events.TypeFillConfirmed) || !emitter.has(events.TypePositionUpdate) {
		t.Fatalf("expected fill and position events, got %v", emitter.types)
	}
}

func TestDriverCapitalResizeThenCompletes(t *testing.T) {
	driver := NewDriver(fastConfig(), paper(), &SimFillFeed{}, noQuotes{}, nil, nil, nil)

	env := baseEnv()
	env.AvailableCapital = 50_000
	decision := mustDecision(t, 1000, 100.0)
	result := driver.Execute(context.Background(), decision, env)

	if result.State != StateComplete {
		t.Fatalf("state = %s, want COMPLETE", result.State)
	}
	if result.RequestedQty != 500 || result.FilledQty != 500 {
		t.Fatalf("qty = %d/%d, want 500/500", result.FilledQty, result.RequestedQty)
	}
	if len(result.Alerts) != 1 || result.Alerts[0].Code != CodeGR061 {
		t.Fatalf("expected GR061 resize alert, got %+v", result.Alerts)
	}
}

func TestDriverSafetyFailRejectsUpFront(t *testing.T) {
	emitter := &captureEmitter{}
	adapter := &scriptedAdapter{}
	driver := NewDriver(fastConfig(), adapter, emptyFeed{}, noQuotes{}, emitter, nil, nil)

	env := baseEnv()
	env.Safety = safety.LevelFail
	result := driver.Execute(context.Background(), mustDecision(t, 100, 50.0), env)

	if result.State != StateFailed {
		t.Fatalf("state = %s, want FAILED", result.State)
	}
	if adapter.sends != 0 {
		t.Fatal("nothing may reach the broker under a safety block")
	}
	if len(result.Alerts) != 1 || result.Alerts[0].Code != CodeFS090 {
		t.Fatalf("expected FS090, got %+v", result.Alerts)
	}
	if !emitter.has(events.TypeOrderRejected) {
		t.Fatalf("expected an order rejected event, got %v", emitter.types)
	}
}

func TestDriverAllSendsFailedFails(t *testing.T) {
	adapter := &scriptedAdapter{responses: []func() (broker.Ack, error){
		reject(), reject(), reject(),
	}}
	driver := NewDriver(fastConfig(), adapter, emptyFeed{}, noQuotes{}, nil, nil, nil)

	result := driver.Execute(context.Background(), mustDecision(t, 50, 100.0), baseEnv())
	if result.State != StateFailed {
		t.Fatalf("state = %s, want FAILED", result.State)
	}
	var has090 bool
	for _, a := range result.Alerts {
		if a.Code == CodeFS090 {
			has090 = true
		}
	}
	if !has090 {
		t.Fatalf("expected FS090, got %+v", result.Alerts)
	}
}

func TestDriverStallEscapesAfterAdjustBudget(t *testing.T) {
	emitter := &captureEmitter{}
	adapter := &scriptedAdapter{}
	feed := &onceFeed{fills: []FillEvent{{Qty: 20, Price: 100.0}}}
	driver := NewDriver(fastConfig(), adapter, feed, noQuotes{}, emitter, nil, nil)

	// 150 shares split into TWAP buckets; only 20 ever fill, quotes never
	// come back, so the adjust rounds drain and the order escapes.
	result := driver.Execute(context.Background(), mustDecision(t, 150, 100.0), baseEnv())

	if result.State != StateEscaped {
		t.Fatalf("state = %s, want ESCAPED", result.State)
	}
	if result.Escape == nil {
		t.Fatal("expected an escape result")
	}
	if result.Escape.LiquidationQty != 20 || result.FilledQty != 20 {
		t.Fatalf("liquidation = %d filled = %d, want 20/20", result.Escape.LiquidationQty, result.FilledQty)
	}
	var has094, has092 bool
	for _, a := range result.Alerts {
		switch a.Code {
		case CodeFS094:
			has094 = true
		case CodeFS092:
			has092 = true
		}
	}
	if !has094 || !has092 {
		t.Fatalf("expected FS094 and FS092, got %+v", result.Alerts)
	}
	if !emitter.has(events.TypeOrderCancelled) {
		t.Fatalf("expected an order cancelled event, got %v", emitter.types)
	}
	if !emitter.has(events.TypeFillPartial) {
		t.Fatalf("expected a partial fill event, got %v", emitter.types)
	}
}

func TestDriverRepricePreservesFilledQty(t *testing.T) {
	cfg := fastConfig()
	feed := &onceFeed{fills: []FillEvent{{Qty: 30, Price: 100.0}}}
	driver := NewDriver(cfg, paper(), feed, quoted{ask: 100.05}, nil, nil, nil)

	result := driver.Execute(context.Background(), mustDecision(t, 100, 100.0), baseEnv())

	// The single split filled 30, was repriced, and the replacement never
	// fills, so the order ultimately escapes holding the original 30.
	if result.State != StateEscaped {
		t.Fatalf("state = %s, want ESCAPED", result.State)
	}
	if result.FilledQty != 30 {
		t.Fatalf("filled = %d, want 30 preserved across reprice", result.FilledQty)
	}
}

type quoted struct {
	bid, ask float64
}

func (q quoted) TopOfBook(string) TopOfBook { return TopOfBook{BestBid: q.bid, BestAsk: q.ask} }

func TestDriverMarketOrderFillsAtQuote(t *testing.T) {
	board := quoted{bid: 99.9, ask: 100.1}
	driver := NewDriver(fastConfig(), paper(), &SimFillFeed{Market: board}, board, nil, nil, nil)

	decision, err := NewOrderDecision("AAPL", broker.SideBuy, 50, 0, broker.TypeMarket, "scalp-a", UrgencyNormal)
	if err != nil {
		t.Fatalf("NewOrderDecision: %v", err)
	}
	result := driver.Execute(context.Background(), decision, baseEnv())

	if result.State != StateComplete {
		t.Fatalf("state = %s, want COMPLETE", result.State)
	}
	if result.AvgFillPrice != 100.1 {
		t.Fatalf("avg fill price = %f, want the best ask 100.1", result.AvgFillPrice)
	}
}

func TestDriverSendTimeoutFails(t *testing.T) {
	cfg := fastConfig()
	cfg.SendingTimeout = time.Nanosecond
	driver := NewDriver(cfg, paper(), &SimFillFeed{}, noQuotes{}, nil, nil, nil)

	result := driver.Execute(context.Background(), mustDecision(t, 50, 100.0), baseEnv())

	if result.State != StateFailed {
		t.Fatalf("state = %s, want FAILED on a sending stage timeout", result.State)
	}
	if result.Escape != nil {
		t.Fatal("a sending timeout must not trigger an escape")
	}
	if len(result.Alerts) != 1 || result.Alerts[0].Code != CodeFS091 {
		t.Fatalf("expected FS091, got %+v", result.Alerts)
	}
}

func TestDriverRefusedTransitionEscapes(t *testing.T) {
	driver := NewDriver(fastConfig(), paper(), &SimFillFeed{}, noQuotes{}, nil, nil, nil)

	ec := monitoringContext(t)
	for _, s := range []State{StatePrecheck, StateSplitting, StateSending, StateMonitoring} {
		if err := ec.Transition(s); err != nil {
			t.Fatalf("Transition(%s): %v", s, err)
		}
	}
	err := ec.Transition(StateFailed)
	if err == nil {
		t.Fatal("MONITORING -> FAILED must be refused")
	}

	result := driver.abort(context.Background(), ec, err)
	if result.State != StateEscaped {
		t.Fatalf("state = %s, want ESCAPED after a refused transition", result.State)
	}
	var has093 bool
	for _, a := range result.Alerts {
		if a.Code == CodeFS093 {
			has093 = true
		}
	}
	if !has093 {
		t.Fatalf("expected FS093, got %+v", result.Alerts)
	}
}
