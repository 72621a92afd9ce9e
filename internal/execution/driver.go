package execution

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"execution-core/internal/events"
	"execution-core/internal/feedback"
	"execution-core/pkg/broker"
	"execution-core/pkg/db"
)

// FillFeed supplies fill events observed since the last poll for the
// splits in flight. The paper feed and the live venue feed both satisfy it.
type FillFeed interface {
	PendingFills(ctx context.Context, ec *ExecutionContext) []FillEvent
}

// Emitter publishes pipeline events. *events.Dispatcher satisfies it.
type Emitter interface {
	Dispatch(ctx context.Context, e *events.Event) bool
}

// SummaryProvider exposes recent execution quality per symbol.
// *feedback.Aggregator satisfies it.
type SummaryProvider interface {
	GetSummary(ctx context.Context, symbol string, lookbackDays int) feedback.Summary
}

// Store persists terminal execution outcomes.
type Store interface {
	InsertExecution(ctx context.Context, r db.ExecutionRow) error
}

// Driver walks one decision at a time through the pipeline. All optional
// collaborators may be nil; the driver degrades to a pure in-memory run.
type Driver struct {
	cfg      Config
	broker   broker.Adapter
	fills    FillFeed
	market   MarketView
	emitter  Emitter
	feedback SummaryProvider
	store    Store
}

// NewDriver builds a pipeline driver. Only the broker adapter and fill
// feed are required.
func NewDriver(cfg Config, adapter broker.Adapter, fills FillFeed, market MarketView, emitter Emitter, fb SummaryProvider, store Store) *Driver {
	return &Driver{
		cfg:      cfg,
		broker:   adapter,
		fills:    fills,
		market:   market,
		emitter:  emitter,
		feedback: fb,
		store:    store,
	}
}

// Execute runs the decision to a terminal state and returns the outcome.
// The call blocks for the life of the order; run it on its own goroutine
// when concurrency is needed.
func (d *Driver) Execute(ctx context.Context, decision *OrderDecision, env Env) *ExecutionResult {
	ec := NewExecutionContext(decision)

	if env.FeedbackSummary == nil && d.feedback != nil {
		s := d.feedback.GetSummary(ctx, decision.Symbol, d.cfg.FeedbackLookbackDays)
		env.FeedbackSummary = &s
		log.Printf("execution: order %s feedback summary: slippage=%.1fbps quality=%.2f fill=%.2f",
			decision.ID, s.AvgSlippageBps, s.AvgQualityScore, s.AvgFillRatio)
	}

	if err := ec.Transition(StatePrecheck); err != nil {
		return d.abort(ctx, ec, err)
	}
	pre := PreCheck(ec, env)
	ec.addAlerts(pre.Alerts...)
	if !pre.Passed {
		log.Printf("execution: order %s rejected at precheck: %s", decision.ID, pre.Reason)
		return d.fail(ctx, ec, pre.Reason)
	}
	ec.Qty = pre.AdjustedQty
	if d.stageTimedOut(ec) {
		return d.fail(ctx, ec, d.timeoutAlert(ec))
	}

	if err := ec.Transition(StateSplitting); err != nil {
		return d.abort(ctx, ec, err)
	}
	strategy := ChooseStrategy(ec.Qty, decision.Urgency, d.cfg)
	splits, splitAlerts := BuildSplits(ec, strategy, nil, d.cfg)
	ec.Splits = splits
	ec.addAlerts(splitAlerts...)
	if d.stageTimedOut(ec) {
		return d.fail(ctx, ec, d.timeoutAlert(ec))
	}

	if err := ec.Transition(StateSending); err != nil {
		return d.abort(ctx, ec, err)
	}
	sent, sendAlerts := SendSplits(ctx, ec, d.broker, d.cfg)
	ec.addAlerts(sendAlerts...)
	if sent.SentCount == 0 {
		return d.fail(ctx, ec, "all sends failed")
	}
	if d.stageTimedOut(ec) {
		return d.fail(ctx, ec, d.timeoutAlert(ec))
	}

	if err := ec.Transition(StateMonitoring); err != nil {
		return d.abort(ctx, ec, err)
	}
	for {
		res, monAlerts := d.monitorUntilDeadline(ctx, ec)
		ec.addAlerts(monAlerts...)

		if res.Status == MonitorComplete {
			if err := ec.Transition(StateComplete); err != nil {
				return d.abort(ctx, ec, err)
			}
			d.emit(ctx, events.TypeFillConfirmed, map[string]any{
				"order_id": decision.ID,
				"symbol":   decision.Symbol,
				"qty":      res.TotalFilled,
				"vwap":     res.VWAP,
			})
			return d.finish(ctx, ec, nil)
		}
		if res.TotalFilled > 0 {
			d.emit(ctx, events.TypeFillPartial, map[string]any{
				"order_id":  decision.ID,
				"symbol":    decision.Symbol,
				"filled":    res.TotalFilled,
				"remaining": res.TotalRemaining,
			})
		}

		if err := ec.Transition(StateAdjusting); err != nil {
			return d.abort(ctx, ec, err)
		}
		adj, adjAlerts := Adjust(ec, d.topOfBook(decision.Symbol), d.cfg)
		ec.addAlerts(adjAlerts...)
		if adj.Escalate {
			return d.escape(ctx, ec, ReasonAdjustExhausted)
		}
		d.applyAdjustments(ctx, ec, adj.Adjustments)
		if d.stageTimedOut(ec) {
			return d.escape(ctx, ec, ReasonTimeout)
		}
		if err := ec.Transition(StateMonitoring); err != nil {
			return d.abort(ctx, ec, err)
		}
	}
}

// monitorUntilDeadline polls the fill feed inside the monitoring budget
// and returns the last evaluation. It returns early once the order is
// complete or the run context dies.
func (d *Driver) monitorUntilDeadline(ctx context.Context, ec *ExecutionContext) (MonitorResult, []Alert) {
	deadline := ec.StageStart.Add(d.cfg.MonitoringTimeout)
	var last MonitorResult
	var lastAlerts []Alert
	for {
		var fills []FillEvent
		if d.fills != nil {
			fills = d.fills.PendingFills(ctx, ec)
		}
		last, lastAlerts = ApplyFills(ec, fills)
		if last.Status == MonitorComplete {
			return last, nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return last, lastAlerts
		}
		select {
		case <-ctx.Done():
			return last, lastAlerts
		case <-time.After(d.cfg.MonitorPollInterval):
		}
	}
}

// applyAdjustments issues the planned price improvements. With a
// send-and-cancel venue a price move is a cancel plus a fresh child for
// the unfilled remainder. The old split stays cancelled with its filled
// quantity frozen so the parent's fill accounting is preserved.
func (d *Driver) applyAdjustments(ctx context.Context, ec *ExecutionContext, adjustments []Adjustment) {
	for _, a := range adjustments {
		if a.Action != ActionPriceImprove {
			continue
		}
		old := a.Split
		if _, err := d.broker.CancelOrder(ctx, old.BrokerOrderID); err != nil {
			log.Printf("execution: order %s split %d cancel before reprice failed: %v", ec.Decision.ID, old.Seq, err)
			continue
		}
		remaining := old.Qty - old.FilledQty
		old.Status = SplitCancelled
		if remaining <= 0 {
			continue
		}

		replacement := &SplitOrder{
			ID:       uuid.New().String(),
			ParentID: ec.Decision.ID,
			Seq:      len(ec.Splits),
			Qty:      remaining,
			Price:    a.NewPrice,
			Status:   SplitPending,
		}
		ec.Splits = append(ec.Splits, replacement)
		ack, err := sendOne(ctx, d.broker, ec, replacement, d.cfg)
		if err != nil {
			log.Printf("execution: order %s split %d reprice to %.4f failed: %v", ec.Decision.ID, replacement.Seq, a.NewPrice, err)
			replacement.Status = SplitFailed
			continue
		}
		replacement.Status = SplitSent
		replacement.BrokerOrderID = ack.BrokerOrderID
	}
}

func (d *Driver) escape(ctx context.Context, ec *ExecutionContext, reason string) *ExecutionResult {
	if err := ec.Transition(StateEscaping); err != nil {
		log.Printf("execution: %v", err)
		return d.finish(ctx, ec, nil)
	}
	escRes, alerts := Escape(ctx, ec, d.broker, reason)
	ec.addAlerts(alerts...)
	if err := ec.Transition(StateEscaped); err != nil {
		log.Printf("execution: %v", err)
	}
	d.emit(ctx, events.TypeOrderCancelled, map[string]any{
		"order_id": ec.Decision.ID,
		"symbol":   ec.Decision.Symbol,
		"reason":   reason,
	})
	return d.finish(ctx, ec, escRes)
}

func (d *Driver) fail(ctx context.Context, ec *ExecutionContext, reason string) *ExecutionResult {
	if err := ec.Transition(StateFailed); err != nil {
		log.Printf("execution: %v", err)
		return d.finish(ctx, ec, nil)
	}
	d.emit(ctx, events.TypeOrderRejected, map[string]any{
		"order_id": ec.Decision.ID,
		"symbol":   ec.Decision.Symbol,
		"reason":   reason,
	})
	return d.finish(ctx, ec, nil)
}

// finish assembles the terminal result and persists it.
func (d *Driver) finish(ctx context.Context, ec *ExecutionContext, esc *EscapeResult) *ExecutionResult {
	result := &ExecutionResult{
		OrderID:      ec.Decision.ID,
		Symbol:       ec.Decision.Symbol,
		State:        ec.State,
		RequestedQty: ec.Qty,
		FilledQty:    ec.TotalFilled(),
		AvgFillPrice: ec.VWAP(),
		SplitCount:   len(ec.Splits),
		Alerts:       ec.Alerts,
		Escape:       esc,
		StartedAt:    ec.StartedAt,
		EndedAt:      time.Now().UTC(),
	}

	if result.FilledQty > 0 {
		d.emit(ctx, events.TypePositionUpdate, map[string]any{
			"order_id":     result.OrderID,
			"symbol":       result.Symbol,
			"qty":          result.FilledQty,
			"side":         string(ec.Decision.Side),
			"price":        result.AvgFillPrice,
			"strategy_tag": ec.Decision.StrategyTag,
		})
	}

	if d.store != nil {
		row := db.ExecutionRow{
			OrderID:          result.OrderID,
			Symbol:           result.Symbol,
			ExecutionStart:   result.StartedAt,
			ExecutionEnd:     result.EndedAt,
			DecisionPrice:    ec.Decision.Price,
			AvgFillPrice:     result.AvgFillPrice,
			FilledQty:        result.FilledQty,
			OriginalQty:      result.RequestedQty,
			PartialFillRatio: 1 - result.FillRate(),
			StrategyTag:      ec.Decision.StrategyTag,
			OrderType:        string(ec.Decision.Type),
			FinalState:       string(result.State),
			CreatedAt:        result.EndedAt,
		}
		if err := d.store.InsertExecution(ctx, row); err != nil {
			log.Printf("execution: order %s result persist failed: %v", result.OrderID, err)
		}
	}
	return result
}

func (d *Driver) emit(ctx context.Context, t events.Type, payload map[string]any) {
	if d.emitter == nil {
		return
	}
	if !d.emitter.Dispatch(ctx, events.New(t, payload)) {
		log.Printf("execution: event %s rejected by dispatcher", t)
	}
}

func (d *Driver) topOfBook(symbol string) TopOfBook {
	if d.market == nil {
		return TopOfBook{}
	}
	return d.market.TopOfBook(symbol)
}

func (d *Driver) stageTimedOut(ec *ExecutionContext) bool {
	budget := d.cfg.stageTimeout(ec.State)
	return budget > 0 && time.Since(ec.StageStart) > budget
}

func (d *Driver) timeoutAlert(ec *ExecutionContext) string {
	ec.addAlerts(failSafe(CodeFS091, string(ec.State),
		"order %s: %s exceeded its %s budget", ec.Decision.ID, ec.State, d.cfg.stageTimeout(ec.State)))
	return "stage timeout at " + string(ec.State)
}

// abort handles a transition the driver expected to be legal but the
// state machine refused. The pipeline records an internal fault and
// escapes so no working orders are left behind.
func (d *Driver) abort(ctx context.Context, ec *ExecutionContext, err error) *ExecutionResult {
	ec.addAlerts(failSafe(CodeFS093, string(ec.State),
		"order %s: %v", ec.Decision.ID, err))
	if ec.State.Terminal() {
		return d.finish(ctx, ec, nil)
	}
	return d.escape(ctx, ec, ReasonInternalError)
}
