package execution

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"execution-core/pkg/broker"
)

// State is one position in the execution pipeline's lifecycle machine.
type State string

const (
	StateInit       State = "INIT"
	StatePrecheck   State = "PRECHECK"
	StateSplitting  State = "SPLITTING"
	StateSending    State = "SENDING"
	StateMonitoring State = "MONITORING"
	StateAdjusting  State = "ADJUSTING"
	StateEscaping   State = "ESCAPING"
	StateComplete   State = "COMPLETE"
	StateEscaped    State = "ESCAPED"
	StateFailed     State = "FAILED"
)

// successors lists the permitted forward transitions for each state.
// ESCAPING is additionally reachable from any non-terminal state.
var successors = map[State][]State{
	StateInit:       {StatePrecheck},
	StatePrecheck:   {StateSplitting, StateFailed},
	StateSplitting:  {StateSending, StateFailed},
	StateSending:    {StateMonitoring, StateFailed},
	StateMonitoring: {StateComplete, StateAdjusting},
	StateAdjusting:  {StateMonitoring, StateEscaping},
	StateEscaping:   {StateEscaped},
}

// Terminal reports whether no further transitions may leave s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateEscaped || s == StateFailed
}

// CanTransition reports whether from may legally advance to to.
func CanTransition(from, to State) bool {
	if to == StateEscaping && !from.Terminal() {
		return true
	}
	for _, next := range successors[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Urgency biases split strategy selection toward faster completion.
type Urgency int

const (
	UrgencyNormal Urgency = iota
	UrgencyUrgent
)

// OrderDecision is the validated instruction handed to the pipeline by the
// strategy layer. Construct it with NewOrderDecision; a zero value is not
// safe to execute.
type OrderDecision struct {
	ID          string
	Symbol      string
	Side        broker.Side
	Qty         int64
	Price       float64
	Type        broker.OrderType
	StrategyTag string
	Urgency     Urgency
	CreatedAt   time.Time
}

// NewOrderDecision validates and builds an OrderDecision.
func NewOrderDecision(symbol string, side broker.Side, qty int64, price float64, typ broker.OrderType, strategyTag string, urgency Urgency) (*OrderDecision, error) {
	if symbol == "" {
		return nil, fmt.Errorf("order decision: empty symbol")
	}
	if qty <= 0 {
		return nil, fmt.Errorf("order decision: quantity must be positive, got %d", qty)
	}
	if typ == broker.TypeLimit && price <= 0 {
		return nil, fmt.Errorf("order decision: limit order requires a positive price")
	}
	return &OrderDecision{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		Side:        side,
		Qty:         qty,
		Price:       price,
		Type:        typ,
		StrategyTag: strategyTag,
		Urgency:     urgency,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// SplitStatus tracks one child order's lifecycle.
type SplitStatus string

const (
	SplitPending         SplitStatus = "PENDING"
	SplitSent            SplitStatus = "SENT"
	SplitFilled          SplitStatus = "FILLED"
	SplitPartiallyFilled SplitStatus = "PARTIALLY_FILLED"
	SplitCancelled       SplitStatus = "CANCELLED"
	SplitFailed          SplitStatus = "FAILED"
)

// Terminal reports whether the split can no longer fill.
func (s SplitStatus) Terminal() bool {
	return s == SplitFilled || s == SplitCancelled || s == SplitFailed
}

// SplitOrder is one child order carved out of a parent decision.
type SplitOrder struct {
	ID            string
	ParentID      string
	Seq           int
	Qty           int64
	Price         float64
	Status        SplitStatus
	BrokerOrderID string
	FilledQty     int64
	AvgFillPrice  float64
}

// FillEvent is a broker fill report for one child order. Fills are a bag:
// applying them is independent of arrival order.
type FillEvent struct {
	BrokerOrderID string
	Qty           int64
	Price         float64
	At            time.Time
}

// Alert severity classes.
const (
	SeverityFailSafe  = "FAIL_SAFE"
	SeverityGuardrail = "GUARDRAIL"
)

// Wire-stable alert codes raised by the pipeline.
const (
	CodeFS090 = "FS090" // send failure or safety block
	CodeFS091 = "FS091" // stage timeout
	CodeFS092 = "FS092" // emergency escape engaged
	CodeFS093 = "FS093" // pipeline internal error
	CodeFS094 = "FS094" // adjustment rounds exhausted
	CodeFS095 = "FS095" // escape under safety fail or broker disconnect

	CodeGR060 = "GR060" // split count consolidated
	CodeGR061 = "GR061" // quantity resized to available capital
	CodeGR062 = "GR062" // daily trade limit reached
	CodeGR063 = "GR063" // adjustment held back by slippage guard
	CodeGR064 = "GR064" // no fills observed while monitoring
)

// Alert is a structured pipeline notification surfaced to operators.
type Alert struct {
	Code     string    `json:"code"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	Stage    string    `json:"stage"`
	At       time.Time `json:"at"`
}

func failSafe(code, stage, format string, args ...any) Alert {
	return Alert{Code: code, Severity: SeverityFailSafe, Message: fmt.Sprintf(format, args...), Stage: stage, At: time.Now().UTC()}
}

func guardrail(code, stage, format string, args ...any) Alert {
	return Alert{Code: code, Severity: SeverityGuardrail, Message: fmt.Sprintf(format, args...), Stage: stage, At: time.Now().UTC()}
}

// ExecutionContext carries one decision through the pipeline. It is owned by
// a single driver goroutine and is not safe for concurrent mutation.
type ExecutionContext struct {
	Decision *OrderDecision
	State    State

	// Qty is the effective quantity, which pre-check may shrink below the
	// decision's requested quantity.
	Qty int64

	Splits []*SplitOrder
	Fills  []FillEvent
	Alerts []Alert

	AdjustmentRounds int
	StageStart       time.Time
	StartedAt        time.Time
}

// NewExecutionContext seeds a context in INIT for the given decision.
func NewExecutionContext(decision *OrderDecision) *ExecutionContext {
	now := time.Now().UTC()
	return &ExecutionContext{
		Decision:   decision,
		State:      StateInit,
		Qty:        decision.Qty,
		StageStart: now,
		StartedAt:  now,
	}
}

// Transition advances the context to the next state, resetting the stage
// clock. It returns an error when the move is not permitted.
func (ec *ExecutionContext) Transition(to State) error {
	if !CanTransition(ec.State, to) {
		return fmt.Errorf("execution: illegal transition %s -> %s", ec.State, to)
	}
	ec.State = to
	ec.StageStart = time.Now().UTC()
	return nil
}

func (ec *ExecutionContext) addAlerts(alerts ...Alert) {
	ec.Alerts = append(ec.Alerts, alerts...)
}

// TotalFilled sums fill quantity across all splits.
func (ec *ExecutionContext) TotalFilled() int64 {
	var total int64
	for _, s := range ec.Splits {
		total += s.FilledQty
	}
	return total
}

// TotalRemaining sums unfilled quantity across splits that can still fill.
func (ec *ExecutionContext) TotalRemaining() int64 {
	var total int64
	for _, s := range ec.Splits {
		if s.Status == SplitCancelled || s.Status == SplitFailed {
			continue
		}
		if rem := s.Qty - s.FilledQty; rem > 0 {
			total += rem
		}
	}
	return total
}

// VWAP is the quantity weighted average fill price across all splits, or
// zero when nothing filled.
func (ec *ExecutionContext) VWAP() float64 {
	var qty int64
	var notional float64
	for _, s := range ec.Splits {
		qty += s.FilledQty
		notional += float64(s.FilledQty) * s.AvgFillPrice
	}
	if qty == 0 {
		return 0
	}
	return notional / float64(qty)
}

// EscapeResult summarizes an emergency escape pass.
type EscapeResult struct {
	Success        bool   `json:"success"`
	Reason         string `json:"reason"`
	CancelledCount int    `json:"cancelled_count"`
	LiquidationQty int64  `json:"liquidation_qty"`
}

// ExecutionResult is the terminal outcome of one decision.
type ExecutionResult struct {
	OrderID      string        `json:"order_id"`
	Symbol       string        `json:"symbol"`
	State        State         `json:"state"`
	RequestedQty int64         `json:"requested_qty"`
	FilledQty    int64         `json:"filled_qty"`
	AvgFillPrice float64       `json:"avg_fill_price"`
	SplitCount   int           `json:"split_count"`
	Alerts       []Alert       `json:"alerts,omitempty"`
	Escape       *EscapeResult `json:"escape,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at"`
}

// FillRate is filled over requested quantity in [0,1].
func (r *ExecutionResult) FillRate() float64 {
	if r.RequestedQty <= 0 {
		return 0
	}
	return float64(r.FilledQty) / float64(r.RequestedQty)
}
