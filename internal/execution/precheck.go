package execution

import (
	"math"

	"execution-core/internal/feedback"
	"execution-core/internal/safety"
)

// Env is the account and venue snapshot pre-check evaluates a decision
// against. The driver assembles it once per execution.
type Env struct {
	AvailableCapital    float64
	BrokerConnected     bool
	MarketOpen          bool
	Safety              safety.Level
	ExistingPositionQty int64
	MaxPositionQty      int64
	DailyTradeCount     int
	DailyTradeLimit     int

	// FeedbackSummary carries recent execution quality for the symbol.
	// It does not gate admission; entry adjustments derived from it are
	// applied upstream by the strategy layer.
	FeedbackSummary *feedback.Summary
}

// Rejection reason codes returned by PreCheck.
const (
	ReasonSafetyFail          = "SAFETY_FAIL"
	ReasonPositionLimit       = "POSITION_LIMIT_EXCEEDED"
	ReasonInsufficientCapital = "INSUFFICIENT_CAPITAL"
	ReasonBrokerDisconnected  = "BROKER_DISCONNECTED"
	ReasonMarketClosed        = "MARKET_CLOSED"
	ReasonDailyLimitReached   = "DAILY_LIMIT_REACHED"
)

// PreCheckResult is the outcome of the admission stage.
type PreCheckResult struct {
	Passed      bool
	Reason      string
	AdjustedQty int64
	Alerts      []Alert
}

// PreCheck runs the admission checks in a fixed order and stops at the
// first failure. A capital shortfall resizes the order instead of
// rejecting it when at least one share remains affordable.
func PreCheck(ec *ExecutionContext, env Env) PreCheckResult {
	d := ec.Decision
	qty := ec.Qty
	var alerts []Alert

	if env.Safety == safety.LevelFail || env.Safety == safety.LevelLockdown {
		alerts = append(alerts, failSafe(CodeFS090, string(StatePrecheck),
			"order %s blocked: safety state %s forbids new orders", d.ID, env.Safety))
		return PreCheckResult{Reason: ReasonSafetyFail, Alerts: alerts}
	}

	if env.MaxPositionQty > 0 && env.ExistingPositionQty+qty > env.MaxPositionQty {
		return PreCheckResult{Reason: ReasonPositionLimit, Alerts: alerts}
	}

	if d.Price > 0 {
		cost := float64(qty) * d.Price
		if cost > env.AvailableCapital {
			affordable := int64(math.Floor(env.AvailableCapital / d.Price))
			if affordable <= 0 {
				return PreCheckResult{Reason: ReasonInsufficientCapital, Alerts: alerts}
			}
			alerts = append(alerts, guardrail(CodeGR061, string(StatePrecheck),
				"order %s resized %d -> %d to fit available capital %.2f", d.ID, qty, affordable, env.AvailableCapital))
			qty = affordable
		}
	}

	if !env.BrokerConnected {
		return PreCheckResult{Reason: ReasonBrokerDisconnected, Alerts: alerts}
	}

	if !env.MarketOpen {
		return PreCheckResult{Reason: ReasonMarketClosed, Alerts: alerts}
	}

	if env.DailyTradeLimit > 0 && env.DailyTradeCount >= env.DailyTradeLimit {
		alerts = append(alerts, guardrail(CodeGR062, string(StatePrecheck),
			"order %s rejected: daily trade limit %d reached", d.ID, env.DailyTradeLimit))
		return PreCheckResult{Reason: ReasonDailyLimitReached, Alerts: alerts}
	}

	return PreCheckResult{Passed: true, AdjustedQty: qty, Alerts: alerts}
}
