package execution

import (
	"context"
	"log"

	"execution-core/pkg/broker"
)

// Escape reasons with dedicated alerting.
const (
	ReasonBrokerDisconnect = "BROKER_DISCONNECT"
	ReasonTimeout          = "STAGE_TIMEOUT"
	ReasonAdjustExhausted  = "ADJUSTMENTS_EXHAUSTED"
	ReasonInternalError    = "PIPELINE_INTERNAL_ERROR"
)

// Escape cancels every split that could still fill. Cancel failures are
// logged and the split is marked cancelled anyway; once escape engages the
// working orders are dead from the pipeline's point of view regardless of
// what the venue reports. Safety and connectivity triggered escapes raise
// an extra fail-safe alert.
func Escape(ctx context.Context, ec *ExecutionContext, adapter broker.Adapter, reason string) (*EscapeResult, []Alert) {
	var alerts []Alert
	alerts = append(alerts, failSafe(CodeFS092, string(StateEscaping),
		"order %s: emergency escape engaged: %s", ec.Decision.ID, reason))
	if reason == ReasonSafetyFail || reason == ReasonBrokerDisconnect {
		alerts = append(alerts, failSafe(CodeFS095, string(StateEscaping),
			"order %s: escape under %s", ec.Decision.ID, reason))
	}

	cancelled := 0
	for _, split := range ec.Splits {
		if split.Status.Terminal() {
			continue
		}
		if split.BrokerOrderID != "" {
			if _, err := adapter.CancelOrder(ctx, split.BrokerOrderID); err != nil {
				log.Printf("execution: order %s split %d cancel failed during escape: %v", ec.Decision.ID, split.Seq, err)
			}
		}
		split.Status = SplitCancelled
		cancelled++
	}

	return &EscapeResult{
		Success:        true,
		Reason:         reason,
		CancelledCount: cancelled,
		LiquidationQty: ec.TotalFilled(),
	}, alerts
}
