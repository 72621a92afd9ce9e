package execution

import (
	"math"

	"execution-core/pkg/broker"
)

// AdjustAction is what to do with one live split this round.
type AdjustAction string

const (
	ActionPriceImprove AdjustAction = "PRICE_IMPROVE"
	ActionWait         AdjustAction = "WAIT"
)

// TopOfBook is the current best quotes for a symbol. A zero side means the
// quote is unknown.
type TopOfBook struct {
	BestBid float64
	BestAsk float64
}

// MarketView supplies quotes to the adjustment stage.
type MarketView interface {
	TopOfBook(symbol string) TopOfBook
}

// Adjustment is one proposed modification for a live split.
type Adjustment struct {
	Split    *SplitOrder
	Action   AdjustAction
	NewPrice float64
}

// AdjustResult is one adjustment round's plan. Escalate means the round
// budget is spent and the order must escape.
type AdjustResult struct {
	Escalate    bool
	Adjustments []Adjustment
}

// Adjust plans one round of price improvements for splits that can still
// fill. Buys step toward the best ask, sells toward the best bid, capped at
// the touch. A move whose slippage from the split's working price exceeds
// the guard holds as WAIT instead. Exhausting the round budget escalates.
func Adjust(ec *ExecutionContext, tob TopOfBook, cfg Config) (AdjustResult, []Alert) {
	var alerts []Alert

	ec.AdjustmentRounds++
	if ec.AdjustmentRounds >= cfg.MaxAdjustmentRounds {
		alerts = append(alerts, failSafe(CodeFS094, string(StateAdjusting),
			"order %s: %d adjustment rounds exhausted, escaping", ec.Decision.ID, cfg.MaxAdjustmentRounds))
		return AdjustResult{Escalate: true}, alerts
	}

	var res AdjustResult
	for _, split := range ec.Splits {
		if split.Status.Terminal() || split.BrokerOrderID == "" {
			continue
		}

		newPrice, ok := improvedPrice(ec.Decision.Side, split.Price, tob, cfg.AdjustStepPct)
		if !ok {
			res.Adjustments = append(res.Adjustments, Adjustment{Split: split, Action: ActionWait})
			continue
		}

		slippage := math.Abs(newPrice-split.Price) / split.Price
		if slippage > cfg.MaxSlippagePct {
			alerts = append(alerts, guardrail(CodeGR063, string(StateAdjusting),
				"order %s split %d: %.4f slippage exceeds %.4f cap, holding", ec.Decision.ID, split.Seq, slippage, cfg.MaxSlippagePct))
			res.Adjustments = append(res.Adjustments, Adjustment{Split: split, Action: ActionWait})
			continue
		}

		res.Adjustments = append(res.Adjustments, Adjustment{Split: split, Action: ActionPriceImprove, NewPrice: newPrice})
	}
	return res, alerts
}

// improvedPrice steps the working price toward the opposite touch. It
// reports false when the needed quote is unknown or the step would not
// actually move the price.
func improvedPrice(side broker.Side, price float64, tob TopOfBook, stepPct float64) (float64, bool) {
	if price <= 0 {
		return 0, false
	}
	switch side {
	case broker.SideBuy:
		if tob.BestAsk <= 0 {
			return 0, false
		}
		p := math.Min(price*(1+stepPct), tob.BestAsk)
		return p, p > price
	case broker.SideSell:
		if tob.BestBid <= 0 {
			return 0, false
		}
		p := math.Max(price*(1-stepPct), tob.BestBid)
		return p, p < price
	}
	return 0, false
}
