package execution

// MonitorStatus classifies fill progress at evaluation time.
type MonitorStatus string

const (
	MonitorComplete        MonitorStatus = "COMPLETE"
	MonitorPartial         MonitorStatus = "PARTIAL"
	MonitorNeedsAdjustment MonitorStatus = "NEEDS_ADJUSTMENT"
)

// MonitorResult is one evaluation of the fill bag against the splits.
type MonitorResult struct {
	Status         MonitorStatus
	TotalFilled    int64
	TotalRemaining int64
	VWAP           float64
}

// ApplyFills merges new fill events into the context and recomputes every
// split's fill state from the full bag. The recomputation makes the result
// independent of fill arrival order and safe to repeat.
func ApplyFills(ec *ExecutionContext, fills []FillEvent) (MonitorResult, []Alert) {
	ec.Fills = append(ec.Fills, fills...)

	type tally struct {
		qty      int64
		notional float64
	}
	byOrder := make(map[string]tally)
	for _, f := range ec.Fills {
		t := byOrder[f.BrokerOrderID]
		t.qty += f.Qty
		t.notional += float64(f.Qty) * f.Price
		byOrder[f.BrokerOrderID] = t
	}

	for _, split := range ec.Splits {
		if split.Status == SplitCancelled || split.Status == SplitFailed || split.BrokerOrderID == "" {
			continue
		}
		t := byOrder[split.BrokerOrderID]
		split.FilledQty = t.qty
		if t.qty > 0 {
			split.AvgFillPrice = t.notional / float64(t.qty)
		}
		switch {
		case t.qty >= split.Qty:
			split.Status = SplitFilled
		case t.qty > 0:
			split.Status = SplitPartiallyFilled
		default:
			split.Status = SplitSent
		}
	}

	res := MonitorResult{
		TotalFilled:    ec.TotalFilled(),
		TotalRemaining: ec.TotalRemaining(),
		VWAP:           ec.VWAP(),
	}

	var alerts []Alert
	switch {
	case res.TotalRemaining == 0:
		res.Status = MonitorComplete
	case res.TotalFilled > 0:
		res.Status = MonitorPartial
	default:
		res.Status = MonitorNeedsAdjustment
		alerts = append(alerts, guardrail(CodeGR064, string(StateMonitoring),
			"order %s: no fills observed across %d splits", ec.Decision.ID, len(ec.Splits)))
	}
	return res, alerts
}
