package feedback

import "math"

// SlippageBps is the signed deviation of fill from decision price in basis
// points; positive means unfavorable. Zero decision price yields zero.
func SlippageBps(avgFillPrice, decisionPrice float64) float64 {
	if decisionPrice == 0 {
		return 0
	}
	return (avgFillPrice - decisionPrice) / decisionPrice * 10000
}

// MarketImpactBps estimates the price impact of an execution from the quoted
// spread and participation: spread_bps * sqrt(filled/adv) * 10.
func MarketImpactBps(spreadBps, filledQty, avgDailyVolume float64) float64 {
	if filledQty <= 0 || avgDailyVolume <= 0 {
		return 0
	}
	return spreadBps * math.Sqrt(filledQty/avgDailyVolume) * 10
}

// QualityScore grades one execution in [0,1]: half slippage, then fill
// completeness, then latency.
func QualityScore(slippageBps, partialFillRatio, avgFillLatencyMs float64) float64 {
	slippageComponent := 1 - math.Min(math.Abs(slippageBps)/50, 1)
	fillComponent := 1 - clamp(partialFillRatio, 0, 1)
	latencyComponent := 1 - math.Min(math.Max(avgFillLatencyMs, 0)/1000, 1)

	score := 0.5*slippageComponent + 0.3*fillComponent + 0.2*latencyComponent
	return clamp(score, 0, 1)
}

// AdjustedEntryPrice biases a signal price by historical slippage: buys pay
// up, sells give back.
func AdjustedEntryPrice(signalPrice, historicalSlippageBps float64, side string) float64 {
	adj := signalPrice * (historicalSlippageBps / 10000)
	if side == "SELL" {
		return signalPrice - adj
	}
	return signalPrice + adj
}

// AdjustQtyForImpact scales a target quantity down when the estimated
// impact exceeds the acceptable budget.
func AdjustQtyForImpact(targetQty int64, estimatedImpactBps, maxAcceptableBps float64) int64 {
	if maxAcceptableBps <= 0 {
		maxAcceptableBps = 20
	}
	if estimatedImpactBps <= maxAcceptableBps || estimatedImpactBps <= 0 {
		return targetQty
	}
	return int64(math.Floor(float64(targetQty) * maxAcceptableBps / estimatedImpactBps))
}

// AdjustConfidence discounts a raw signal confidence by execution quality.
func AdjustConfidence(rawConfidence, qualityScore float64) float64 {
	return clamp(rawConfidence*qualityScore, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
