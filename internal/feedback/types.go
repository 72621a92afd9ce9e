package feedback

import "time"

// MarketContext captures conditions at execution time.
type MarketContext struct {
	Volatility     float64 `json:"volatility"`
	SpreadBps      float64 `json:"spread_bps"`
	Depth          float64 `json:"depth"`
	AvgDailyVolume float64 `json:"avg_daily_volume"`
}

// ExecutionInputs is everything the aggregator needs from one completed
// pipeline run.
type ExecutionInputs struct {
	OrderID          string
	Symbol           string
	ExecutionStart   time.Time
	ExecutionEnd     time.Time
	DecisionPrice    float64
	AvgFillPrice     float64
	FilledQty        float64
	OriginalQty      float64
	PartialFillRatio float64 // unfilled fraction, [0,1]
	AvgFillLatencyMs float64
	StrategyTag      string
	Market           MarketContext
}

// Data is the immutable per-execution feedback record.
type Data struct {
	ID               string        `json:"id"`
	Symbol           string        `json:"symbol"`
	ExecutionStart   time.Time     `json:"execution_start"`
	ExecutionEnd     time.Time     `json:"execution_end"`
	SlippageBps      float64       `json:"slippage_bps"` // positive = unfavorable
	AvgFillLatencyMs float64       `json:"avg_fill_latency_ms"`
	PartialFillRatio float64       `json:"partial_fill_ratio"`
	FilledQty        float64       `json:"filled_qty"`
	AvgFillPrice     float64       `json:"avg_fill_price"`
	Market           MarketContext `json:"market"`
	QualityScore     float64       `json:"quality_score"` // [0,1]
	MarketImpactBps  float64       `json:"market_impact_bps"`
	StrategyTag      string        `json:"strategy_tag"`
}

// Summary aggregates feedback for a symbol over a window.
type Summary struct {
	Symbol           string  `json:"symbol"`
	AvgSlippageBps   float64 `json:"avg_slippage_bps"`
	AvgQualityScore  float64 `json:"avg_quality_score"`
	AvgFillRatio     float64 `json:"avg_fill_ratio"`
	AvgFillLatencyMs float64 `json:"avg_fill_latency_ms"`
	AvgImpactBps     float64 `json:"avg_impact_bps"`
	SampleCount      int     `json:"sample_count"`
}

// DefaultSummary is the conservative stand-in when no samples exist.
func DefaultSummary(symbol string) Summary {
	return Summary{
		Symbol:           symbol,
		AvgSlippageBps:   10,
		AvgQualityScore:  0.75,
		AvgFillRatio:     0.95,
		AvgFillLatencyMs: 50,
		AvgImpactBps:     15,
		SampleCount:      0,
	}
}
