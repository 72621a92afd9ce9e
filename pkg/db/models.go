package db

import "time"

// FeedbackRow is one persisted execution-feedback record.
type FeedbackRow struct {
	ID               string
	Symbol           string
	ExecutionStart   time.Time
	ExecutionEnd     time.Time
	SlippageBps      float64
	AvgFillLatencyMs float64
	PartialFillRatio float64
	FilledQty        float64
	AvgFillPrice     float64
	Volatility       float64
	SpreadBps        float64
	Depth            float64
	AvgDailyVolume   float64
	QualityScore     float64
	MarketImpactBps  float64
	StrategyTag      string
	CreatedAt        time.Time
}

// FeedbackSummaryRow aggregates feedback over a window.
type FeedbackSummaryRow struct {
	Symbol           string
	AvgSlippageBps   float64
	AvgQualityScore  float64
	AvgFillRatio     float64
	AvgFillLatencyMs float64
	AvgImpactBps     float64
	SampleCount      int
}

// ExecutionRow is one completed pipeline run, polled by the feedback
// batch collector.
type ExecutionRow struct {
	OrderID          string
	Symbol           string
	ExecutionStart   time.Time
	ExecutionEnd     time.Time
	DecisionPrice    float64
	AvgFillPrice     float64
	FilledQty        int64
	OriginalQty      int64
	PartialFillRatio float64
	AvgFillLatencyMs float64
	StrategyTag      string
	OrderType        string
	FinalState       string
	CreatedAt        time.Time
}
