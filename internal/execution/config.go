package execution

import "time"

// Config tunes the pipeline stages. DefaultConfig matches the production
// runtime settings; tests shrink the timeouts.
type Config struct {
	MinSplitQty         int64
	TwapBuckets         int
	IcebergVisiblePct   float64
	MaxSplits           int
	MaxSendRetries      int
	MaxAdjustmentRounds int
	AdjustStepPct       float64
	MaxSlippagePct      float64

	PrecheckTimeout   time.Duration
	SplittingTimeout  time.Duration
	SendingTimeout    time.Duration
	MonitoringTimeout time.Duration
	AdjustingTimeout  time.Duration
	EscapingTimeout   time.Duration

	MonitorPollInterval time.Duration

	// FeedbackLookbackDays bounds the execution quality history consulted
	// at precheck.
	FeedbackLookbackDays int
}

func DefaultConfig() Config {
	return Config{
		MinSplitQty:         100,
		TwapBuckets:         5,
		IcebergVisiblePct:   0.1,
		MaxSplits:           20,
		MaxSendRetries:      3,
		MaxAdjustmentRounds: 3,
		AdjustStepPct:       0.001,
		MaxSlippagePct:      0.005,

		PrecheckTimeout:   5 * time.Second,
		SplittingTimeout:  1 * time.Second,
		SendingTimeout:    10 * time.Second,
		MonitoringTimeout: 60 * time.Second,
		AdjustingTimeout:  30 * time.Second,
		EscapingTimeout:   30 * time.Second,

		MonitorPollInterval: 200 * time.Millisecond,

		FeedbackLookbackDays: 7,
	}
}

// stageTimeout returns the budget for the given state, or zero when the
// state has no budget.
func (c Config) stageTimeout(s State) time.Duration {
	switch s {
	case StatePrecheck:
		return c.PrecheckTimeout
	case StateSplitting:
		return c.SplittingTimeout
	case StateSending:
		return c.SendingTimeout
	case StateMonitoring:
		return c.MonitoringTimeout
	case StateAdjusting:
		return c.AdjustingTimeout
	case StateEscaping:
		return c.EscapingTimeout
	}
	return 0
}
