package execution

import (
	"context"
	"log"

	"execution-core/pkg/broker"
)

// SendResult summarizes the send stage.
type SendResult struct {
	SentCount   int
	FailedCount int
}

// SendSplits pushes every pending split to the broker. Rejects and
// transient errors are retried per split with exponential backoff; attempts
// are independent across splits, so one dead child never blocks its
// siblings. A stage where nothing went out and at least one split failed is
// reported with a fail-safe alert.
func SendSplits(ctx context.Context, ec *ExecutionContext, adapter broker.Adapter, cfg Config) (SendResult, []Alert) {
	var res SendResult
	var alerts []Alert

	for _, split := range ec.Splits {
		if split.Status != SplitPending {
			continue
		}
		ack, err := sendOne(ctx, adapter, ec, split, cfg)
		if err != nil {
			log.Printf("execution: order %s split %d send failed: %v", ec.Decision.ID, split.Seq, err)
			split.Status = SplitFailed
			res.FailedCount++
			continue
		}
		split.Status = SplitSent
		split.BrokerOrderID = ack.BrokerOrderID
		res.SentCount++
	}

	if res.SentCount == 0 && res.FailedCount > 0 {
		alerts = append(alerts, failSafe(CodeFS090, string(StateSending),
			"order %s: all %d splits failed to send", ec.Decision.ID, res.FailedCount))
	}
	return res, alerts
}

// sendOne submits a single split through the broker retry helper, which
// retries transient failures and venue rejects up to the configured
// attempt cap and stops immediately on permanent errors.
func sendOne(ctx context.Context, adapter broker.Adapter, ec *ExecutionContext, split *SplitOrder, cfg Config) (broker.Ack, error) {
	return broker.SendWithRetry(ctx, adapter, broker.OrderRequest{
		Symbol:   ec.Decision.Symbol,
		Side:     ec.Decision.Side,
		Qty:      split.Qty,
		Price:    split.Price,
		Type:     ec.Decision.Type,
		ClientID: split.ID,
	}, cfg.MaxSendRetries)
}
