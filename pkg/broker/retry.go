package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// SendWithRetry sends an order, retrying transient failures and venue
// rejects with exponential backoff up to maxTries total attempts.
// Non-transient errors are returned immediately.
func SendWithRetry(ctx context.Context, adapter Adapter, req OrderRequest, maxTries int) (Ack, error) {
	if maxTries <= 0 {
		maxTries = 3
	}

	operation := func() (Ack, error) {
		ack, err := adapter.SendOrder(ctx, req)
		if err != nil {
			if errors.Is(err, ErrTransient) {
				return Ack{}, err
			}
			return Ack{}, backoff.Permanent(err)
		}
		if !ack.Accepted {
			return Ack{}, fmt.Errorf("rejected: %s", ack.RejectReason)
		}
		return ack, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxTries)))
}
