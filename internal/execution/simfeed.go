package execution

import (
	"context"
	"time"

	"execution-core/pkg/broker"
)

// SimFillFeed fabricates fills for sent splits, used in dry runs and
// tests. Each poll fills up to FillRatio of every live split's remaining
// quantity at the split's working price.
type SimFillFeed struct {
	// FillRatio in (0,1] is the fraction of a split's remainder filled
	// per poll. Zero defaults to a full fill.
	FillRatio float64

	// Market prices splits that carry no limit price. Without it, market
	// order splits fill at the parent's decision price.
	Market MarketView
}

func (f *SimFillFeed) PendingFills(_ context.Context, ec *ExecutionContext) []FillEvent {
	ratio := f.FillRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	now := time.Now().UTC()
	var out []FillEvent
	for _, split := range ec.Splits {
		if split.Status != SplitSent && split.Status != SplitPartiallyFilled {
			continue
		}
		remaining := split.Qty - split.FilledQty
		if remaining <= 0 {
			continue
		}
		qty := int64(float64(remaining) * ratio)
		if qty < 1 {
			qty = remaining
		}
		out = append(out, FillEvent{
			BrokerOrderID: split.BrokerOrderID,
			Qty:           qty,
			Price:         f.fillPrice(ec, split),
			At:            now,
		})
	}
	return out
}

func (f *SimFillFeed) fillPrice(ec *ExecutionContext, split *SplitOrder) float64 {
	if split.Price > 0 {
		return split.Price
	}
	if f.Market != nil {
		tob := f.Market.TopOfBook(ec.Decision.Symbol)
		if ec.Decision.Side == broker.SideBuy && tob.BestAsk > 0 {
			return tob.BestAsk
		}
		if tob.BestBid > 0 {
			return tob.BestBid
		}
	}
	return ec.Decision.Price
}
