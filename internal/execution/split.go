package execution

import (
	"math"

	"github.com/google/uuid"
)

// SplitStrategy names the algorithm used to carve a parent order.
type SplitStrategy string

const (
	StrategySingle  SplitStrategy = "SINGLE"
	StrategyTWAP    SplitStrategy = "TWAP"
	StrategyVWAP    SplitStrategy = "VWAP"
	StrategyIceberg SplitStrategy = "ICEBERG"
)

// ChooseStrategy picks a split algorithm from quantity and urgency.
func ChooseStrategy(qty int64, urgency Urgency, cfg Config) SplitStrategy {
	switch {
	case qty <= cfg.MinSplitQty:
		return StrategySingle
	case urgency == UrgencyUrgent:
		return StrategyTWAP
	case qty > 10*cfg.MinSplitQty:
		return StrategyIceberg
	default:
		return StrategyTWAP
	}
}

// BuildSplits carves the effective quantity into child orders. A VWAP
// request without a volume profile falls back to TWAP. When any strategy
// produces more than MaxSplits children, the plan is consolidated into
// MaxSplits TWAP buckets.
func BuildSplits(ec *ExecutionContext, strategy SplitStrategy, volumeProfile []float64, cfg Config) ([]*SplitOrder, []Alert) {
	var alerts []Alert
	qty := ec.Qty

	if strategy == StrategyVWAP && len(volumeProfile) == 0 {
		strategy = StrategyTWAP
	}

	var quantities []int64
	switch strategy {
	case StrategySingle:
		quantities = []int64{qty}
	case StrategyTWAP:
		quantities = twapBuckets(qty, cfg.TwapBuckets)
	case StrategyVWAP:
		quantities = vwapBuckets(qty, volumeProfile)
	case StrategyIceberg:
		quantities = icebergChunks(qty, cfg.IcebergVisiblePct)
	default:
		quantities = []int64{qty}
	}

	if len(quantities) > cfg.MaxSplits {
		alerts = append(alerts, guardrail(CodeGR060, string(StateSplitting),
			"order %s: %d splits consolidated to %d", ec.Decision.ID, len(quantities), cfg.MaxSplits))
		quantities = twapBuckets(qty, cfg.MaxSplits)
	}

	splits := make([]*SplitOrder, 0, len(quantities))
	for i, q := range quantities {
		splits = append(splits, &SplitOrder{
			ID:       uuid.New().String(),
			ParentID: ec.Decision.ID,
			Seq:      i,
			Qty:      q,
			Price:    ec.Decision.Price,
			Status:   SplitPending,
		})
	}
	return splits, alerts
}

// twapBuckets spreads qty over at most n equal buckets. The remainder goes
// one share at a time to the earliest buckets so the sum is exact.
func twapBuckets(qty int64, n int) []int64 {
	if n <= 0 {
		n = 1
	}
	if int64(n) > qty {
		n = int(qty)
	}
	base := qty / int64(n)
	extra := qty % int64(n)
	out := make([]int64, n)
	for i := range out {
		out[i] = base
		if int64(i) < extra {
			out[i]++
		}
	}
	return out
}

// vwapBuckets allocates qty proportionally to the volume profile weights.
// Rounding leftovers land in the heaviest bucket.
func vwapBuckets(qty int64, profile []float64) []int64 {
	var total float64
	for _, w := range profile {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return []int64{qty}
	}

	out := make([]int64, 0, len(profile))
	heaviest, heaviestIdx := 0.0, 0
	var allocated int64
	for _, w := range profile {
		if w <= 0 {
			continue
		}
		q := int64(math.Floor(float64(qty) * w / total))
		if w > heaviest {
			heaviest = w
			heaviestIdx = len(out)
		}
		out = append(out, q)
		allocated += q
	}
	if leftover := qty - allocated; leftover > 0 {
		out[heaviestIdx] += leftover
	}

	// Drop zero buckets from very light profile slots.
	compact := out[:0]
	for _, q := range out {
		if q > 0 {
			compact = append(compact, q)
		}
	}
	if len(compact) == 0 {
		return []int64{qty}
	}
	return compact
}

// icebergChunks slices qty into visible chunks of at least one share.
func icebergChunks(qty int64, visiblePct float64) []int64 {
	chunk := int64(math.Round(float64(qty) * visiblePct))
	if chunk < 1 {
		chunk = 1
	}
	var out []int64
	for remaining := qty; remaining > 0; remaining -= chunk {
		q := chunk
		if remaining < chunk {
			q = remaining
		}
		out = append(out, q)
	}
	return out
}
