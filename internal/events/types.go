package events

// Type enumerates every event topic inside the core. The catalog is closed:
// routing, batching, and drop policy are all derived from the type.
type Type string

const (
	// P0 critical
	TypeFillConfirmed    Type = "fill.confirmed"
	TypeFillPartial      Type = "fill.partial"
	TypeOrderRejected    Type = "order.rejected"
	TypeOrderCancelled   Type = "order.cancelled"
	TypePositionUpdate   Type = "position.update"
	TypeEmergencyStop    Type = "emergency.stop"
	TypeBrokerDisconnect Type = "broker.disconnect"

	// P1 high (market data)
	TypePriceTick        Type = "price.tick"
	TypeOrderbookUpdate  Type = "orderbook.update"
	TypeVolumeUpdate     Type = "volume.update"
	TypeIndexUpdate      Type = "index.update"
	TypeVolatilityUpdate Type = "volatility.update"

	// P2 medium (cycle work)
	TypeCycleStart        Type = "eteda.cycle_start"
	TypeStrategyEvaluate  Type = "strategy.evaluate"
	TypeRiskEvaluate      Type = "risk.evaluate"
	TypePortfolioEvaluate Type = "portfolio.evaluate"
	TypeIndicatorUpdate   Type = "indicator.update"
	TypeSignalUpdate      Type = "signal.update"

	// P3 low (best effort)
	TypeDashboardUpdate Type = "dashboard.update"
	TypeLogWrite        Type = "log.write"
	TypeReportGenerate  Type = "report.generate"
	TypeNotification    Type = "notification"
	TypeMetricUpdate    Type = "metric.update"
)

// Priority is the tier an event is routed through.
type Priority int

const (
	PriorityP0 Priority = iota // critical, <10ms, never dropped
	PriorityP1                 // high, <50ms, drop-oldest
	PriorityP2                 // medium, <500ms, collapse by type
	PriorityP3                 // low, best effort, sampled
)

func (p Priority) String() string {
	switch p {
	case PriorityP0:
		return "P0"
	case PriorityP1:
		return "P1"
	case PriorityP2:
		return "P2"
	case PriorityP3:
		return "P3"
	default:
		return "P?"
	}
}

// Contract captures per-type delivery obligations.
type Contract struct {
	RequiresAck bool
	CanBatch    bool
	CanCollapse bool
	CanDrop     bool
}

var (
	contractP0 = Contract{RequiresAck: true}
	contractP1 = Contract{CanBatch: true, CanDrop: true}
	contractP2 = Contract{CanBatch: true, CanCollapse: true}
	contractP3 = Contract{CanBatch: true, CanDrop: true}
)

// priorities is the fixed, total type-to-tier assignment.
var priorities = map[Type]Priority{
	TypeFillConfirmed:    PriorityP0,
	TypeFillPartial:      PriorityP0,
	TypeOrderRejected:    PriorityP0,
	TypeOrderCancelled:   PriorityP0,
	TypePositionUpdate:   PriorityP0,
	TypeEmergencyStop:    PriorityP0,
	TypeBrokerDisconnect: PriorityP0,

	TypePriceTick:        PriorityP1,
	TypeOrderbookUpdate:  PriorityP1,
	TypeVolumeUpdate:     PriorityP1,
	TypeIndexUpdate:      PriorityP1,
	TypeVolatilityUpdate: PriorityP1,

	TypeCycleStart:        PriorityP2,
	TypeStrategyEvaluate:  PriorityP2,
	TypeRiskEvaluate:      PriorityP2,
	TypePortfolioEvaluate: PriorityP2,
	TypeIndicatorUpdate:   PriorityP2,
	TypeSignalUpdate:      PriorityP2,

	TypeDashboardUpdate: PriorityP3,
	TypeLogWrite:        PriorityP3,
	TypeReportGenerate:  PriorityP3,
	TypeNotification:    PriorityP3,
	TypeMetricUpdate:    PriorityP3,
}

// AllTypes returns the closed catalog.
func AllTypes() []Type {
	out := make([]Type, 0, len(priorities))
	for t := range priorities {
		out = append(out, t)
	}
	return out
}

// PriorityOf maps a type to its tier. Unknown types route to P3 so a stray
// emitter degrades to best-effort instead of contending with the hot path.
func PriorityOf(t Type) Priority {
	if p, ok := priorities[t]; ok {
		return p
	}
	return PriorityP3
}

// ContractOf returns the delivery contract for a type.
func ContractOf(t Type) Contract {
	switch PriorityOf(t) {
	case PriorityP0:
		return contractP0
	case PriorityP1:
		return contractP1
	case PriorityP2:
		return contractP2
	default:
		return contractP3
	}
}
