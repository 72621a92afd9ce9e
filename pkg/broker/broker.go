package broker

import (
	"context"
	"errors"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType supported by the adapter.
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// ErrTransient marks failures worth retrying (timeouts, throttling,
// connection resets). Callers check it with errors.Is.
var ErrTransient = errors.New("transient broker error")

// OrderRequest is one child order offered to the venue.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Qty      int64
	Price    float64 // 0 for MARKET
	Type     OrderType
	ClientID string
}

// Ack is the venue's answer to a send.
type Ack struct {
	Accepted      bool
	BrokerOrderID string
	RejectReason  string
}

// Adapter abstracts a trading venue. Implementations may return wrapped
// ErrTransient; the execution pipeline retries those with capped attempts.
type Adapter interface {
	SendOrder(ctx context.Context, req OrderRequest) (Ack, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (bool, error)
}
