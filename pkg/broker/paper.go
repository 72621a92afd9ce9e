package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	LatencyMinMs int
	LatencyMaxMs int
	RejectRate   float64 // probability a send is rejected
	FailRate     float64 // probability a send errors transiently
	SendRate     float64 // sends per second, 0 disables limiting
	SendBurst    int
}

// PaperBroker simulates a venue for dry runs and tests. Orders are accepted,
// optionally rejected or transiently failed, and remembered so cancels can
// be validated.
type PaperBroker struct {
	cfg     PaperConfig
	limiter *rate.Limiter
	rng     *rand.Rand

	mu     sync.Mutex
	orders map[string]OrderRequest // broker ID -> original request
}

func NewPaperBroker(cfg PaperConfig) *PaperBroker {
	var limiter *rate.Limiter
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}
	return &PaperBroker{
		cfg:     cfg,
		limiter: limiter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		orders:  make(map[string]OrderRequest),
	}
}

func (b *PaperBroker) SendOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return Ack{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if err := b.sleepLatency(ctx); err != nil {
		return Ack{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.FailRate > 0 && b.rng.Float64() < b.cfg.FailRate {
		return Ack{}, fmt.Errorf("paper venue timeout: %w", ErrTransient)
	}
	if b.cfg.RejectRate > 0 && b.rng.Float64() < b.cfg.RejectRate {
		return Ack{Accepted: false, RejectReason: "simulated_reject"}, nil
	}
	if req.Qty <= 0 {
		return Ack{Accepted: false, RejectReason: "invalid_qty"}, nil
	}
	if req.Type == TypeLimit && req.Price <= 0 {
		return Ack{Accepted: false, RejectReason: "limit_without_price"}, nil
	}

	id := uuid.NewString()
	b.orders[id] = req
	return Ack{Accepted: true, BrokerOrderID: id}, nil
}

func (b *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	if err := b.sleepLatency(ctx); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.orders[brokerOrderID]; !ok {
		return false, nil
	}
	delete(b.orders, brokerOrderID)
	return true, nil
}

// OpenOrders returns the live order count (tests).
func (b *PaperBroker) OpenOrders() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func (b *PaperBroker) sleepLatency(ctx context.Context) error {
	if b.cfg.LatencyMaxMs <= 0 {
		return nil
	}
	minMs := b.cfg.LatencyMinMs
	span := b.cfg.LatencyMaxMs - minMs
	d := time.Duration(minMs) * time.Millisecond
	if span > 0 {
		b.mu.Lock()
		jitter := b.rng.Intn(span)
		b.mu.Unlock()
		d += time.Duration(jitter) * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
