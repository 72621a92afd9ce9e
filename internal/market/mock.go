package market

import (
	"context"
	"math/rand"
	"time"

	"github.com/sourcegraph/conc"

	"execution-core/internal/events"
)

// MockFeed generates random walk ticks for local development and dry runs.
type MockFeed struct {
	Symbols    []string
	StartPrice float64
	Step       float64
	Spread     float64
	Interval   time.Duration
	Board      *Board
	Emitter    Emitter
	Handler    TickHandler

	wg conc.WaitGroup
}

func (m *MockFeed) Start(ctx context.Context) {
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"AAPL"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.05
	}
	if m.Spread == 0 {
		m.Spread = 0.02
	}
	if m.Interval == 0 {
		m.Interval = 500 * time.Millisecond
	}

	prices := make(map[string]float64, len(m.Symbols))
	for _, s := range m.Symbols {
		prices[s] = m.StartPrice
	}

	m.wg.Go(func() {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		ticker := time.NewTicker(m.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				for _, symbol := range m.Symbols {
					price := prices[symbol] + (rng.Float64()*2-1)*m.Step
					if price < m.Step {
						price = m.Step
					}
					prices[symbol] = price
					m.publish(ctx, Tick{
						Symbol: symbol,
						Price:  price,
						Bid:    price - m.Spread/2,
						Ask:    price + m.Spread/2,
						At:     now,
					})
				}
			}
		}
	})
}

func (m *MockFeed) Stop() { m.wg.Wait() }

func (m *MockFeed) publish(ctx context.Context, tick Tick) {
	if m.Board != nil {
		m.Board.Apply(tick)
	}
	if m.Handler != nil {
		m.Handler(tick)
	}
	if m.Emitter != nil {
		m.Emitter.Dispatch(ctx, events.New(events.TypePriceTick, map[string]any{
			"symbol": tick.Symbol,
			"price":  tick.Price,
			"bid":    tick.Bid,
			"ask":    tick.Ask,
		}))
	}
}
