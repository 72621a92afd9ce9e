package market

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"execution-core/internal/events"
)

// TickHandler receives every decoded tick. Handlers must not block.
type TickHandler func(Tick)

// Emitter publishes market events. *events.Dispatcher satisfies it.
type Emitter interface {
	Dispatch(ctx context.Context, e *events.Event) bool
}

// WSFeed streams ticks from a websocket venue and fans them out to the
// board, the handler, and the event dispatcher. The connection is redialed
// with exponential backoff until the context dies.
type WSFeed struct {
	URL     string
	Symbols []string
	Board   *Board
	Emitter Emitter
	Handler TickHandler

	wg conc.WaitGroup
}

// Start launches the read loop. It returns immediately.
func (f *WSFeed) Start(ctx context.Context) {
	if f.URL == "" {
		log.Println("market feed: no url configured, feed disabled")
		return
	}
	f.wg.Go(func() { f.run(ctx) })
}

// Stop waits for the read loop to wind down after its context is
// cancelled.
func (f *WSFeed) Stop() { f.wg.Wait() }

func (f *WSFeed) run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := f.dial(ctx)
		if err != nil {
			log.Printf("market feed: dial %s gave up: %v", f.URL, err)
			return
		}
		f.readUntilError(ctx, conn)
		conn.Close()
	}
}

// dial connects with exponential backoff, retrying until the context dies.
func (f *WSFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second

	op := func() (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
		if err != nil {
			log.Printf("market feed: dial %s: %v", f.URL, err)
			return nil, err
		}
		return conn, nil
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(bo))
}

func (f *WSFeed) readUntilError(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when the context dies.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	wanted := make(map[string]bool, len(f.Symbols))
	for _, s := range f.Symbols {
		wanted[s] = true
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("market feed: read error, reconnecting: %v", err)
			}
			return
		}
		var tick Tick
		if err := json.Unmarshal(payload, &tick); err != nil {
			log.Printf("market feed: bad tick payload: %v", err)
			continue
		}
		if tick.Symbol == "" || tick.Price <= 0 {
			continue
		}
		if len(wanted) > 0 && !wanted[tick.Symbol] {
			continue
		}
		if tick.At.IsZero() {
			tick.At = time.Now().UTC()
		}
		f.publish(ctx, tick)
	}
}

func (f *WSFeed) publish(ctx context.Context, tick Tick) {
	if f.Board != nil {
		f.Board.Apply(tick)
	}
	if f.Handler != nil {
		f.Handler(tick)
	}
	if f.Emitter != nil {
		f.Emitter.Dispatch(ctx, events.New(events.TypePriceTick, map[string]any{
			"symbol": tick.Symbol,
			"price":  tick.Price,
			"bid":    tick.Bid,
			"ask":    tick.Ask,
		}))
	}
}
