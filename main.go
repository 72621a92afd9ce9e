package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"execution-core/internal/api"
	"execution-core/internal/events"
	"execution-core/internal/execution"
	"execution-core/internal/feedback"
	"execution-core/internal/market"
	"execution-core/internal/microrisk"
	"execution-core/internal/monitor"
	"execution-core/internal/reconciliation"
	"execution-core/internal/safety"
	"execution-core/internal/state"
	"execution-core/pkg/broker"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/journal"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: config load failed: %v", err)
	}
	rt, err := config.LoadRuntime(cfg.RuntimePath)
	if err != nil {
		log.Fatalf("main: runtime config load failed: %v", err)
	}
	log.Printf("main: starting execution core (port=%s dry_run=%v symbols=%v)",
		cfg.Port, cfg.DryRun, cfg.Symbols)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("main: db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("main: db migrations failed: %v", err)
	}

	// Safety state machine and the event dispatcher it throttles
	safetyMgr := safety.NewManager()
	dispatcher := events.NewDispatcher(dispatcherConfig(rt))
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// Observability
	metrics := monitor.NewSystemMetrics()
	recorder := monitor.NewRecorder(256, metrics)
	gate := &safetyGate{
		safety:     safetyMgr,
		dispatcher: dispatcher,
		recorder:   recorder,
	}

	// Feedback aggregation with a journal fallback
	jw, err := journal.NewWriter(cfg.JournalPath)
	if err != nil {
		log.Fatalf("main: feedback journal init failed: %v", err)
	}
	defer jw.Close()
	aggregator := feedback.NewAggregator(database, jw)
	collector := feedback.NewCollector(database, aggregator, collectorConfig(rt))
	go collector.Start(ctx)
	defer collector.Stop()

	// Venue adapter. Live connectivity is not wired yet, so both modes run
	// against the paper venue.
	if !cfg.DryRun {
		log.Println("main: no live venue adapter configured, falling back to paper broker")
	}
	paper := broker.NewPaperBroker(broker.PaperConfig{
		LatencyMinMs: 1,
		LatencyMaxMs: 5,
		SendRate:     rt.Broker.SendRatePerSec,
		SendBurst:    rt.Broker.SendBurst,
	})

	// Market data board shared by execution and micro risk
	board := market.NewBoard(rt.MicroRisk.PriceBufferSize)

	// Position book, shadows, and the micro risk loop
	book := state.NewBook()
	account := newEquityAccount(cfg.Capital, book, board)
	engCfg := engineConfig(rt)
	shadows := microrisk.NewShadowManager(engCfg.MaxSyncAge)
	prices := microrisk.NewPriceBook(rt.MicroRisk.PriceBufferSize, 0)
	suspender := &microrisk.Suspender{}

	// Execution pipeline
	driver := execution.NewDriver(
		executionConfig(rt),
		paper,
		&execution.SimFillFeed{FillRatio: 0.5, Market: board},
		board,
		dispatcher,
		aggregator,
		database,
	)
	trades := &dailyCounter{}
	core := &tradingCore{
		cfg:      cfg,
		driver:   driver,
		book:     book,
		shadows:  shadows,
		safety:   safetyMgr,
		account:  account,
		trades:   trades,
		recorder: recorder,
		gate:     gate,
		metrics:  metrics,
	}

	engine := microrisk.NewEngine(engCfg, shadows, prices, board, core, gate, suspender, account)
	engine.Start(ctx)
	defer engine.Stop()

	// Shadow sync against the main book
	syncer := reconciliation.NewSyncer(book, shadows, gate, engCfg.MaxSyncAge/2)
	syncer.Start(ctx)
	defer syncer.Stop()

	// Event handlers: signals feed the pipeline, position updates feed the
	// book, price ticks feed the micro loop.
	dispatcher.RegisterHandler(events.PriorityP2, core.handleSignal(ctx))
	dispatcher.RegisterHandler(events.PriorityP0, core.handlePositionUpdate)

	tickHandler := func(t market.Tick) {
		metrics.IncrementTicks()
		engine.IngestPrice(t.Symbol, t.Price)
	}

	// Market feed
	if cfg.UseMockFeed {
		mock := &market.MockFeed{
			Symbols: cfg.Symbols,
			Board:   board,
			Emitter: dispatcher,
			Handler: tickHandler,
		}
		mock.Start(ctx)
		defer mock.Stop()
		log.Println("main: mock feed started")
	} else {
		feed := &market.WSFeed{
			URL:     cfg.FeedURL,
			Symbols: cfg.Symbols,
			Board:   board,
			Emitter: dispatcher,
			Handler: tickHandler,
		}
		feed.Start(ctx)
		defer feed.Stop()
		log.Printf("main: websocket feed started (url=%s)", cfg.FeedURL)
	}

	// API
	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "v1.0-dev"
	}
	server := api.NewServer(database, safetyMgr, dispatcher, engine, aggregator, metrics, recorder, api.SystemMeta{
		DryRun:      cfg.DryRun,
		Symbols:     cfg.Symbols,
		UseMockFeed: cfg.UseMockFeed,
		Version:     version,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("main: api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("main: shutting down")
	cancel()
}

// safetyGate fans a risk alert out to the recorder and the safety state
// machine, then pushes the resulting level into the dispatcher. It is the
// single path by which alerts move the system between safety levels.
type safetyGate struct {
	safety     *safety.Manager
	dispatcher *events.Dispatcher
	recorder   *monitor.Recorder
}

func (g *safetyGate) Notify(code, message string) {
	g.recorder.Notify(code, message)

	var tr safety.Transition
	switch code {
	case microrisk.CodeFS100, microrisk.CodeFS103, microrisk.CodeFS104:
		tr = g.safety.ApplyFailSafe(code)
	case microrisk.CodeFS102, microrisk.CodeFS105:
		tr = g.safety.ApplyAnomaly()
	case microrisk.CodeFS101:
		// Sync conflicts and staleness are recorded but do not move the
		// safety level; the reconciliation loop resolves them.
		return
	default:
		if len(code) >= 2 && code[:2] == "GR" {
			tr = g.safety.ApplyGuardrail(code)
		} else {
			return
		}
	}
	if tr.Applied {
		g.dispatcher.ApplySafetyState(g.safety.Level())
	}
}

// tradingCore glues the pipeline to the book, the account, and the safety
// gate. It is the executor for both strategy signals and micro risk exits.
type tradingCore struct {
	cfg      *config.Config
	driver   *execution.Driver
	book     *state.Book
	shadows  *microrisk.ShadowManager
	safety   *safety.Manager
	account  *equityAccount
	trades   *dailyCounter
	recorder *monitor.Recorder
	gate     *safetyGate
	metrics  *monitor.SystemMetrics
	wg       conc.WaitGroup
}

// handleSignal turns signal.update events into pipeline runs. Each run
// blocks for the life of its order, so it gets its own goroutine.
func (c *tradingCore) handleSignal(ctx context.Context) events.Handler {
	return func(e *events.Event) error {
		if e.Type != events.TypeSignalUpdate {
			return nil
		}
		decision, err := decisionFromPayload(e.Payload)
		if err != nil {
			return fmt.Errorf("signal %s: %w", e.ID, err)
		}
		c.wg.Go(func() {
			c.execute(ctx, decision)
		})
		return nil
	}
}

func (c *tradingCore) execute(ctx context.Context, decision *execution.OrderDecision) {
	env := execution.Env{
		AvailableCapital:    c.account.Available(),
		BrokerConnected:     true,
		MarketOpen:          true,
		Safety:              c.safety.Level(),
		ExistingPositionQty: c.book.Position(decision.Symbol).Qty,
		MaxPositionQty:      c.cfg.MaxPositionQty,
		DailyTradeCount:     c.trades.today(),
		DailyTradeLimit:     c.cfg.DailyTradeLimit,
	}

	timer := monitor.NewTimer(c.metrics.ExecutionLatency)
	result := c.driver.Execute(ctx, decision, env)
	timer.Stop()

	c.trades.record()
	c.metrics.IncrementOrders()
	c.recorder.RecordExecution(result.Alerts)
	for _, a := range result.Alerts {
		if a.Severity == execution.SeverityFailSafe {
			if tr := c.safety.ApplyFailSafe(a.Code); tr.Applied {
				c.gate.dispatcher.ApplySafetyState(c.safety.Level())
			}
		}
	}
	log.Printf("main: order %s finished state=%s filled=%d/%d vwap=%.4f",
		result.OrderID, result.State, result.FilledQty, result.RequestedQty, result.AvgFillPrice)
}

// SubmitMarketExit lets the micro risk loop unwind a position through the
// full pipeline with an urgent market order.
func (c *tradingCore) SubmitMarketExit(ctx context.Context, symbol string, qty int64, reason string) error {
	side := broker.SideSell
	if qty < 0 {
		side = broker.SideBuy
		qty = -qty
	}
	if qty == 0 {
		return nil
	}
	decision, err := execution.NewOrderDecision(
		symbol, side, qty, 0, broker.TypeMarket, "micro_risk_exit", execution.UrgencyUrgent)
	if err != nil {
		return fmt.Errorf("market exit %s: %w", symbol, err)
	}
	log.Printf("main: protective exit %s %s qty=%d (%s)", side, symbol, qty, reason)
	c.execute(ctx, decision)
	return nil
}

// handlePositionUpdate folds confirmed fills into the main book and keeps
// the shadow set in step: a first fill births the shadow, a full exit
// removes it. This is the only writer of the book, so exits and entries
// share one code path.
func (c *tradingCore) handlePositionUpdate(e *events.Event) error {
	if e.Type != events.TypePositionUpdate {
		return nil
	}
	symbol, _ := e.Payload["symbol"].(string)
	sideStr, _ := e.Payload["side"].(string)
	qty := toInt64(e.Payload["qty"])
	price := toFloat64(e.Payload["price"])
	if symbol == "" || qty <= 0 || price <= 0 {
		return fmt.Errorf("position update %s: malformed payload", e.ID)
	}
	tag, _ := e.Payload["strategy_tag"].(string)
	pos := c.book.ApplyFill(symbol, broker.Side(sideStr), qty, price, strategyFromTag(tag))
	if c.shadows != nil {
		if pos.Qty == 0 {
			c.shadows.Remove(symbol)
		} else {
			c.shadows.AddPosition(microrisk.MainPosition{
				Symbol:    pos.Symbol,
				Qty:       pos.Qty,
				AvgEntry:  pos.AvgEntry,
				Strategy:  pos.Strategy,
				EntryTime: pos.EntryTime,
			}, time.Now())
		}
	}
	log.Printf("main: position %s now qty=%d avg=%.4f", symbol, pos.Qty, pos.AvgEntry)
	return nil
}

// equityAccount marks the book against the board to expose capital and
// drawdown. The peak only ratchets up, so the drawdown measures the worst
// slide from the session high.
type equityAccount struct {
	mu      sync.Mutex
	capital float64
	peak    float64
	book    *state.Book
	board   *market.Board
}

func newEquityAccount(capital float64, book *state.Book, board *market.Board) *equityAccount {
	return &equityAccount{capital: capital, peak: capital, book: book, board: board}
}

// Available is free capital: the base less gross exposure at entry prices.
func (a *equityAccount) Available() float64 {
	exposure := 0.0
	for _, p := range a.book.Positions() {
		exposure += abs(p.Qty) * p.AvgEntry
	}
	if exposure >= a.capital {
		return 0
	}
	return a.capital - exposure
}

// DrawdownPct marks open positions to the last trade and reports the slide
// from the equity peak as a fraction of the peak.
func (a *equityAccount) DrawdownPct() float64 {
	equity := a.capital
	for _, p := range a.book.Positions() {
		tick, ok := a.board.Last(p.Symbol)
		if !ok || tick.Price <= 0 {
			continue
		}
		equity += (tick.Price - p.AvgEntry) * float64(p.Qty)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if equity > a.peak {
		a.peak = equity
	}
	if a.peak <= 0 {
		return 0
	}
	return (a.peak - equity) / a.peak
}

// dailyCounter counts pipeline runs and rolls over at midnight UTC.
type dailyCounter struct {
	mu    sync.Mutex
	day   time.Time
	count int
}

func (d *dailyCounter) record() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roll()
	d.count++
}

func (d *dailyCounter) today() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roll()
	return d.count
}

func (d *dailyCounter) roll() {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if !today.Equal(d.day) {
		d.day = today
		d.count = 0
	}
}

func decisionFromPayload(p map[string]any) (*execution.OrderDecision, error) {
	symbol, _ := p["symbol"].(string)
	sideStr, _ := p["side"].(string)
	qty := toInt64(p["qty"])
	price := toFloat64(p["price"])
	tag, _ := p["strategy_tag"].(string)

	typ := broker.TypeLimit
	if t, _ := p["type"].(string); t == string(broker.TypeMarket) {
		typ = broker.TypeMarket
	}
	urgency := execution.UrgencyNormal
	if u, _ := p["urgency"].(string); u == "URGENT" {
		urgency = execution.UrgencyUrgent
	}
	return execution.NewOrderDecision(symbol, broker.Side(sideStr), qty, price, typ, tag, urgency)
}

func strategyFromTag(tag string) microrisk.Strategy {
	switch microrisk.Strategy(tag) {
	case microrisk.StrategySwing:
		return microrisk.StrategySwing
	case microrisk.StrategyPortfolio:
		return microrisk.StrategyPortfolio
	default:
		return microrisk.StrategyScalp
	}
}

func dispatcherConfig(rt *config.Runtime) events.Config {
	cfg := events.DefaultConfig()
	d := rt.Dispatcher
	setInt(&cfg.P0Capacity, d.P0Capacity)
	setInt(&cfg.P1Capacity, d.P1Capacity)
	setInt(&cfg.P1BatchSize, d.P1BatchSize)
	setDurMs(&cfg.P1BatchTimeout, d.P1BatchTimeoutMs)
	setInt(&cfg.P2Capacity, d.P2Capacity)
	setInt(&cfg.P2BatchSize, d.P2BatchSize)
	setDurMs(&cfg.P2BatchTimeout, d.P2BatchTimeoutMs)
	setInt(&cfg.P3Capacity, d.P3Capacity)
	setInt(&cfg.P3BatchSize, d.P3BatchSize)
	setDurMs(&cfg.P3BatchTimeout, d.P3BatchTimeoutMs)
	setFloat(&cfg.P3SampleRate, d.P3SampleRate)
	return cfg
}

func executionConfig(rt *config.Runtime) execution.Config {
	cfg := execution.DefaultConfig()
	e := rt.Execution
	if e.MinSplitQty > 0 {
		cfg.MinSplitQty = int64(e.MinSplitQty)
	}
	setInt(&cfg.TwapBuckets, e.TwapNumBuckets)
	setFloat(&cfg.IcebergVisiblePct, e.IcebergVisiblePct)
	setInt(&cfg.MaxSplits, e.MaxSplits)
	setInt(&cfg.MaxSendRetries, e.MaxRetries)
	setInt(&cfg.MaxAdjustmentRounds, e.MaxAdjustmentRounds)
	setFloat(&cfg.AdjustStepPct, e.AdjustStepPct)
	setFloat(&cfg.MaxSlippagePct, e.MaxSlippagePct)
	if h := rt.Feedback.LookbackHours; h > 0 {
		cfg.FeedbackLookbackDays = (h + 23) / 24
	}
	return cfg
}

func engineConfig(rt *config.Runtime) microrisk.Config {
	cfg := microrisk.DefaultEngineConfig()
	m := rt.MicroRisk
	setDurMs(&cfg.CyclePeriod, m.LoopIntervalMs)
	setDurMs(&cfg.MaxSyncAge, m.SyncStalenessMs)
	setFloat(&cfg.AccountMAEThreshold, m.AccountMaePct)
	setInt(&cfg.MaxConsecutiveErrs, m.MaxConsecutiveErrors)

	r := &cfg.Rules
	setFloat(&r.VolKillVIX, m.VixKill)
	setFloat(&r.VolKillRealized, m.RealizedVolKill)
	setFloat(&r.VolPartialVIX, m.VixCritical)
	setFloat(&r.VolPartialRealized, m.RealizedVolCritical)
	setFloat(&r.VolWarnVIX, m.VixWarning)
	setFloat(&r.MAEFullExit, m.PositionMaePct)
	setFloat(&r.MAEPartialExit, m.PartialExitAtPct)
	setFloat(&r.CriticalExitRatio, m.CriticalExitRatio)
	setFloat(&r.PartialExitRatio, m.PartialExitRatio)
	setFloat(&r.TrailActivatePnl, m.TrailActivationPct)
	setFloat(&r.TrailPct, m.TrailDistancePct)
	setFloat(&r.TrailMinDistance, m.MinTrailDistance)
	if m.ExtensionProfitable != nil {
		r.ExtendWhenProfitable = *m.ExtensionProfitable
	}
	if m.ExtensionTimeSec > 0 {
		r.HoldExtension = time.Duration(m.ExtensionTimeSec) * time.Second
	}
	return cfg
}

func collectorConfig(rt *config.Runtime) feedback.CollectorConfig {
	cfg := feedback.DefaultCollectorConfig()
	f := rt.Feedback
	if f.CollectIntervalSec > 0 {
		cfg.Interval = time.Duration(f.CollectIntervalSec) * time.Second
	}
	setInt(&cfg.MaxRetries, f.MaxRetriesPerRecord)
	return cfg
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func setDurMs(dst *time.Duration, ms int) {
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func abs(v int64) float64 {
	if v < 0 {
		v = -v
	}
	return float64(v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
