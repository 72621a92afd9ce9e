package microrisk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// ExitExecutor submits protective market exits. The trading pipeline's
// emergency path satisfies it.
type ExitExecutor interface {
	SubmitMarketExit(ctx context.Context, symbol string, qty int64, reason string) error
}

// Notifier receives risk alerts keyed by their wire code.
type Notifier interface {
	Notify(code, message string)
}

// SchedulerControl pauses and resumes the strategy evaluation scheduler.
type SchedulerControl interface {
	Suspend(d time.Duration)
	Resume()
	IsSuspended() bool
}

// MarketData supplies the per symbol snapshot a cycle evaluates against.
type MarketData interface {
	Snapshot(symbol string) (MarketSnapshot, bool)
}

// AccountView exposes account level drawdown for the global backstop.
type AccountView interface {
	DrawdownPct() float64
}

// Config tunes the engine and its run loop.
type Config struct {
	CyclePeriod         time.Duration
	MaxSyncAge          time.Duration
	AccountMAEThreshold float64 // account drawdown engaging the kill switch
	MaxConsecutiveErrs  int
	SuspendOnErrors     time.Duration
	Rules               RuleConfig
}

func DefaultEngineConfig() Config {
	return Config{
		CyclePeriod:         100 * time.Millisecond,
		MaxSyncAge:          time.Second,
		AccountMAEThreshold: 0.05,
		MaxConsecutiveErrs:  3,
		SuspendOnErrors:     time.Minute,
		Rules:               DefaultRuleConfig(),
	}
}

// Engine runs the micro risk loop: observe marks, evaluate the rules per
// shadow in a strict order, and carry out the resulting actions.
type Engine struct {
	cfg       Config
	shadows   *ShadowManager
	prices    *PriceBook
	rules     []Rule
	executor  ExitExecutor
	notifier  Notifier
	scheduler SchedulerControl
	market    MarketData
	account   AccountView

	consecutiveErrs int
	cycles          atomic.Uint64
	stopped         atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       conc.WaitGroup
}

func NewEngine(cfg Config, shadows *ShadowManager, prices *PriceBook, market MarketData, executor ExitExecutor, notifier Notifier, scheduler SchedulerControl, account AccountView) *Engine {
	if cfg.CyclePeriod <= 0 {
		cfg.CyclePeriod = 100 * time.Millisecond
	}
	if cfg.MaxConsecutiveErrs <= 0 {
		cfg.MaxConsecutiveErrs = 3
	}
	return &Engine{
		cfg:       cfg,
		shadows:   shadows,
		prices:    prices,
		rules:     DefaultRules(cfg.Rules),
		executor:  executor,
		notifier:  notifier,
		scheduler: scheduler,
		market:    market,
		account:   account,
		stop:      make(chan struct{}),
	}
}

// Shadows exposes the shadow book for the sync path and the API layer.
func (e *Engine) Shadows() *ShadowManager { return e.shadows }

// IngestPrice folds a mark into the price book and the matching shadow.
// Implausible jumps raise an alert but the mark is still recorded.
func (e *Engine) IngestPrice(symbol string, price float64) {
	if e.prices.Ingest(symbol, price) {
		e.notify(CodeFS105, fmt.Sprintf("%s: implausible price jump to %.4f", symbol, price))
	}
	if shadow, ok := e.shadows.Get(symbol); ok {
		shadow.ObservePrice(price)
	}
}

// RunCycle evaluates every shadow once. Rule evaluation for a position
// stops at the first full exit or kill switch; a kill switch stops the
// whole cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.cycles.Add(1)

	switch e.shadows.CheckSyncStaleness(time.Now()) {
	case SyncStale:
		e.notify(CodeFS101, "shadow book sync is stale")
	case SyncCritical:
		e.notify(CodeFS101, "shadow book critically stale, main book sync is not arriving")
	}

	if e.account != nil && e.cfg.AccountMAEThreshold > 0 {
		if dd := e.account.DrawdownPct(); dd >= e.cfg.AccountMAEThreshold {
			e.apply(ctx, Signal{
				Action: ActionKillSwitch,
				Symbol: "ALL",
				Code:   CodeFS104,
				Reason: fmt.Sprintf("account drawdown %.4f breached %.4f", dd, e.cfg.AccountMAEThreshold),
			})
			return nil
		}
	}

	now := time.Now()
	for _, shadow := range e.shadows.Items() {
		if shadow.Frozen || shadow.Qty == 0 {
			continue
		}
		var mkt MarketSnapshot
		if e.market != nil {
			if snap, ok := e.market.Snapshot(shadow.Symbol); ok {
				mkt = snap
				if snap.Price > 0 {
					shadow.ObservePrice(snap.Price)
				}
			}
		}

		stopCycle := false
		for _, rule := range e.rules {
			terminal := false
			for _, sig := range rule.Evaluate(shadow, mkt, now) {
				if err := e.apply(ctx, sig); err != nil {
					return fmt.Errorf("rule %s on %s: %w", rule.Name(), shadow.Symbol, err)
				}
				if sig.Action == ActionKillSwitch {
					stopCycle = true
				}
				if sig.Action.terminal() {
					terminal = true
				}
			}
			if terminal {
				break
			}
		}
		if stopCycle {
			break
		}
	}
	return nil
}

// apply carries out one signal.
func (e *Engine) apply(ctx context.Context, sig Signal) error {
	switch sig.Action {
	case ActionNone:
		return nil

	case ActionNotify:
		e.notify(sig.Code, sig.Reason)
		return nil

	case ActionTrailingStopAdjust:
		if shadow, ok := e.shadows.Get(sig.Symbol); ok {
			shadow.TrailingActive = true
			shadow.TrailingStop = sig.NewStop
		}
		return nil

	case ActionPartialExit:
		if err := e.submitExit(ctx, sig.Symbol, sig.Qty, sig.Reason); err != nil {
			e.notify(CodeGR074, fmt.Sprintf("%s: partial exit of %d failed: %v", sig.Symbol, sig.Qty, err))
			return err
		}
		if shadow, ok := e.shadows.Get(sig.Symbol); ok {
			shadow.Qty -= int64(sign(shadow.Qty)) * sig.Qty
		}
		e.notify(CodeFS102, fmt.Sprintf("%s: partial exit of %d: %s", sig.Symbol, sig.Qty, sig.Reason))
		return nil

	case ActionFullExit:
		return e.fullExit(ctx, sig.Symbol, sig.Reason)

	case ActionPositionFreeze:
		if shadow, ok := e.shadows.Get(sig.Symbol); ok {
			shadow.Frozen = true
		}
		return nil

	case ActionEtedaSuspend:
		e.suspendScheduler(e.cfg.SuspendOnErrors)
		return nil

	case ActionKillSwitch:
		return e.killSwitch(ctx, sig.Reason)
	}
	return nil
}

func (e *Engine) fullExit(ctx context.Context, symbol, reason string) error {
	shadow, ok := e.shadows.Get(symbol)
	if !ok || shadow.Qty == 0 {
		return nil
	}
	if err := e.submitExit(ctx, symbol, absQty(shadow.Qty), reason); err != nil {
		return err
	}
	shadow.Qty = 0
	shadow.TrailingActive = false
	shadow.TrailingStop = 0
	e.notify(CodeFS102, fmt.Sprintf("%s: full exit: %s", symbol, reason))
	return nil
}

// killSwitch flattens every position and suspends the scheduler until an
// operator resumes it.
func (e *Engine) killSwitch(ctx context.Context, reason string) error {
	log.Printf("microrisk: kill switch engaged: %s", reason)
	var firstErr error
	for _, shadow := range e.shadows.Items() {
		if shadow.Qty == 0 {
			continue
		}
		if err := e.fullExit(ctx, shadow.Symbol, "kill switch: "+reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.suspendScheduler(0)
	e.notify(CodeFS104, "kill switch: "+reason)
	return firstErr
}

func (e *Engine) submitExit(ctx context.Context, symbol string, qty int64, reason string) error {
	if e.executor == nil || qty <= 0 {
		return nil
	}
	return e.executor.SubmitMarketExit(ctx, symbol, qty, reason)
}

// suspendScheduler pauses strategy evaluation. A non-positive duration
// suspends indefinitely; only an operator resume clears it.
func (e *Engine) suspendScheduler(d time.Duration) {
	if e.scheduler == nil {
		return
	}
	e.scheduler.Suspend(d)
	if d <= 0 {
		e.notify(CodeFS103, "strategy scheduler suspended until operator resume")
		return
	}
	e.notify(CodeFS103, fmt.Sprintf("strategy scheduler suspended for %s", d))
}

func (e *Engine) notify(code, message string) {
	log.Printf("microrisk: [%s] %s", code, message)
	if e.notifier != nil {
		e.notifier.Notify(code, message)
	}
}

// Start launches the fixed period run loop. Cycle panics are contained
// and counted as errors; the configured number of consecutive failures
// suspends the scheduler and stops the loop.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Go(func() {
		ticker := time.NewTicker(e.cfg.CyclePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				e.runGuarded(ctx)
				if e.stopped.Load() {
					return
				}
			}
		}
	})
}

func (e *Engine) runGuarded(ctx context.Context) {
	var pc panics.Catcher
	var err error
	pc.Try(func() { err = e.RunCycle(ctx) })
	if r := pc.Recovered(); r != nil {
		err = fmt.Errorf("cycle panic: %v", r.Value)
	}
	if err == nil {
		e.consecutiveErrs = 0
		return
	}

	e.consecutiveErrs++
	e.notify(CodeFS100, fmt.Sprintf("risk cycle error (%d consecutive): %v", e.consecutiveErrs, err))
	if e.consecutiveErrs >= e.cfg.MaxConsecutiveErrs {
		e.suspendScheduler(e.cfg.SuspendOnErrors)
		e.stopped.Store(true)
		log.Printf("microrisk: %d consecutive cycle errors, loop stopped", e.consecutiveErrs)
	}
}

// Stop halts the run loop and waits for the in-flight cycle. Safe to call
// more than once.
func (e *Engine) Stop() {
	e.stopped.Store(true)
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

// Cycles reports how many cycles ran (tests and the status API).
func (e *Engine) Cycles() uint64 { return e.cycles.Load() }

// Stopped reports whether the loop halted itself or was stopped.
func (e *Engine) Stopped() bool { return e.stopped.Load() }

func sign(q int64) int {
	if q < 0 {
		return -1
	}
	return 1
}
