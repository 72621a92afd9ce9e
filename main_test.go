package main

import (
	"testing"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/microrisk"
	"execution-core/internal/monitor"
	"execution-core/internal/safety"
	"execution-core/internal/state"
	"execution-core/pkg/config"
)

func TestRuntimeThresholdWiring(t *testing.T) {
	rt := &config.Runtime{}
	rt.MicroRisk.CriticalExitRatio = 0.25
	rt.MicroRisk.PartialExitRatio = 0.75
	off := false
	rt.MicroRisk.ExtensionProfitable = &off
	rt.Feedback.LookbackHours = 48

	eng := engineConfig(rt)
	if eng.Rules.CriticalExitRatio != 0.25 || eng.Rules.PartialExitRatio != 0.75 {
		t.Fatalf("exit ratios not wired: %+v", eng.Rules)
	}
	if eng.Rules.ExtendWhenProfitable {
		t.Fatal("extension_profitable: false must reach the rules")
	}

	if got := executionConfig(rt).FeedbackLookbackDays; got != 2 {
		t.Fatalf("lookback days = %d, want 2 from 48 hours", got)
	}
}

func TestPositionUpdateDrivesShadowLifecycle(t *testing.T) {
	shadows := microrisk.NewShadowManager(time.Second)
	core := &tradingCore{book: state.NewBook(), shadows: shadows}

	fill := &events.Event{Type: events.TypePositionUpdate, Payload: map[string]any{
		"symbol": "AAPL", "side": "BUY", "qty": int64(100), "price": 150.0, "strategy_tag": "scalp-a",
	}}
	if err := core.handlePositionUpdate(fill); err != nil {
		t.Fatalf("handlePositionUpdate: %v", err)
	}
	if !shadows.Has("AAPL") {
		t.Fatal("first fill must birth the shadow")
	}
	shadow, _ := shadows.Get("AAPL")
	if shadow.Qty != 100 || shadow.AvgEntry != 150 {
		t.Fatalf("shadow = %+v", shadow)
	}

	exit := &events.Event{Type: events.TypePositionUpdate, Payload: map[string]any{
		"symbol": "AAPL", "side": "SELL", "qty": int64(100), "price": 151.0,
	}}
	if err := core.handlePositionUpdate(exit); err != nil {
		t.Fatalf("handlePositionUpdate: %v", err)
	}
	if shadows.Has("AAPL") {
		t.Fatal("full exit must remove the shadow")
	}
}

func TestSafetyGateCodeRouting(t *testing.T) {
	newGate := func() (*safetyGate, *safety.Manager) {
		mgr := safety.NewManager()
		return &safetyGate{
			safety:     mgr,
			dispatcher: events.NewDispatcher(events.DefaultConfig()),
			recorder:   monitor.NewRecorder(16, monitor.NewSystemMetrics()),
		}, mgr
	}

	gate, mgr := newGate()
	gate.Notify(microrisk.CodeFS101, "sync conflict")
	if mgr.Level() != safety.LevelNormal {
		t.Fatalf("FS101 must not move the level, got %s", mgr.Level())
	}

	gate, mgr = newGate()
	gate.Notify(microrisk.CodeFS102, "partial exit executed")
	if mgr.Level() != safety.LevelWarning {
		t.Fatalf("FS102 must only raise a warning, got %s", mgr.Level())
	}

	gate, mgr = newGate()
	gate.Notify(microrisk.CodeFS104, "kill switch engaged")
	if mgr.Level() != safety.LevelFail {
		t.Fatalf("FS104 must fail-safe, got %s", mgr.Level())
	}

	gate, mgr = newGate()
	gate.Notify(microrisk.CodeGR074, "partial exit failed")
	if mgr.Level() != safety.LevelNormal {
		t.Fatalf("a guardrail must keep the level, got %s", mgr.Level())
	}
}

func TestRuntimeThresholdDefaults(t *testing.T) {
	eng := engineConfig(&config.Runtime{})
	if !eng.Rules.ExtendWhenProfitable {
		t.Fatal("extension must default to profitable-only")
	}
	if eng.Rules.CriticalExitRatio != 0.5 || eng.Rules.PartialExitRatio != 0.5 {
		t.Fatalf("exit ratio defaults lost: %+v", eng.Rules)
	}
	if got := executionConfig(&config.Runtime{}).FeedbackLookbackDays; got != 7 {
		t.Fatalf("lookback default = %d, want 7", got)
	}
}
