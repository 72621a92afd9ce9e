package feedback

import (
	"math"
	"testing"
)

func TestSlippageBps(t *testing.T) {
	tests := []struct {
		name     string
		fill     float64
		decision float64
		want     float64
	}{
		{"unfavorable buy", 100.5, 100, 50},
		{"favorable", 99.5, 100, -50},
		{"exact", 100, 100, 0},
		{"zero decision price", 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SlippageBps(tt.fill, tt.decision)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("SlippageBps=%f, expected %f", got, tt.want)
			}
		})
	}
}

func TestMarketImpactBps(t *testing.T) {
	// 4 bps spread, 1% participation: 4 * 0.1 * 10 = 4.
	got := MarketImpactBps(4, 10000, 1000000)
	if math.Abs(got-4) > 1e-9 {
		t.Fatalf("impact=%f, expected 4", got)
	}
	if MarketImpactBps(4, 0, 1000000) != 0 {
		t.Fatal("zero filled qty must yield zero impact")
	}
	if MarketImpactBps(4, 100, 0) != 0 {
		t.Fatal("zero ADV must yield zero impact")
	}
}

func TestQualityScoreComponents(t *testing.T) {
	// Perfect execution.
	if got := QualityScore(0, 0, 0); got != 1 {
		t.Fatalf("perfect score=%f", got)
	}
	// Worst execution saturates at 0.
	if got := QualityScore(500, 1, 5000); got != 0 {
		t.Fatalf("worst score=%f", got)
	}
	// 25 bps slippage: slippage component 0.5 -> 0.25; full fill 0.3; instant 0.2.
	if got := QualityScore(25, 0, 0); math.Abs(got-0.75) > 1e-9 {
		t.Fatalf("score=%f, expected 0.75", got)
	}
}

func TestQualityScoreAlwaysInUnitInterval(t *testing.T) {
	cases := []struct{ slip, ratio, latency float64 }{
		{-1e6, -5, -100},
		{1e6, 5, 1e9},
		{0.1, 0.5, 250},
		{math.Inf(1), 0, 0},
	}
	for _, c := range cases {
		got := QualityScore(c.slip, c.ratio, c.latency)
		if got < 0 || got > 1 {
			t.Fatalf("score %f out of [0,1] for %+v", got, c)
		}
	}
}

func TestAdjustedEntryPrice(t *testing.T) {
	if got := AdjustedEntryPrice(100, 10, "BUY"); math.Abs(got-100.1) > 1e-9 {
		t.Fatalf("buy adjusted=%f", got)
	}
	if got := AdjustedEntryPrice(100, 10, "SELL"); math.Abs(got-99.9) > 1e-9 {
		t.Fatalf("sell adjusted=%f", got)
	}
}

func TestAdjustQtyForImpact(t *testing.T) {
	if got := AdjustQtyForImpact(1000, 10, 20); got != 1000 {
		t.Fatalf("within budget, qty=%d", got)
	}
	if got := AdjustQtyForImpact(1000, 40, 20); got != 500 {
		t.Fatalf("over budget, qty=%d, expected 500", got)
	}
	if got := AdjustQtyForImpact(1000, 0, 20); got != 1000 {
		t.Fatalf("zero impact, qty=%d", got)
	}
}

func TestAdjustConfidence(t *testing.T) {
	if got := AdjustConfidence(0.8, 0.5); got != 0.4 {
		t.Fatalf("confidence=%f", got)
	}
	if got := AdjustConfidence(2, 1); got != 1 {
		t.Fatalf("confidence should clamp to 1, got %f", got)
	}
	if got := AdjustConfidence(-1, 0.5); got != 0 {
		t.Fatalf("confidence should clamp to 0, got %f", got)
	}
}
