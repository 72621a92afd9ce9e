package monitor

import (
	"testing"
	"time"

	"execution-core/internal/execution"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		h.Record(v)
	}
	stats := h.Stats()
	if stats.Min != 1 || stats.Max != 5 || stats.Avg != 3 || stats.Count != 5 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestLatencyHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{10, 20, 30, 40} {
		h.Record(v)
	}
	stats := h.Stats()
	if stats.Count != 3 || stats.Min != 20 {
		t.Fatalf("window not sliding: %+v", stats)
	}
}

func TestRecorderSeverityFromCode(t *testing.T) {
	r := NewRecorder(16, nil)
	r.Notify("FS104", "kill switch")
	r.Notify("GR074", "partial exit")

	recent := r.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("recent = %+v", recent)
	}
	if recent[0].Code != "GR074" || recent[0].Severity != "GUARDRAIL" {
		t.Fatalf("newest = %+v", recent[0])
	}
	if recent[1].Code != "FS104" || recent[1].Severity != "FAIL_SAFE" {
		t.Fatalf("oldest = %+v", recent[1])
	}
}

func TestRecorderRingEviction(t *testing.T) {
	r := NewRecorder(2, nil)
	r.Notify("FS100", "one")
	r.Notify("FS101", "two")
	r.Notify("FS102", "three")

	recent := r.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("recent = %+v", recent)
	}
	if recent[0].Code != "FS102" || recent[1].Code != "FS101" {
		t.Fatalf("eviction order wrong: %+v", recent)
	}
}

func TestRecorderExecutionAlertsAndMetrics(t *testing.T) {
	metrics := NewSystemMetrics()
	r := NewRecorder(16, metrics)
	r.RecordExecution([]execution.Alert{
		{Code: "GR061", Severity: "GUARDRAIL", Stage: "PRECHECK", Message: "resized", At: time.Now()},
		{Code: "FS092", Severity: "FAIL_SAFE", Stage: "ESCAPING", Message: "escape", At: time.Now()},
	})

	recent := r.Recent(2)
	if recent[0].Stage != "ESCAPING" || recent[1].Stage != "PRECHECK" {
		t.Fatalf("recent = %+v", recent)
	}
	if got := metrics.GetSnapshot().AlertsRaised; got != 2 {
		t.Fatalf("alerts raised = %d, want 2", got)
	}
}
