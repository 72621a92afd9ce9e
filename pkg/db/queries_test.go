package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return database
}

func TestFeedbackSummaryAverages(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []FeedbackRow{
		{ID: "f1", Symbol: "S1", SlippageBps: 10, QualityScore: 0.8, PartialFillRatio: 0.0, AvgFillLatencyMs: 100, MarketImpactBps: 4, StrategyTag: "SCALP", ExecutionStart: now, ExecutionEnd: now},
		{ID: "f2", Symbol: "S1", SlippageBps: 20, QualityScore: 0.6, PartialFillRatio: 0.2, AvgFillLatencyMs: 200, MarketImpactBps: 6, StrategyTag: "SWING", ExecutionStart: now, ExecutionEnd: now},
		{ID: "f3", Symbol: "S2", SlippageBps: 99, QualityScore: 0.1, PartialFillRatio: 0.9, AvgFillLatencyMs: 999, MarketImpactBps: 50, ExecutionStart: now, ExecutionEnd: now},
	}
	for _, r := range rows {
		if err := d.InsertFeedback(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}

	s, err := d.FetchSummary(ctx, "S1", 24*time.Hour)
	if err != nil {
		t.Fatalf("fetch summary: %v", err)
	}
	if s.SampleCount != 2 {
		t.Fatalf("sample_count=%d, expected 2", s.SampleCount)
	}
	if s.AvgSlippageBps != 15 {
		t.Fatalf("avg slippage=%f, expected 15", s.AvgSlippageBps)
	}
	if diff := s.AvgFillRatio - 0.9; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("avg fill ratio=%f, expected 0.9", s.AvgFillRatio)
	}

	byStrat, err := d.FetchSummaryByStrategy(ctx, "S1", "SCALP", 24*time.Hour)
	if err != nil || byStrat.SampleCount != 1 || byStrat.AvgSlippageBps != 10 {
		t.Fatalf("strategy summary: %+v err=%v", byStrat, err)
	}
}

func TestFetchSummaryEmptyWindow(t *testing.T) {
	d := newTestDB(t)
	_, err := d.FetchSummary(context.Background(), "NONE", time.Hour)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchRecentFeedbackOrdering(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		r := FeedbackRow{ID: id, Symbol: "S1", ExecutionStart: now, ExecutionEnd: now}
		if err := d.InsertFeedback(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
		// Distinct created_at values so ordering is deterministic.
		if _, err := d.DB.ExecContext(ctx, "UPDATE feedback SET created_at = ? WHERE id = ?", now.Add(time.Duration(i)*time.Second), id); err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}

	rows, err := d.FetchRecentFeedback(ctx, "S1", 2)
	if err != nil {
		t.Fatalf("fetch recent: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "c" || rows[1].ID != "b" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestExecutionsSince(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	r := ExecutionRow{
		OrderID: "o1", Symbol: "S1",
		ExecutionStart: now.Add(-time.Minute), ExecutionEnd: now,
		DecisionPrice: 100, AvgFillPrice: 100.2,
		FilledQty: 50, OriginalQty: 50,
		OrderType: "LIMIT", FinalState: "COMPLETE",
	}
	if err := d.InsertExecution(ctx, r); err != nil {
		t.Fatalf("insert execution: %v", err)
	}

	got, err := d.FetchExecutionsSince(ctx, now.Add(-time.Hour))
	if err != nil || len(got) != 1 || got[0].OrderID != "o1" {
		t.Fatalf("since fetch: %+v err=%v", got, err)
	}

	got, err = d.FetchExecutionsSince(ctx, now.Add(time.Hour))
	if err != nil || len(got) != 0 {
		t.Fatalf("future since should be empty: %+v err=%v", got, err)
	}

	// Upsert keeps the collector idempotent.
	r.FilledQty = 25
	r.FinalState = "ESCAPED"
	if err := d.InsertExecution(ctx, r); err != nil {
		t.Fatalf("re-insert execution: %v", err)
	}
	got, _ = d.FetchExecutionsSince(ctx, now.Add(-time.Hour))
	if len(got) != 1 || got[0].FilledQty != 25 || got[0].FinalState != "ESCAPED" {
		t.Fatalf("upsert result: %+v", got)
	}
}
