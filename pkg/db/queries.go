package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// InsertFeedback appends one feedback record.
func (d *Database) InsertFeedback(ctx context.Context, r FeedbackRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO feedback (
			id, symbol, execution_start, execution_end,
			slippage_bps, avg_fill_latency_ms, partial_fill_ratio,
			filled_qty, avg_fill_price,
			volatility, spread_bps, depth, avg_daily_volume,
			quality_score, market_impact_bps, strategy_tag, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Symbol, r.ExecutionStart, r.ExecutionEnd,
		r.SlippageBps, r.AvgFillLatencyMs, r.PartialFillRatio,
		r.FilledQty, r.AvgFillPrice,
		r.Volatility, r.SpreadBps, r.Depth, r.AvgDailyVolume,
		r.QualityScore, r.MarketImpactBps, r.StrategyTag, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// FetchSummary averages feedback for a symbol over the lookback window.
// Returns ErrNotFound when no samples exist in the window.
func (d *Database) FetchSummary(ctx context.Context, symbol string, lookback time.Duration) (FeedbackSummaryRow, error) {
	return d.fetchSummary(ctx, symbol, "", lookback)
}

// FetchSummaryByStrategy narrows the summary to one strategy tag.
func (d *Database) FetchSummaryByStrategy(ctx context.Context, symbol, strategyTag string, lookback time.Duration) (FeedbackSummaryRow, error) {
	return d.fetchSummary(ctx, symbol, strategyTag, lookback)
}

func (d *Database) fetchSummary(ctx context.Context, symbol, strategyTag string, lookback time.Duration) (FeedbackSummaryRow, error) {
	since := time.Now().UTC().Add(-lookback)

	query := `
		SELECT
			COALESCE(AVG(slippage_bps), 0),
			COALESCE(AVG(quality_score), 0),
			COALESCE(AVG(partial_fill_ratio), 0),
			COALESCE(AVG(avg_fill_latency_ms), 0),
			COALESCE(AVG(market_impact_bps), 0),
			COUNT(*)
		FROM feedback
		WHERE symbol = ? AND created_at >= ?
	`
	args := []any{symbol, since}
	if strategyTag != "" {
		query += " AND strategy_tag = ?"
		args = append(args, strategyTag)
	}

	s := FeedbackSummaryRow{Symbol: symbol}
	var avgPartialRatio float64
	err := d.DB.QueryRowContext(ctx, query, args...).Scan(
		&s.AvgSlippageBps, &s.AvgQualityScore, &avgPartialRatio,
		&s.AvgFillLatencyMs, &s.AvgImpactBps, &s.SampleCount,
	)
	if err != nil {
		return s, fmt.Errorf("fetch summary: %w", err)
	}
	if s.SampleCount == 0 {
		return s, ErrNotFound
	}
	// Stored ratio counts the unfilled remainder; the summary reports the
	// achieved fill ratio.
	s.AvgFillRatio = 1 - avgPartialRatio
	return s, nil
}

// FetchRecentFeedback returns the newest rows for a symbol, newest first.
func (d *Database) FetchRecentFeedback(ctx context.Context, symbol string, limit int) ([]FeedbackRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, execution_start, execution_end,
		       slippage_bps, avg_fill_latency_ms, partial_fill_ratio,
		       filled_qty, avg_fill_price,
		       volatility, spread_bps, depth, avg_daily_volume,
		       quality_score, market_impact_bps, COALESCE(strategy_tag, ''), created_at
		FROM feedback
		WHERE symbol = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent feedback: %w", err)
	}
	defer rows.Close()

	var out []FeedbackRow
	for rows.Next() {
		var r FeedbackRow
		if err := rows.Scan(
			&r.ID, &r.Symbol, &r.ExecutionStart, &r.ExecutionEnd,
			&r.SlippageBps, &r.AvgFillLatencyMs, &r.PartialFillRatio,
			&r.FilledQty, &r.AvgFillPrice,
			&r.Volatility, &r.SpreadBps, &r.Depth, &r.AvgDailyVolume,
			&r.QualityScore, &r.MarketImpactBps, &r.StrategyTag, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertExecution stores a completed pipeline run. Re-inserting the same
// order ID overwrites, which keeps the collector idempotent across replays.
func (d *Database) InsertExecution(ctx context.Context, r ExecutionRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO executions (
			order_id, symbol, execution_start, execution_end,
			decision_price, avg_fill_price, filled_qty, original_qty,
			partial_fill_ratio, avg_fill_latency_ms,
			strategy_tag, order_type, final_state, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			avg_fill_price = excluded.avg_fill_price,
			filled_qty = excluded.filled_qty,
			partial_fill_ratio = excluded.partial_fill_ratio,
			final_state = excluded.final_state
	`,
		r.OrderID, r.Symbol, r.ExecutionStart, r.ExecutionEnd,
		r.DecisionPrice, r.AvgFillPrice, r.FilledQty, r.OriginalQty,
		r.PartialFillRatio, r.AvgFillLatencyMs,
		r.StrategyTag, r.OrderType, r.FinalState, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// FetchExecutionsSince returns runs recorded after the given time, oldest
// first, for the feedback batch collector.
func (d *Database) FetchExecutionsSince(ctx context.Context, since time.Time) ([]ExecutionRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT order_id, symbol, execution_start, execution_end,
		       decision_price, avg_fill_price, filled_qty, original_qty,
		       partial_fill_ratio, avg_fill_latency_ms,
		       COALESCE(strategy_tag, ''), order_type, final_state, created_at
		FROM executions
		WHERE created_at > ?
		ORDER BY created_at ASC
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRow
	for rows.Next() {
		var r ExecutionRow
		if err := rows.Scan(
			&r.OrderID, &r.Symbol, &r.ExecutionStart, &r.ExecutionEnd,
			&r.DecisionPrice, &r.AvgFillPrice, &r.FilledQty, &r.OriginalQty,
			&r.PartialFillRatio, &r.AvgFillLatencyMs,
			&r.StrategyTag, &r.OrderType, &r.FinalState, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
