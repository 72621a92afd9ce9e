package feedback

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"execution-core/pkg/db"
	"execution-core/pkg/journal"
)

// Repository is the primary feedback store. *db.Database satisfies it.
type Repository interface {
	InsertFeedback(ctx context.Context, r db.FeedbackRow) error
	FetchSummary(ctx context.Context, symbol string, lookback time.Duration) (db.FeedbackSummaryRow, error)
	FetchSummaryByStrategy(ctx context.Context, symbol, strategyTag string, lookback time.Duration) (db.FeedbackSummaryRow, error)
	FetchRecentFeedback(ctx context.Context, symbol string, limit int) ([]db.FeedbackRow, error)
}

// Journal is the append-only fallback sink.
type Journal interface {
	Append(e journal.Entry) error
}

// Aggregator computes per-execution metrics and persists them.
type Aggregator struct {
	repo    Repository
	journal Journal
}

func NewAggregator(repo Repository, jw Journal) *Aggregator {
	return &Aggregator{repo: repo, journal: jw}
}

// Aggregate composes the feedback record from raw inputs. Pure.
func (a *Aggregator) Aggregate(in ExecutionInputs) Data {
	slippage := SlippageBps(in.AvgFillPrice, in.DecisionPrice)
	impact := MarketImpactBps(in.Market.SpreadBps, in.FilledQty, in.Market.AvgDailyVolume)

	return Data{
		ID:               uuid.NewString(),
		Symbol:           in.Symbol,
		ExecutionStart:   in.ExecutionStart,
		ExecutionEnd:     in.ExecutionEnd,
		SlippageBps:      slippage,
		AvgFillLatencyMs: in.AvgFillLatencyMs,
		PartialFillRatio: in.PartialFillRatio,
		FilledQty:        in.FilledQty,
		AvgFillPrice:     in.AvgFillPrice,
		Market:           in.Market,
		QualityScore:     QualityScore(slippage, in.PartialFillRatio, in.AvgFillLatencyMs),
		MarketImpactBps:  impact,
		StrategyTag:      in.StrategyTag,
	}
}

// AggregateAndStore persists the record to the repository; if that fails
// the record is appended to the journal so the feedback is never lost, and
// the repository error is returned for retry accounting.
func (a *Aggregator) AggregateAndStore(ctx context.Context, in ExecutionInputs) (Data, error) {
	data := a.Aggregate(in)

	err := a.repo.InsertFeedback(ctx, db.FeedbackRow{
		ID:               data.ID,
		Symbol:           data.Symbol,
		ExecutionStart:   data.ExecutionStart,
		ExecutionEnd:     data.ExecutionEnd,
		SlippageBps:      data.SlippageBps,
		AvgFillLatencyMs: data.AvgFillLatencyMs,
		PartialFillRatio: data.PartialFillRatio,
		FilledQty:        data.FilledQty,
		AvgFillPrice:     data.AvgFillPrice,
		Volatility:       data.Market.Volatility,
		SpreadBps:        data.Market.SpreadBps,
		Depth:            data.Market.Depth,
		AvgDailyVolume:   data.Market.AvgDailyVolume,
		QualityScore:     data.QualityScore,
		MarketImpactBps:  data.MarketImpactBps,
		StrategyTag:      data.StrategyTag,
	})
	if err == nil {
		return data, nil
	}

	if a.journal != nil {
		jerr := a.journal.Append(journal.Entry{
			Symbol:       data.Symbol,
			Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05-07:00"),
			SlippageBps:  data.SlippageBps,
			FillLatency:  data.AvgFillLatencyMs,
			FillRatio:    1 - data.PartialFillRatio,
			QualityScore: data.QualityScore,
			ImpactBps:    data.MarketImpactBps,
			StrategyTag:  data.StrategyTag,
			FilledQty:    strconv.FormatFloat(data.FilledQty, 'f', -1, 64),
		})
		if jerr != nil {
			log.Printf("feedback: journal fallback failed for %s: %v", data.Symbol, jerr)
		}
	}
	return data, fmt.Errorf("store feedback: %w", err)
}

// GetSummary returns the repository's averaged summary for a symbol over
// the lookback window, or the conservative default when no samples exist.
func (a *Aggregator) GetSummary(ctx context.Context, symbol string, lookbackDays int) Summary {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	row, err := a.repo.FetchSummary(ctx, symbol, time.Duration(lookbackDays)*24*time.Hour)
	if err != nil || row.SampleCount == 0 {
		return DefaultSummary(symbol)
	}
	return Summary{
		Symbol:           row.Symbol,
		AvgSlippageBps:   row.AvgSlippageBps,
		AvgQualityScore:  row.AvgQualityScore,
		AvgFillRatio:     row.AvgFillRatio,
		AvgFillLatencyMs: row.AvgFillLatencyMs,
		AvgImpactBps:     row.AvgImpactBps,
		SampleCount:      row.SampleCount,
	}
}
