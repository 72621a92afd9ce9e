// Command dry_run_demo walks one order through the pipeline against the
// paper venue and prints the outcome. Useful for eyeballing split and fill
// behavior without the full runtime.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"execution-core/internal/execution"
	"execution-core/internal/market"
	"execution-core/internal/safety"
	"execution-core/pkg/broker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	board := market.NewBoard(60)
	board.Apply(market.Tick{Symbol: "BTCUSDT", Price: 100, Bid: 99.98, Ask: 100.02, At: time.Now()})

	paper := broker.NewPaperBroker(broker.PaperConfig{LatencyMinMs: 1, LatencyMaxMs: 3})

	cfg := execution.DefaultConfig()
	cfg.MonitoringTimeout = 2 * time.Second
	cfg.MonitorPollInterval = 50 * time.Millisecond

	driver := execution.NewDriver(cfg, paper, &execution.SimFillFeed{FillRatio: 0.5}, board, nil, nil, nil)

	decision, err := execution.NewOrderDecision(
		"BTCUSDT", broker.SideBuy, 750, 100.0, broker.TypeLimit, "demo", execution.UrgencyNormal)
	if err != nil {
		log.Fatalf("demo: %v", err)
	}

	env := execution.Env{
		AvailableCapital: 1_000_000,
		BrokerConnected:  true,
		MarketOpen:       true,
		Safety:           safety.LevelNormal,
	}

	result := driver.Execute(context.Background(), decision, env)

	fmt.Printf("\norder %s: %s\n", result.OrderID, result.State)
	fmt.Printf("  filled %d/%d @ vwap %.4f across %d splits (fill rate %.2f)\n",
		result.FilledQty, result.RequestedQty, result.AvgFillPrice, result.SplitCount, result.FillRate())
	for _, a := range result.Alerts {
		fmt.Printf("  alert %s [%s] %s\n", a.Code, a.Severity, a.Message)
	}
}
