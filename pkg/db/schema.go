package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS feedback (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    execution_start DATETIME NOT NULL,
    execution_end DATETIME NOT NULL,
    slippage_bps REAL NOT NULL,
    avg_fill_latency_ms REAL NOT NULL,
    partial_fill_ratio REAL NOT NULL,
    filled_qty REAL NOT NULL,
    avg_fill_price REAL NOT NULL,
    volatility REAL DEFAULT 0,
    spread_bps REAL DEFAULT 0,
    depth REAL DEFAULT 0,
    avg_daily_volume REAL DEFAULT 0,
    quality_score REAL NOT NULL,
    market_impact_bps REAL NOT NULL,
    strategy_tag TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_feedback_symbol_created
    ON feedback(symbol, created_at);

CREATE TABLE IF NOT EXISTS executions (
    order_id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    execution_start DATETIME NOT NULL,
    execution_end DATETIME NOT NULL,
    decision_price REAL NOT NULL,
    avg_fill_price REAL NOT NULL,
    filled_qty INTEGER NOT NULL,
    original_qty INTEGER NOT NULL,
    partial_fill_ratio REAL NOT NULL,
    avg_fill_latency_ms REAL NOT NULL,
    strategy_tag TEXT,
    order_type TEXT NOT NULL,
    final_state TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_executions_created
    ON executions(created_at);
`

// ApplyMigrations creates the tables if they do not exist.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
