package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// Entry is one journaled feedback record. Timestamp is ISO-8601 with UTC
// offset; FilledQty is a string to survive downstream tools that truncate
// large integers.
type Entry struct {
	Symbol       string  `json:"symbol"`
	Timestamp    string  `json:"timestamp"`
	SlippageBps  float64 `json:"slippage_bps"`
	FillLatency  float64 `json:"fill_latency_ms"`
	FillRatio    float64 `json:"fill_ratio"`
	QualityScore float64 `json:"quality_score"`
	ImpactBps    float64 `json:"impact_bps"`
	StrategyTag  string  `json:"strategy_tag"`
	FilledQty    string  `json:"filled_qty"`
}

// Writer appends newline-delimited JSON entries to a file. It is the
// fallback sink when the feedback repository is unavailable: a successful
// fill must never lose its feedback.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func NewWriter(path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Writer{path: path, f: f}, nil
}

// Append writes one entry and syncs it to disk.
func (w *Writer) Append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return w.f.Sync()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
