package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Journal fallback for feedback records
	JournalPath string

	// Market data
	Symbols     []string
	FeedURL     string
	UseMockFeed bool

	// Execution
	DryRun bool

	// Account limits consulted by pre-trade checks
	Capital         float64
	MaxPositionQty  int64
	DailyTradeLimit int

	// Runtime thresholds (YAML overlay)
	RuntimePath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DBPath:      getEnv("DB_PATH", "./data/execution.db"),
		JournalPath: getEnv("FEEDBACK_JOURNAL_PATH", "./data/feedback_journal.ndjson"),
		Symbols:     splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		FeedURL:     getEnv("FEED_URL", ""),
		UseMockFeed: getEnv("USE_MOCK_FEED", "true") == "true",
		DryRun:      getEnv("DRY_RUN", "true") == "true",

		Capital:         getEnvFloat("ACCOUNT_CAPITAL", 100000),
		MaxPositionQty:  int64(getEnvInt("MAX_POSITION_QTY", 10000)),
		DailyTradeLimit: getEnvInt("DAILY_TRADE_LIMIT", 0),

		RuntimePath: getEnv("RUNTIME_CONFIG", "./runtime.yaml"),
	}, nil
}

// Runtime carries every numeric threshold of the core. Values are fixed
// after load; subsystems copy what they need at construction.
type Runtime struct {
	Dispatcher struct {
		P0Capacity       int     `yaml:"p0_capacity"`
		P1Capacity       int     `yaml:"p1_capacity"`
		P1BatchSize      int     `yaml:"p1_batch_size"`
		P1BatchTimeoutMs int     `yaml:"p1_batch_timeout_ms"`
		P2Capacity       int     `yaml:"p2_capacity"`
		P2BatchSize      int     `yaml:"p2_batch_size"`
		P2BatchTimeoutMs int     `yaml:"p2_batch_timeout_ms"`
		P3Capacity       int     `yaml:"p3_capacity"`
		P3BatchSize      int     `yaml:"p3_batch_size"`
		P3BatchTimeoutMs int     `yaml:"p3_batch_timeout_ms"`
		P3SampleRate     float64 `yaml:"p3_sample_rate"`
	} `yaml:"dispatcher"`

	Execution struct {
		MinSplitQty         int     `yaml:"min_split_qty"`
		TwapNumBuckets      int     `yaml:"twap_num_buckets"`
		IcebergVisiblePct   float64 `yaml:"iceberg_visible_pct"`
		MaxSplits           int     `yaml:"max_splits"`
		MaxRetries          int     `yaml:"max_retries"`
		MaxAdjustmentRounds int     `yaml:"max_adjustment_rounds"`
		AdjustStepPct       float64 `yaml:"adjust_step_pct"`
		MaxSlippagePct      float64 `yaml:"max_slippage_pct"`
	} `yaml:"execution"`

	MicroRisk struct {
		LoopIntervalMs       int     `yaml:"loop_interval_ms"`
		PriceBufferSize      int     `yaml:"price_buffer_size"`
		VixWarning           float64 `yaml:"vix_warning"`
		VixCritical          float64 `yaml:"vix_critical"`
		VixKill              float64 `yaml:"vix_kill"`
		RealizedVolCritical  float64 `yaml:"realized_vol_critical"`
		RealizedVolKill      float64 `yaml:"realized_vol_kill"`
		CriticalExitRatio    float64 `yaml:"critical_exit_ratio"`
		PositionMaePct       float64 `yaml:"position_mae_pct"`
		PartialExitAtPct     float64 `yaml:"partial_exit_at_pct"`
		PartialExitRatio     float64 `yaml:"partial_exit_ratio"`
		AccountMaePct        float64 `yaml:"account_mae_pct"`
		TrailActivationPct   float64 `yaml:"trail_activation_pct"`
		TrailDistancePct     float64 `yaml:"trail_distance_pct"`
		MinTrailDistance     float64 `yaml:"min_trail_distance"`
		ExtensionProfitable  *bool   `yaml:"extension_profitable"`
		ExtensionTimeSec     int     `yaml:"extension_time_sec"`
		MaxConsecutiveErrors int     `yaml:"max_consecutive_errors"`
		SyncStalenessMs      int     `yaml:"sync_staleness_ms"`
	} `yaml:"micro_risk"`

	Feedback struct {
		CollectIntervalSec  int `yaml:"collect_interval_sec"`
		MaxRetriesPerRecord int `yaml:"max_retries_per_record"`
		LookbackHours       int `yaml:"lookback_hours"`
	} `yaml:"feedback"`

	Broker struct {
		SendRatePerSec float64 `yaml:"send_rate_per_sec"`
		SendBurst      int     `yaml:"send_burst"`
	} `yaml:"broker"`
}

// LoadRuntime reads the YAML threshold file. A missing file is not an
// error: all subsystems fall back to their built-in defaults.
func LoadRuntime(path string) (*Runtime, error) {
	rt := &Runtime{}
	if path == "" {
		return rt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rt, nil
		}
		return nil, fmt.Errorf("read runtime config: %w", err)
	}
	if err := yaml.Unmarshal(data, rt); err != nil {
		return nil, fmt.Errorf("parse runtime config: %w", err)
	}
	return rt, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
