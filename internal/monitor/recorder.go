package monitor

import (
	"strings"
	"sync"
	"time"

	"execution-core/internal/execution"
)

// AlertRecord is one alert as kept for the API and the operator UI.
type AlertRecord struct {
	Code     string    `json:"code"`
	Severity string    `json:"severity"`
	Stage    string    `json:"stage,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Recorder keeps the most recent alerts in a bounded ring. It satisfies
// the risk loop's Notifier, so every subsystem's alerts land in one place.
type Recorder struct {
	mu      sync.Mutex
	ring    []AlertRecord
	next    int
	size    int
	metrics *SystemMetrics
}

// NewRecorder keeps the last capacity alerts. metrics may be nil.
func NewRecorder(capacity int, metrics *SystemMetrics) *Recorder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Recorder{ring: make([]AlertRecord, capacity), metrics: metrics}
}

// Notify records an alert by its wire code. Fail-safe codes start with FS,
// guardrails with GR.
func (r *Recorder) Notify(code, message string) {
	severity := "GUARDRAIL"
	if strings.HasPrefix(code, "FS") {
		severity = "FAIL_SAFE"
	}
	r.add(AlertRecord{Code: code, Severity: severity, Message: message, At: time.Now().UTC()})
}

// RecordExecution folds a pipeline run's alerts into the ring.
func (r *Recorder) RecordExecution(alerts []execution.Alert) {
	for _, a := range alerts {
		r.add(AlertRecord{
			Code:     a.Code,
			Severity: a.Severity,
			Stage:    a.Stage,
			Message:  a.Message,
			At:       a.At,
		})
	}
}

func (r *Recorder) add(rec AlertRecord) {
	r.mu.Lock()
	r.ring[r.next] = rec
	r.next = (r.next + 1) % len(r.ring)
	if r.size < len(r.ring) {
		r.size++
	}
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.IncrementAlerts()
	}
}

// Recent returns up to n alerts, newest first.
func (r *Recorder) Recent(n int) []AlertRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]AlertRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}
