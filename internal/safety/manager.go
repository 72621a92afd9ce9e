package safety

import (
	"log"
	"sync"
	"time"
)

// Level is the global operating state of the core.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelFail
	LevelLockdown
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelWarning:
		return "WARNING"
	case LevelFail:
		return "FAIL"
	case LevelLockdown:
		return "LOCKDOWN"
	default:
		return "UNKNOWN"
	}
}

// Number of consecutive fail-safes in FAIL that forces LOCKDOWN.
const lockdownFailSafeCount = 2

// Transition records the outcome of a state-change request.
type Transition struct {
	From    Level
	To      Level
	Event   string
	Applied bool
	Reason  string
}

// Snapshot is a point-in-time read of the manager.
type Snapshot struct {
	Level               Level     `json:"level"`
	LevelName           string    `json:"level_name"`
	TradingAllowed      bool      `json:"trading_allowed"`
	ConsecutiveFailSafe int       `json:"consecutive_fail_safe"`
	ChangedAt           time.Time `json:"changed_at"`
}

// Manager owns the process-wide safety level. One writer per transition,
// many readers; all transitions are pure and return a Transition record.
type Manager struct {
	mu                  sync.RWMutex
	level               Level
	consecutiveFailSafe int
	changedAt           time.Time
}

func NewManager() *Manager {
	return &Manager{level: LevelNormal, changedAt: time.Now()}
}

// Level returns the current safety level.
func (m *Manager) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// TradingAllowed reports whether new orders may enter the pipeline.
func (m *Manager) TradingAllowed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level == LevelNormal || m.level == LevelWarning
}

// Snapshot returns a consistent read of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Level:               m.level,
		LevelName:           m.level.String(),
		TradingAllowed:      m.level == LevelNormal || m.level == LevelWarning,
		ConsecutiveFailSafe: m.consecutiveFailSafe,
		ChangedAt:           m.changedAt,
	}
}

// ApplyAnomaly handles a non-fatal quality signal: NORMAL promotes to
// WARNING, WARNING stays put. Higher levels are unaffected.
func (m *Manager) ApplyAnomaly() Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.level
	switch m.level {
	case LevelNormal:
		m.setLevelLocked(LevelWarning)
		return Transition{From: from, To: LevelWarning, Event: "anomaly", Applied: true}
	case LevelWarning:
		return Transition{From: from, To: from, Event: "anomaly", Applied: true, Reason: "already_warning"}
	default:
		return Transition{From: from, To: from, Event: "anomaly", Applied: false, Reason: "superseded_by_higher_level"}
	}
}

// ApplyGuardrail records a soft constraint breach. The level is unchanged;
// the breach is logged with its code.
func (m *Manager) ApplyGuardrail(code string) Transition {
	m.mu.RLock()
	from := m.level
	m.mu.RUnlock()

	log.Printf("safety: guardrail %s at level %s", code, from)
	return Transition{From: from, To: from, Event: "guardrail:" + code, Applied: true}
}

// ApplyFailSafe moves NORMAL/WARNING to FAIL and resets the consecutive
// counter to 1. A second fail-safe while already in FAIL promotes to
// LOCKDOWN. The counter resets only on successful recovery.
func (m *Manager) ApplyFailSafe(code string) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.level
	event := "fail_safe:" + code

	switch m.level {
	case LevelNormal, LevelWarning:
		m.consecutiveFailSafe = 1
		m.setLevelLocked(LevelFail)
		log.Printf("safety: fail-safe %s, %s -> FAIL", code, from)
		return Transition{From: from, To: LevelFail, Event: event, Applied: true}
	case LevelFail:
		m.consecutiveFailSafe++
		if m.consecutiveFailSafe >= lockdownFailSafeCount {
			m.setLevelLocked(LevelLockdown)
			log.Printf("safety: fail-safe %s repeated, FAIL -> LOCKDOWN", code)
			return Transition{From: from, To: LevelLockdown, Event: event, Applied: true, Reason: "consecutive_fail_safe"}
		}
		return Transition{From: from, To: from, Event: event, Applied: true}
	default: // LOCKDOWN
		return Transition{From: from, To: from, Event: event, Applied: false, Reason: "already_lockdown"}
	}
}

// RequestRecovery attempts to return to NORMAL. FAIL recovers
// unconditionally; LOCKDOWN requires operator approval.
func (m *Manager) RequestRecovery(operatorApproved bool) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.level
	switch m.level {
	case LevelFail:
		m.consecutiveFailSafe = 0
		m.setLevelLocked(LevelNormal)
		log.Printf("safety: recovery, FAIL -> NORMAL")
		return Transition{From: from, To: LevelNormal, Event: "recovery", Applied: true}
	case LevelLockdown:
		if !operatorApproved {
			return Transition{From: from, To: from, Event: "recovery", Applied: false, Reason: "lockdown_requires_operator_approval"}
		}
		m.consecutiveFailSafe = 0
		m.setLevelLocked(LevelNormal)
		log.Printf("safety: operator recovery, LOCKDOWN -> NORMAL")
		return Transition{From: from, To: LevelNormal, Event: "recovery", Applied: true, Reason: "operator_approved"}
	default:
		return Transition{From: from, To: from, Event: "recovery", Applied: false, Reason: "nothing_to_recover"}
	}
}

func (m *Manager) setLevelLocked(l Level) {
	m.level = l
	m.changedAt = time.Now()
}
