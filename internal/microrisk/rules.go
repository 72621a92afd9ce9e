package microrisk

import (
	"fmt"
	"math"
	"time"
)

// Action is what a rule wants done about a position.
type Action string

const (
	ActionNone               Action = "NONE"
	ActionNotify             Action = "NOTIFY"
	ActionTrailingStopAdjust Action = "TRAILING_STOP_ADJUST"
	ActionPartialExit        Action = "PARTIAL_EXIT"
	ActionFullExit           Action = "FULL_EXIT"
	ActionPositionFreeze     Action = "POSITION_FREEZE"
	ActionEtedaSuspend       Action = "ETEDA_SUSPEND"
	ActionKillSwitch         Action = "KILL_SWITCH"
)

// terminal reports whether the action ends evaluation for the position.
func (a Action) terminal() bool {
	return a == ActionFullExit || a == ActionKillSwitch
}

// Wire-stable alert codes raised by the micro risk loop.
const (
	CodeFS100 = "FS100" // risk cycle error
	CodeFS101 = "FS101" // shadow quantity conflict on sync
	CodeFS102 = "FS102" // protective exit executed
	CodeFS103 = "FS103" // scheduler suspended
	CodeFS104 = "FS104" // kill switch engaged
	CodeFS105 = "FS105" // implausible price jump

	CodeGR072 = "GR072" // holding time approaching its cap
	CodeGR073 = "GR073" // volatility elevated
	CodeGR074 = "GR074" // protective partial exit failed
)

// Signal is one rule's verdict for one position. Qty is meaningful for
// exits; NewStop for trailing stop adjustments.
type Signal struct {
	Action  Action
	Symbol  string
	Qty     int64
	NewStop float64
	Code    string
	Reason  string
}

// MarketSnapshot is the market state a cycle evaluates a symbol against.
type MarketSnapshot struct {
	Price       float64
	VIX         float64
	RealizedVol float64
}

// Rule inspects one shadow against the market and proposes actions.
// Rules run in a fixed order and evaluation for a position stops at the
// first FULL_EXIT or KILL_SWITCH.
type Rule interface {
	Name() string
	Evaluate(p *PositionShadow, mkt MarketSnapshot, now time.Time) []Signal
}

// RuleConfig carries the thresholds for the built-in rules.
type RuleConfig struct {
	VolKillVIX         float64 // kill switch at or above
	VolKillRealized    float64
	VolPartialVIX      float64 // partial exit at or above
	VolPartialRealized float64
	VolWarnVIX         float64
	CriticalExitRatio  float64 // fraction shed on a volatility partial exit

	MAEFullExit      float64 // adverse excursion magnitude forcing a full exit
	MAEPartialExit   float64
	PartialExitRatio float64 // fraction shed on an excursion partial exit

	ScalpMaxHold         time.Duration
	SwingMaxHold         time.Duration
	HoldExtension        time.Duration // granted once at expiry when eligible
	ExtendWhenProfitable bool          // extension requires a profitable position
	HoldWarnFraction     float64

	TrailActivatePnl float64 // unrealized return that arms the trail
	TrailPct         float64 // fractional distance from the most favorable price
	TrailMinDistance float64 // absolute cap on the trail distance
}

// DefaultRuleConfig matches the production thresholds.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		VolKillVIX:         40,
		VolKillRealized:    0.08,
		VolPartialVIX:      30,
		VolPartialRealized: 0.05,
		VolWarnVIX:         25,
		CriticalExitRatio:  0.5,

		MAEFullExit:      0.02,
		MAEPartialExit:   0.015,
		PartialExitRatio: 0.5,

		ScalpMaxHold:         time.Hour,
		SwingMaxHold:         7 * 24 * time.Hour,
		HoldExtension:        30 * time.Minute,
		ExtendWhenProfitable: true,
		HoldWarnFraction:     0.8,

		TrailActivatePnl: 0.01,
		TrailPct:         0.02,
		TrailMinDistance: 0.5,
	}
}

// DefaultRules returns the built-in rules in their evaluation order.
func DefaultRules(cfg RuleConfig) []Rule {
	return []Rule{
		&VolatilityKillSwitch{cfg: cfg},
		&MAERule{cfg: cfg},
		&TimeInTradeRule{cfg: cfg},
		&TrailingStopRule{cfg: cfg},
	}
}

// VolatilityKillSwitch reacts to market-wide volatility. Extreme readings
// flatten everything; elevated readings shed half the position; mildly
// elevated readings only warn.
type VolatilityKillSwitch struct {
	cfg RuleConfig
}

func (r *VolatilityKillSwitch) Name() string { return "volatility_kill_switch" }

func (r *VolatilityKillSwitch) Evaluate(p *PositionShadow, mkt MarketSnapshot, _ time.Time) []Signal {
	switch {
	case mkt.VIX >= r.cfg.VolKillVIX || mkt.RealizedVol >= r.cfg.VolKillRealized:
		return []Signal{{
			Action: ActionKillSwitch,
			Symbol: "ALL",
			Code:   CodeFS104,
			Reason: fmt.Sprintf("volatility extreme: vix=%.1f realized=%.4f", mkt.VIX, mkt.RealizedVol),
		}}
	case mkt.VIX >= r.cfg.VolPartialVIX || mkt.RealizedVol >= r.cfg.VolPartialRealized:
		qty := exitQty(p.Qty, r.cfg.CriticalExitRatio)
		if qty < 1 {
			return nil
		}
		return []Signal{{
			Action: ActionPartialExit,
			Symbol: p.Symbol,
			Qty:    qty,
			Code:   CodeFS102,
			Reason: fmt.Sprintf("volatility elevated: vix=%.1f realized=%.4f", mkt.VIX, mkt.RealizedVol),
		}}
	case mkt.VIX >= r.cfg.VolWarnVIX:
		return []Signal{{
			Action: ActionNotify,
			Symbol: p.Symbol,
			Code:   CodeGR073,
			Reason: fmt.Sprintf("volatility watch: vix=%.1f", mkt.VIX),
		}}
	}
	return nil
}

// MAERule exits positions whose worst excursion breached the budget.
type MAERule struct {
	cfg RuleConfig
}

func (r *MAERule) Name() string { return "max_adverse_excursion" }

func (r *MAERule) Evaluate(p *PositionShadow, _ MarketSnapshot, _ time.Time) []Signal {
	mae := math.Abs(p.MAE)
	switch {
	case mae >= r.cfg.MAEFullExit:
		return []Signal{{
			Action: ActionFullExit,
			Symbol: p.Symbol,
			Qty:    absQty(p.Qty),
			Code:   CodeFS102,
			Reason: fmt.Sprintf("adverse excursion %.4f breached %.4f", mae, r.cfg.MAEFullExit),
		}}
	case mae >= r.cfg.MAEPartialExit:
		qty := exitQty(p.Qty, r.cfg.PartialExitRatio)
		if qty < 1 {
			return nil
		}
		return []Signal{{
			Action: ActionPartialExit,
			Symbol: p.Symbol,
			Qty:    qty,
			Code:   CodeFS102,
			Reason: fmt.Sprintf("adverse excursion %.4f breached %.4f", mae, r.cfg.MAEPartialExit),
		}}
	}
	return nil
}

// TimeInTradeRule caps holding time per strategy horizon. A position at
// expiry earns one extension, by default only while profitable; portfolio
// positions are never timed out.
type TimeInTradeRule struct {
	cfg RuleConfig
}

func (r *TimeInTradeRule) Name() string { return "time_in_trade" }

func (r *TimeInTradeRule) Evaluate(p *PositionShadow, _ MarketSnapshot, now time.Time) []Signal {
	var maxHold time.Duration
	switch p.Strategy {
	case StrategyScalp:
		maxHold = r.cfg.ScalpMaxHold
	case StrategySwing:
		maxHold = r.cfg.SwingMaxHold
	default:
		return nil
	}

	held := p.HeldFor(now)
	limit := maxHold
	if p.TimeExtended {
		limit += r.cfg.HoldExtension
	}

	if held >= limit {
		if !p.TimeExtended && (!r.cfg.ExtendWhenProfitable || p.PnlPct() > 0) {
			p.TimeExtended = true
			return []Signal{{
				Action: ActionNotify,
				Symbol: p.Symbol,
				Code:   CodeGR072,
				Reason: fmt.Sprintf("holding time %s extended by %s while profitable", held.Round(time.Second), r.cfg.HoldExtension),
			}}
		}
		return []Signal{{
			Action: ActionFullExit,
			Symbol: p.Symbol,
			Qty:    absQty(p.Qty),
			Code:   CodeFS102,
			Reason: fmt.Sprintf("holding time %s exceeded %s cap", held.Round(time.Second), limit),
		}}
	}

	if float64(held) >= float64(limit)*r.cfg.HoldWarnFraction {
		return []Signal{{
			Action: ActionNotify,
			Symbol: p.Symbol,
			Code:   CodeGR072,
			Reason: fmt.Sprintf("holding time %s at %.0f%% of its %s cap", held.Round(time.Second), 100*float64(held)/float64(limit), limit),
		}}
	}
	return nil
}

// TrailingStopRule arms a trail once the position is sufficiently in
// profit, ratchets it as the favorable extreme improves, and exits when
// the mark crosses it. The tighter of the fractional and absolute
// distances applies, and the stop never loosens.
type TrailingStopRule struct {
	cfg RuleConfig
}

func (r *TrailingStopRule) Name() string { return "trailing_stop" }

func (r *TrailingStopRule) Evaluate(p *PositionShadow, _ MarketSnapshot, _ time.Time) []Signal {
	best := p.favorablePrice()
	if p.Qty == 0 || p.CurrentPrice <= 0 || best <= 0 {
		return nil
	}

	if !p.TrailingActive {
		if p.PnlPct() < r.cfg.TrailActivatePnl {
			return nil
		}
		p.TrailingActive = true
	}

	dir := float64(p.direction())
	var candidate float64
	if dir > 0 {
		candidate = math.Max(best*(1-r.cfg.TrailPct), best-r.cfg.TrailMinDistance)
	} else {
		candidate = math.Min(best*(1+r.cfg.TrailPct), best+r.cfg.TrailMinDistance)
	}

	var signals []Signal
	if p.TrailingStop == 0 || (dir > 0 && candidate > p.TrailingStop) || (dir < 0 && candidate < p.TrailingStop) {
		signals = append(signals, Signal{
			Action:  ActionTrailingStopAdjust,
			Symbol:  p.Symbol,
			NewStop: candidate,
		})
	} else {
		candidate = p.TrailingStop
	}

	if (dir > 0 && p.CurrentPrice <= candidate) || (dir < 0 && p.CurrentPrice >= candidate) {
		signals = append(signals, Signal{
			Action: ActionFullExit,
			Symbol: p.Symbol,
			Qty:    absQty(p.Qty),
			Code:   CodeFS102,
			Reason: fmt.Sprintf("price %.4f crossed trailing stop %.4f", p.CurrentPrice, candidate),
		})
	}
	return signals
}

func absQty(q int64) int64 {
	if q < 0 {
		return -q
	}
	return q
}

// exitQty is the share quantity a ratio sheds from a position. A ratio
// outside (0,1] falls back to half.
func exitQty(q int64, ratio float64) int64 {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return int64(float64(absQty(q)) * ratio)
}
