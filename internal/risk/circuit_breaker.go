package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// CircuitConfig configures the trading circuit breaker (C12).
type CircuitConfig struct {
	MaxDailyLossPct       decimal.Decimal
	MaxConsecutiveLosses  int
	MaxDrawdownPct        decimal.Decimal
	MaxErrorRate          decimal.Decimal
	CooldownMinutes       int
	AutoResetDaily        bool
}

// CircuitBreaker implements core.ICircuitBreaker per spec section 4.11:
// daily-loss, consecutive-loss, drawdown and error-rate triggers, with a
// cooldown-based auto-reset and a UTC-midnight daily counter reset.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitConfig
	state  core.CircuitBreakerState
	logger core.ILogger
}

// NewCircuitBreaker builds a breaker starting closed with zeroed counters.
func NewCircuitBreaker(config CircuitConfig, logger core.ILogger) *CircuitBreaker {
	now := time.Now().UTC()
	return &CircuitBreaker{
		config: config,
		state: core.CircuitBreakerState{
			DayStart: dayStart(now),
		},
		logger: logger.With("component", "circuit_breaker"),
	}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsTradingAllowed reports whether trading may proceed right now. It also
// performs the cooldown auto-reset if the cooldown has elapsed.
func (cb *CircuitBreaker) IsTradingAllowed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeRollDay(time.Now().UTC())

	if !cb.state.IsTripped {
		return true
	}

	if !cb.state.CooldownUntil.IsZero() && !time.Now().UTC().Before(cb.state.CooldownUntil) {
		cb.autoReset()
		return true
	}

	return false
}

// RecordTrade records a closed trade's PnL and updates the breaker's
// running equity/drawdown/loss counters, tripping it if any threshold is
// crossed. Returns the trigger that fired, or TriggerNone.
func (cb *CircuitBreaker) RecordTrade(pnl decimal.Decimal, equity decimal.Decimal) core.CircuitTrigger {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now().UTC()
	cb.maybeRollDay(now)

	cb.state.DailyPnL = cb.state.DailyPnL.Add(pnl)
	cb.state.DailyTrades++
	cb.state.CurrentEquity = equity

	if equity.GreaterThan(cb.state.PeakEquity) {
		cb.state.PeakEquity = equity
	}

	if cb.state.PeakEquity.IsPositive() {
		cb.state.CurrentDrawdown = cb.state.PeakEquity.Sub(equity).Div(cb.state.PeakEquity)
	}

	if pnl.IsNegative() {
		cb.state.ConsecutiveLosses++
		cb.state.ConsecutiveWins = 0
	} else if pnl.IsPositive() {
		cb.state.ConsecutiveWins++
		cb.state.ConsecutiveLosses = 0
	}

	if cb.state.IsTripped {
		return core.TriggerNone
	}

	if !cb.config.MaxDailyLossPct.IsZero() && cb.state.DailyPnL.IsNegative() && cb.state.PeakEquity.IsPositive() {
		lossRatio := cb.state.DailyPnL.Abs().Div(cb.state.PeakEquity)
		if lossRatio.GreaterThanOrEqual(cb.config.MaxDailyLossPct) {
			cb.trip(core.TriggerDailyLoss, now)
			return core.TriggerDailyLoss
		}
	}

	if cb.config.MaxConsecutiveLosses > 0 && cb.state.ConsecutiveLosses >= cb.config.MaxConsecutiveLosses {
		cb.trip(core.TriggerConsecutiveLosses, now)
		return core.TriggerConsecutiveLosses
	}

	if !cb.config.MaxDrawdownPct.IsZero() && cb.state.CurrentDrawdown.GreaterThanOrEqual(cb.config.MaxDrawdownPct) {
		cb.trip(core.TriggerMaxDrawdown, now)
		return core.TriggerMaxDrawdown
	}

	return core.TriggerNone
}

// RecordError records an execution error and trips once the day's
// errors/trades ratio reaches MaxErrorRate. The ratio is evaluated only
// after at least one trade has been recorded today.
func (cb *CircuitBreaker) RecordError() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now().UTC()
	cb.maybeRollDay(now)
	cb.state.DailyErrors++

	if cb.state.IsTripped || cb.state.DailyTrades == 0 || cb.config.MaxErrorRate.IsZero() {
		return
	}

	rate := decimal.NewFromInt(int64(cb.state.DailyErrors)).Div(decimal.NewFromInt(int64(cb.state.DailyTrades)))
	if rate.GreaterThanOrEqual(cb.config.MaxErrorRate) {
		cb.trip(core.TriggerErrorRate, now)
	}
}

// TripManual forces the breaker open. Callers should audit the reason.
func (cb *CircuitBreaker) TripManual(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip(core.TriggerManual, time.Now().UTC())
	cb.logger.Warn("circuit breaker manually tripped", "reason", reason)
}

func (cb *CircuitBreaker) trip(trigger core.CircuitTrigger, now time.Time) {
	cb.state.IsTripped = true
	cb.state.Trigger = trigger
	cb.state.TrippedAt = now
	if cb.config.CooldownMinutes > 0 {
		cb.state.CooldownUntil = now.Add(time.Duration(cb.config.CooldownMinutes) * time.Minute)
	} else {
		cb.state.CooldownUntil = now
	}
	cb.logger.Warn("circuit breaker tripped", "trigger", trigger, "cooldown_until", cb.state.CooldownUntil)
}

// autoReset clears the tripped state after cooldown elapses. Equity and
// daily counters are retained; only the trip and consecutive-loss state
// clears.
func (cb *CircuitBreaker) autoReset() {
	cb.state.IsTripped = false
	cb.state.Trigger = core.TriggerNone
	cb.state.TrippedAt = time.Time{}
	cb.state.CooldownUntil = time.Time{}
	cb.state.ConsecutiveLosses = 0
	cb.logger.Info("circuit breaker auto-reset after cooldown")
}

// Reset manually clears the breaker, bypassing cooldown.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.autoReset()
}

func (cb *CircuitBreaker) maybeRollDay(now time.Time) {
	if !cb.config.AutoResetDaily {
		return
	}
	today := dayStart(now)
	if today.After(cb.state.DayStart) {
		cb.state.DayStart = today
		cb.state.DailyPnL = decimal.Zero
		cb.state.DailyTrades = 0
		cb.state.DailyErrors = 0
	}
}

// State returns a snapshot of the breaker's current state.
func (cb *CircuitBreaker) State() core.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

var _ core.ICircuitBreaker = (*CircuitBreaker)(nil)
