package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// TradeValidation is the outcome of validating a prospective trade.
type TradeValidation struct {
	Allowed      bool
	Reason       string
	PositionSize decimal.Decimal
	StopPrice    decimal.Decimal
	Warnings     []string
}

// ManagerConfig tunes the risk manager's pre-trade checks.
type ManagerConfig struct {
	DefaultStopLossPct decimal.Decimal
	MaxPositionPct     decimal.Decimal
	MaxDrawdownLimit   decimal.Decimal
}

// Manager is the central risk façade (C14): validates trades against the
// circuit breaker and drawdown limit, sizes the position, and tracks
// stop-losses per open position.
type Manager struct {
	mu sync.Mutex

	config         ManagerConfig
	sizer          core.IPositionSizer
	circuitBreaker core.ICircuitBreaker
	drawdown       core.IDrawdownTracker
	stopLosses     *StopLossManager
	logger         core.ILogger
}

// NewManager builds a risk manager from its constituent components.
func NewManager(config ManagerConfig, sizer core.IPositionSizer, cb core.ICircuitBreaker, dd core.IDrawdownTracker, logger core.ILogger) *Manager {
	return &Manager{
		config:         config,
		sizer:          sizer,
		circuitBreaker: cb,
		drawdown:       dd,
		stopLosses:     NewStopLossManager(),
		logger:         logger.With("component", "risk_manager"),
	}
}

// ValidateTrade runs the pre-trade checklist from spec section 4.13.
func (m *Manager) ValidateTrade(symbol string, side core.OrderSide, entryPrice, balance decimal.Decimal, stopLossPct *decimal.Decimal) TradeValidation {
	if m.circuitBreaker != nil && !m.circuitBreaker.IsTradingAllowed() {
		return TradeValidation{Allowed: false, Reason: "circuit breaker is open"}
	}

	if m.drawdown != nil && !m.config.MaxDrawdownLimit.IsZero() && m.drawdown.CurrentDrawdown().GreaterThanOrEqual(m.config.MaxDrawdownLimit) {
		return TradeValidation{Allowed: false, Reason: "max drawdown limit reached"}
	}

	pct := m.config.DefaultStopLossPct
	if stopLossPct != nil {
		pct = *stopLossPct
	}

	var stopPrice decimal.Decimal
	if side == core.Buy {
		stopPrice = entryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
	} else {
		stopPrice = entryPrice.Mul(decimal.NewFromInt(1).Add(pct))
	}

	size, err := m.sizer.Size(balance, entryPrice, stopPrice)
	if err != nil {
		return TradeValidation{Allowed: false, Reason: fmt.Sprintf("position sizing failed: %v", err)}
	}

	var warnings []string

	if !m.config.MaxPositionPct.IsZero() {
		positionValue := size.Mul(entryPrice)
		maxValue := balance.Mul(m.config.MaxPositionPct)
		if positionValue.GreaterThan(maxValue) {
			warnings = append(warnings, fmt.Sprintf("position value %s exceeds max_position_pct limit %s", positionValue, maxValue))
		}
	}

	positionValue := size.Mul(entryPrice)
	if positionValue.GreaterThan(balance) {
		warnings = append(warnings, "position value exceeds available balance, down-adjusting")
		size = decimal.NewFromFloat(0.95).Mul(balance).Div(entryPrice)
	}

	return TradeValidation{
		Allowed:      true,
		PositionSize: size,
		StopPrice:    stopPrice,
		Warnings:     warnings,
	}
}

// RecordTradeResult updates the drawdown tracker then the circuit breaker,
// in that order, and returns any trigger that fired.
func (m *Manager) RecordTradeResult(pnl, equity decimal.Decimal) core.CircuitTrigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.drawdown != nil {
		m.drawdown.Update(equity, time.Now())
	}
	if m.circuitBreaker != nil {
		return m.circuitBreaker.RecordTrade(pnl, equity)
	}
	return core.TriggerNone
}

// RecordError forwards to the circuit breaker's error counter.
func (m *Manager) RecordError() {
	if m.circuitBreaker != nil {
		m.circuitBreaker.RecordError()
	}
}

// IsTradingAllowed forwards to the circuit breaker. Calling it also drives
// the breaker's UTC-midnight daily counter rollover, so the orchestrator's
// daily cron tick can force a rollover even on a day with no trades.
func (m *Manager) IsTradingAllowed() bool {
	if m.circuitBreaker == nil {
		return true
	}
	return m.circuitBreaker.IsTradingAllowed()
}

// Stats summarizes the risk kernel for the HTTP status API.
func (m *Manager) Stats() core.RiskStats {
	var cbState core.CircuitBreakerState
	if m.circuitBreaker != nil {
		cbState = m.circuitBreaker.State()
	}
	var curDD, maxDD decimal.Decimal
	if m.drawdown != nil {
		curDD = m.drawdown.CurrentDrawdown()
		maxDD = m.drawdown.MaxDrawdown()
	}
	return core.RiskStats{
		CircuitBreaker:    cbState,
		CurrentDrawdown:   curDD,
		MaxDrawdown:       maxDD,
		ConsecutiveLosses: cbState.ConsecutiveLosses,
	}
}

// RegisterStopLoss creates and tracks a stop for a position.
func (m *Manager) RegisterStopLoss(positionID string, side core.OrderSide, entry decimal.Decimal, pct *decimal.Decimal, kind core.StopLossKind) *StopLossHandler {
	cfg := core.StopLossConfig{Kind: kind}
	if kind == core.StopPercentage {
		if pct != nil {
			cfg.Percentage = *pct
		} else {
			cfg.Percentage = m.config.DefaultStopLossPct
		}
	}
	return m.stopLosses.Register(positionID, cfg, entry, side)
}

// CheckStopLosses updates and evaluates all tracked stops, returning the
// ids that triggered.
func (m *Manager) CheckStopLosses(currentPrices map[string]decimal.Decimal) []string {
	return m.stopLosses.CheckAll(currentPrices)
}

// UnregisterStopLoss stops tracking a position's stop, e.g. once its
// matching exit fills.
func (m *Manager) UnregisterStopLoss(positionID string) {
	m.stopLosses.Unregister(positionID)
}

// UpdateEquity feeds a point-in-time equity observation to the drawdown
// tracker outside of a trade-close event, e.g. a periodic equity snapshot.
func (m *Manager) UpdateEquity(equity decimal.Decimal) {
	if m.drawdown != nil {
		m.drawdown.Update(equity, time.Now())
	}
}

// Conservative returns a pre-tuned, capital-preserving risk manager.
func Conservative(logger core.ILogger) *Manager {
	sizer, _ := NewFixedFractionalSizer(decimal.NewFromFloat(0.005))
	cb := NewCircuitBreaker(CircuitConfig{
		MaxDailyLossPct:      decimal.NewFromFloat(0.02),
		MaxConsecutiveLosses: 3,
		MaxDrawdownPct:       decimal.NewFromFloat(0.10),
		MaxErrorRate:         decimal.NewFromFloat(0.2),
		CooldownMinutes:      120,
		AutoResetDaily:       true,
	}, logger)
	return NewManager(ManagerConfig{
		DefaultStopLossPct: decimal.NewFromFloat(0.02),
		MaxPositionPct:     decimal.NewFromFloat(0.10),
		MaxDrawdownLimit:   decimal.NewFromFloat(0.15),
	}, sizer, cb, NewDrawdownTracker(), logger)
}

// Moderate returns a balanced risk manager.
func Moderate(logger core.ILogger) *Manager {
	sizer, _ := NewFixedFractionalSizer(decimal.NewFromFloat(0.01))
	cb := NewCircuitBreaker(CircuitConfig{
		MaxDailyLossPct:      decimal.NewFromFloat(0.05),
		MaxConsecutiveLosses: 5,
		MaxDrawdownPct:       decimal.NewFromFloat(0.20),
		MaxErrorRate:         decimal.NewFromFloat(0.3),
		CooldownMinutes:      60,
		AutoResetDaily:       true,
	}, logger)
	return NewManager(ManagerConfig{
		DefaultStopLossPct: decimal.NewFromFloat(0.03),
		MaxPositionPct:     decimal.NewFromFloat(0.20),
		MaxDrawdownLimit:   decimal.NewFromFloat(0.25),
	}, sizer, cb, NewDrawdownTracker(), logger)
}

// Aggressive returns a higher-risk-tolerance manager.
func Aggressive(logger core.ILogger) *Manager {
	sizer, _ := NewFixedFractionalSizer(decimal.NewFromFloat(0.02))
	cb := NewCircuitBreaker(CircuitConfig{
		MaxDailyLossPct:      decimal.NewFromFloat(0.10),
		MaxConsecutiveLosses: 8,
		MaxDrawdownPct:       decimal.NewFromFloat(0.35),
		MaxErrorRate:         decimal.NewFromFloat(0.4),
		CooldownMinutes:      30,
		AutoResetDaily:       true,
	}, logger)
	return NewManager(ManagerConfig{
		DefaultStopLossPct: decimal.NewFromFloat(0.05),
		MaxPositionPct:     decimal.NewFromFloat(0.35),
		MaxDrawdownLimit:   decimal.NewFromFloat(0.40),
	}, sizer, cb, NewDrawdownTracker(), logger)
}
