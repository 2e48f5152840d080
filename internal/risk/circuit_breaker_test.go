package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

func TestCircuitBreaker_ConsecutiveLoss(t *testing.T) {
	config := CircuitConfig{
		MaxConsecutiveLosses: 3,
		CooldownMinutes:      60,
	}
	cb := NewCircuitBreaker(config, &mockLogger{})

	if !cb.IsTradingAllowed() {
		t.Error("circuit breaker should allow trading initially")
	}

	equity := decimal.NewFromInt(1000)

	cb.RecordTrade(decimal.NewFromFloat(-10.0), equity)
	if !cb.IsTradingAllowed() {
		t.Error("circuit breaker should not trip after 1 loss")
	}

	// 1 win resets the streak
	cb.RecordTrade(decimal.NewFromFloat(5.0), equity)
	if cb.State().ConsecutiveLosses != 0 {
		t.Errorf("consecutive losses should reset after a win, got %d", cb.State().ConsecutiveLosses)
	}

	cb.RecordTrade(decimal.NewFromFloat(-5.0), equity)
	cb.RecordTrade(decimal.NewFromFloat(-5.0), equity)
	cb.RecordTrade(decimal.NewFromFloat(-5.0), equity)

	if cb.IsTradingAllowed() {
		t.Error("circuit breaker should trip after 3 consecutive losses")
	}
	if cb.State().Trigger != core.TriggerConsecutiveLosses {
		t.Errorf("expected consecutive_losses trigger, got %s", cb.State().Trigger)
	}
}

func TestCircuitBreaker_Drawdown(t *testing.T) {
	config := CircuitConfig{
		MaxDrawdownPct:  decimal.NewFromFloat(0.1),
		CooldownMinutes: 60,
	}
	cb := NewCircuitBreaker(config, &mockLogger{})

	cb.RecordTrade(decimal.Zero, decimal.NewFromInt(1000))
	cb.RecordTrade(decimal.NewFromInt(-150), decimal.NewFromInt(850))

	if cb.IsTradingAllowed() {
		t.Error("circuit breaker should trip after exceeding max drawdown pct")
	}
	if cb.State().Trigger != core.TriggerMaxDrawdown {
		t.Errorf("expected max_drawdown trigger, got %s", cb.State().Trigger)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	config := CircuitConfig{
		MaxConsecutiveLosses: 1,
		CooldownMinutes:      60,
	}
	cb := NewCircuitBreaker(config, &mockLogger{})

	cb.RecordTrade(decimal.NewFromInt(-10), decimal.NewFromInt(1000))
	if cb.IsTradingAllowed() {
		t.Fatal("should be tripped")
	}

	cb.Reset()
	if !cb.IsTradingAllowed() {
		t.Error("should allow trading after reset")
	}
	if cb.State().ConsecutiveLosses != 0 {
		t.Error("consecutive losses should be 0 after reset")
	}
}

func TestCircuitBreaker_ErrorRate(t *testing.T) {
	config := CircuitConfig{
		MaxErrorRate:    decimal.NewFromFloat(0.6),
		CooldownMinutes: 60,
	}
	cb := NewCircuitBreaker(config, &mockLogger{})

	cb.RecordTrade(decimal.NewFromInt(1), decimal.NewFromInt(1000))
	cb.RecordTrade(decimal.NewFromInt(1), decimal.NewFromInt(1001))

	cb.RecordError()
	if !cb.IsTradingAllowed() {
		t.Error("one error against two trades should not trip yet")
	}

	cb.RecordError()
	if cb.IsTradingAllowed() {
		t.Error("error rate of 1.0 should trip the breaker")
	}
	if cb.State().Trigger != core.TriggerErrorRate {
		t.Errorf("expected error_rate trigger, got %s", cb.State().Trigger)
	}
}

func TestCircuitBreaker_ManualTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitConfig{CooldownMinutes: 60}, &mockLogger{})
	cb.TripManual("operator halt")

	if cb.IsTradingAllowed() {
		t.Error("manual trip should block trading")
	}
	if cb.State().Trigger != core.TriggerManual {
		t.Errorf("expected manual trigger, got %s", cb.State().Trigger)
	}
}
