package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

func TestManager_ValidateTrade_Allowed(t *testing.T) {
	m := Moderate(&mockLogger{})

	result := m.ValidateTrade("BTCUSDT", core.Buy, decimal.NewFromInt(100), decimal.NewFromInt(10000), nil)
	if !result.Allowed {
		t.Fatalf("expected trade to be allowed, got reason: %s", result.Reason)
	}
	if result.PositionSize.IsZero() {
		t.Error("expected a non-zero position size")
	}
	if result.StopPrice.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		t.Error("expected buy stop below entry")
	}
}

func TestManager_ValidateTrade_RejectsWhenCircuitOpen(t *testing.T) {
	m := Moderate(&mockLogger{})
	m.circuitBreaker.TripManual("test halt")

	result := m.ValidateTrade("BTCUSDT", core.Buy, decimal.NewFromInt(100), decimal.NewFromInt(10000), nil)
	if result.Allowed {
		t.Error("expected trade to be rejected while circuit breaker is open")
	}
}

func TestManager_RegisterAndCheckStopLoss(t *testing.T) {
	m := Moderate(&mockLogger{})
	pct := decimal.NewFromFloat(0.05)
	m.RegisterStopLoss("pos-1", core.Buy, decimal.NewFromInt(100), &pct, core.StopPercentage)

	triggered := m.CheckStopLosses(map[string]decimal.Decimal{"pos-1": decimal.NewFromInt(90)})
	if len(triggered) != 1 {
		t.Errorf("expected 1 triggered stop, got %d", len(triggered))
	}
}

func TestManager_RecordTradeResult(t *testing.T) {
	m := Conservative(&mockLogger{})
	m.RecordTradeResult(decimal.NewFromInt(-10), decimal.NewFromInt(1000))
	m.RecordTradeResult(decimal.NewFromInt(-10), decimal.NewFromInt(990))
	m.RecordTradeResult(decimal.NewFromInt(-10), decimal.NewFromInt(980))

	if m.circuitBreaker.IsTradingAllowed() {
		t.Error("expected circuit breaker to trip after 3 consecutive losses under conservative preset")
	}
}
