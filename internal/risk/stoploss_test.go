package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

func TestStopLossHandler_Percentage(t *testing.T) {
	cfg := core.StopLossConfig{Kind: core.StopPercentage, Percentage: decimal.NewFromFloat(0.05)}
	h := NewStopLossHandler(cfg, decimal.NewFromInt(100))

	if h.CheckStop(decimal.NewFromInt(96), core.Buy) {
		t.Error("should not trigger above stop")
	}
	if !h.CheckStop(decimal.NewFromInt(95), core.Buy) {
		t.Error("should trigger at stop price")
	}
	// idempotent
	if !h.CheckStop(decimal.NewFromInt(200), core.Buy) {
		t.Error("should remain triggered once set")
	}
}

func TestStopLossHandler_TrailingLong(t *testing.T) {
	cfg := core.StopLossConfig{Kind: core.StopTrailing, Percentage: decimal.NewFromFloat(0.1)}
	h := NewStopLossHandler(cfg, decimal.NewFromInt(100))

	h.Update(decimal.NewFromInt(100), core.Buy)
	h.Update(decimal.NewFromInt(120), core.Buy)

	stop := h.State().CurrentStop
	want := decimal.NewFromInt(120).Mul(decimal.NewFromFloat(0.9))
	if !stop.Equal(want) {
		t.Errorf("expected stop %s after new high, got %s", want, stop)
	}

	// stop must never descend even if price drops
	h.Update(decimal.NewFromInt(110), core.Buy)
	if !h.State().CurrentStop.Equal(want) {
		t.Errorf("trailing stop should not descend, got %s", h.State().CurrentStop)
	}
}

func TestStopLossHandler_TrailingActivationDefersStart(t *testing.T) {
	cfg := core.StopLossConfig{
		Kind:               core.StopTrailing,
		Percentage:         decimal.NewFromFloat(0.1),
		TrailingActivation: decimal.NewFromFloat(0.1),
	}
	h := NewStopLossHandler(cfg, decimal.NewFromInt(100))

	h.Update(decimal.NewFromInt(105), core.Buy)
	if h.State().TrailingActive {
		t.Error("trailing should not activate below the profit threshold")
	}

	h.Update(decimal.NewFromInt(111), core.Buy)
	if !h.State().TrailingActive {
		t.Error("trailing should activate once profit threshold is reached")
	}
}

func TestStopLossManager_CheckAll(t *testing.T) {
	m := NewStopLossManager()
	m.Register("pos-1", core.StopLossConfig{Kind: core.StopPercentage, Percentage: decimal.NewFromFloat(0.05)}, decimal.NewFromInt(100), core.Buy)

	triggered := m.CheckAll(map[string]decimal.Decimal{"pos-1": decimal.NewFromInt(94)})
	if len(triggered) != 1 || triggered[0] != "pos-1" {
		t.Errorf("expected pos-1 to trigger, got %v", triggered)
	}
}
