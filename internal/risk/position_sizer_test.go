package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFixedFractionalSizer_Size(t *testing.T) {
	s, err := NewFixedFractionalSizer(decimal.NewFromFloat(0.02))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	size, err := s.Size(decimal.NewFromInt(10000), decimal.NewFromInt(100), decimal.NewFromInt(90))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// qty = (10000 * 0.02) / 10 = 20
	if !size.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected size 20, got %s", size)
	}
}

func TestFixedFractionalSizer_RejectsOutOfRangeRisk(t *testing.T) {
	if _, err := NewFixedFractionalSizer(decimal.NewFromFloat(0.2)); err == nil {
		t.Error("expected error for risk_pct above max")
	}
}

func TestFixedFractionalSizer_ZeroRange(t *testing.T) {
	s, _ := NewFixedFractionalSizer(decimal.NewFromFloat(0.02))
	_, err := s.Size(decimal.NewFromInt(1000), decimal.NewFromInt(100), decimal.NewFromInt(100))
	if err == nil {
		t.Error("expected error when stop equals entry")
	}
}

func TestKellySizer_Fraction(t *testing.T) {
	s := NewKellySizer(decimal.NewFromFloat(0.6), decimal.NewFromFloat(100), decimal.NewFromFloat(50), decimal.NewFromFloat(0.5))
	f := s.KellyFraction()
	if f.IsNegative() {
		t.Errorf("expected non-negative kelly fraction, got %s", f)
	}
	if f.GreaterThan(decimal.NewFromFloat(0.25)) {
		t.Errorf("kelly fraction should be clamped to 0.25, got %s", f)
	}
}

func TestGridSizer_AllocationExceeded(t *testing.T) {
	_, err := NewGridSizer(decimal.NewFromFloat(0.8), decimal.NewFromFloat(0.3), 5)
	if err == nil {
		t.Error("expected error when allocation + reserve exceeds 1")
	}
}

func TestDynamicSizer_ScalesDownOnVolatility(t *testing.T) {
	base, _ := NewFixedFractionalSizer(decimal.NewFromFloat(0.02))
	dyn := NewDynamicSizer(base)
	dyn.CurrentATR = decimal.NewFromFloat(3)
	dyn.AverageATR = decimal.NewFromFloat(1)

	baseSize, _ := base.Size(decimal.NewFromInt(10000), decimal.NewFromInt(100), decimal.NewFromInt(90))
	dynSize, _ := dyn.Size(decimal.NewFromInt(10000), decimal.NewFromInt(100), decimal.NewFromInt(90))

	if !dynSize.LessThan(baseSize) {
		t.Errorf("expected dynamic size %s to be smaller than base size %s under high volatility", dynSize, baseSize)
	}
}
