package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

var (
	minRiskPct = decimal.NewFromFloat(0.001)
	maxRiskPct = decimal.NewFromFloat(0.10)
)

// FixedFractionalSizer sizes a position as a fixed fraction of balance at
// risk between entry and stop.
type FixedFractionalSizer struct {
	RiskPct decimal.Decimal
}

func NewFixedFractionalSizer(riskPct decimal.Decimal) (*FixedFractionalSizer, error) {
	if riskPct.LessThan(minRiskPct) || riskPct.GreaterThan(maxRiskPct) {
		return nil, fmt.Errorf("risk_pct %s out of range [%s, %s]", riskPct, minRiskPct, maxRiskPct)
	}
	return &FixedFractionalSizer{RiskPct: riskPct}, nil
}

func (s *FixedFractionalSizer) Size(balance, entry, stop decimal.Decimal) (decimal.Decimal, error) {
	riskRange := entry.Sub(stop).Abs()
	if riskRange.IsZero() {
		return decimal.Zero, fmt.Errorf("stop equals entry, cannot size position")
	}
	return balance.Mul(s.RiskPct).Div(riskRange), nil
}

var _ core.IPositionSizer = (*FixedFractionalSizer)(nil)

// KellySizer sizes using the Kelly criterion, fractioned and clamped.
type KellySizer struct {
	WinRate    decimal.Decimal
	AvgWin     decimal.Decimal
	AvgLoss    decimal.Decimal
	Fraction   decimal.Decimal // (0,1], half-Kelly = 0.5 is recommended
	underlying *FixedFractionalSizer
}

func NewKellySizer(winRate, avgWin, avgLoss, fraction decimal.Decimal) *KellySizer {
	return &KellySizer{WinRate: winRate, AvgWin: avgWin, AvgLoss: avgLoss, Fraction: fraction}
}

// KellyFraction computes f* = W - (1-W)/R, clamped to [0, 0.25].
func (s *KellySizer) KellyFraction() decimal.Decimal {
	if s.AvgLoss.IsZero() {
		return decimal.Zero
	}
	r := s.AvgWin.Div(s.AvgLoss)
	fStar := s.WinRate.Sub(decimal.NewFromInt(1).Sub(s.WinRate).Div(r))
	scaled := s.Fraction.Mul(decimal.Max(decimal.Zero, fStar))
	return decimal.Min(decimal.NewFromFloat(0.25), decimal.Max(decimal.Zero, scaled))
}

func (s *KellySizer) Size(balance, entry, stop decimal.Decimal) (decimal.Decimal, error) {
	riskRange := entry.Sub(stop).Abs()
	if riskRange.IsZero() {
		return decimal.Zero, fmt.Errorf("stop equals entry, cannot size position")
	}
	kellyPct := s.KellyFraction()
	return balance.Mul(kellyPct).Div(riskRange), nil
}

var _ core.IPositionSizer = (*KellySizer)(nil)

// GridSizer allocates a fixed percentage of balance equally across the
// active grid levels, reserving a percentage for buffer.
type GridSizer struct {
	AllocationPct  decimal.Decimal
	ReservePct     decimal.Decimal
	NumActiveGrids int
}

func NewGridSizer(allocationPct, reservePct decimal.Decimal, numActiveGrids int) (*GridSizer, error) {
	if allocationPct.Add(reservePct).GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("allocation_pct + reserve_pct must be <= 1")
	}
	return &GridSizer{AllocationPct: allocationPct, ReservePct: reservePct, NumActiveGrids: numActiveGrids}, nil
}

func (s *GridSizer) Size(balance, entry, stop decimal.Decimal) (decimal.Decimal, error) {
	if s.NumActiveGrids <= 0 {
		return decimal.Zero, fmt.Errorf("num_active_grids must be positive")
	}
	tradable := balance.Mul(s.AllocationPct)
	perLevel := tradable.Div(decimal.NewFromInt(int64(s.NumActiveGrids)))
	if entry.IsZero() {
		return decimal.Zero, fmt.Errorf("entry price is zero")
	}
	return perLevel.Div(entry), nil
}

var _ core.IPositionSizer = (*GridSizer)(nil)

// DynamicSizer wraps a fixed-fractional base sizer and scales its output
// down under elevated volatility or drawdown.
type DynamicSizer struct {
	Base         *FixedFractionalSizer
	CurrentATR   decimal.Decimal
	AverageATR   decimal.Decimal
	CurrentDD    decimal.Decimal
}

func NewDynamicSizer(base *FixedFractionalSizer) *DynamicSizer {
	return &DynamicSizer{Base: base}
}

func (s *DynamicSizer) Size(balance, entry, stop decimal.Decimal) (decimal.Decimal, error) {
	base, err := s.Base.Size(balance, entry, stop)
	if err != nil {
		return decimal.Zero, err
	}

	adjustment := decimal.NewFromInt(1)

	if s.AverageATR.IsPositive() {
		ratio := s.CurrentATR.Div(s.AverageATR)
		if ratio.GreaterThan(decimal.NewFromFloat(1.5)) {
			volAdj := decimal.Max(decimal.NewFromInt(1).Div(ratio), decimal.NewFromFloat(0.5))
			adjustment = adjustment.Mul(volAdj)
		}
	}

	if s.CurrentDD.GreaterThan(decimal.NewFromFloat(0.05)) {
		ddAdj := decimal.Max(decimal.NewFromInt(1).Sub(decimal.NewFromInt(5).Mul(s.CurrentDD)), decimal.NewFromFloat(0.25))
		adjustment = adjustment.Mul(ddAdj)
	}

	return base.Mul(adjustment), nil
}

var _ core.IPositionSizer = (*DynamicSizer)(nil)
