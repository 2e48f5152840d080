// Package grid implements the grid trading strategy (spec section 4.8,
// C9): ladder computation, order placement, fill-driven flips, FIFO
// profit matching, and restartable snapshot state. Grounded on the
// teacher's slot-based grid engine
// (market_maker/internal/engine/gridengine/engine.go and
// market_maker/internal/trading/grid), generalized from skew-adjusted
// market-making quotes to the spec's buy-below/sell-above ladder with
// flip-on-fill semantics.
package grid

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SpacingKind selects how ladder levels are distributed between lower and
// upper price.
type SpacingKind string

const (
	Arithmetic SpacingKind = "arithmetic"
	Geometric  SpacingKind = "geometric"
)

// Mode toggles whether the ladder only ever holds long (buy-side)
// inventory, or quotes both sides of the current level simultaneously.
// Named after the teacher's TradingConfig.GridMode / isNeutral flag.
type Mode string

const (
	ModeLong    Mode = "long"
	ModeNeutral Mode = "neutral"
)

// Config parameterizes one grid ladder.
type Config struct {
	Symbol          string
	BaseCurrency    string // e.g. "BTC", used for neutral-mode sell sizing
	QuoteCurrency   string // e.g. "USDT", used for buy sizing
	LowerPrice      decimal.Decimal
	UpperPrice      decimal.Decimal
	NumGrids        int
	TotalInvestment decimal.Decimal
	Spacing         SpacingKind
	StopLossPct     decimal.Decimal // zero disables the ladder-wide stop
	Mode            Mode
}

// Validate checks the hard constraints from spec section 4.8 and returns
// an error for violations, plus non-fatal warnings for configurations that
// are legal but likely mistakes.
func (c Config) Validate(tickSize decimal.Decimal) (warnings []string, err error) {
	if c.NumGrids < 3 || c.NumGrids > 100 {
		return nil, fmt.Errorf("num_grids must be in [3, 100], got %d", c.NumGrids)
	}
	if !c.LowerPrice.LessThan(c.UpperPrice) {
		return nil, fmt.Errorf("lower_price (%s) must be less than upper_price (%s)", c.LowerPrice, c.UpperPrice)
	}
	if c.LowerPrice.Sign() <= 0 {
		return nil, fmt.Errorf("lower_price must be positive")
	}
	if c.Spacing != Arithmetic && c.Spacing != Geometric {
		return nil, fmt.Errorf("spacing must be %q or %q, got %q", Arithmetic, Geometric, c.Spacing)
	}

	span := c.UpperPrice.Sub(c.LowerPrice)
	if span.Div(c.LowerPrice).GreaterThan(decimal.NewFromInt(2)) {
		warnings = append(warnings, fmt.Sprintf("price range spans more than 200%% of lower_price (%s to %s)", c.LowerPrice, c.UpperPrice))
	}
	if c.NumGrids < 10 {
		warnings = append(warnings, fmt.Sprintf("only %d grid levels configured; fewer than 10 levels gives coarse coverage", c.NumGrids))
	}
	if tickSize.IsPositive() {
		spacing := span.Div(decimal.NewFromInt(int64(c.NumGrids - 1)))
		if spacing.LessThan(tickSize) {
			warnings = append(warnings, fmt.Sprintf("inter-level spacing (%s) is below the market tick size (%s); adjacent levels may round to the same price", spacing, tickSize))
		}
	}
	return warnings, nil
}
