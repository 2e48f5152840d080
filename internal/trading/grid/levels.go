package grid

import (
	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
	"github.com/opensqt/gridbot/pkg/tradingutils"
)

// buildLadder computes the num_grids price levels per spec section 4.8 and
// rounds each to the market tick size. Levels are returned in ascending
// price order with Index matching that order.
func buildLadder(cfg Config, tickSize decimal.Decimal) []core.GridLevel {
	var raw []decimal.Decimal
	if cfg.Spacing == Geometric {
		raw = tradingutils.GeometricGridLevels(cfg.LowerPrice, cfg.UpperPrice, cfg.NumGrids)
	} else {
		raw = tradingutils.ArithmeticGridLevels(cfg.LowerPrice, cfg.UpperPrice, cfg.NumGrids)
	}

	levels := make([]core.GridLevel, len(raw))
	for i, p := range raw {
		price := p
		if tickSize.IsPositive() {
			price = tradingutils.RoundTickToward(p, tickSize)
		}
		levels[i] = core.GridLevel{
			Index:  i,
			Price:  price,
			Status: core.LevelCanceled, // no resting order yet; see strategy.go doc comment
		}
	}
	return levels
}

// nearestLevelIndex finds the level whose price is closest to target,
// resolving ties in favor of the lower index per spec's tie-breaking rule.
func nearestLevelIndex(levels []core.GridLevel, target decimal.Decimal) int {
	best := 0
	bestDist := decimal.Zero
	for i, lvl := range levels {
		dist := lvl.Price.Sub(target).Abs()
		if i == 0 || dist.LessThan(bestDist) {
			best = i
			bestDist = dist
		}
	}
	return best
}
