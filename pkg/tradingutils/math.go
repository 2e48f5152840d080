// Package tradingutils holds decimal-precision math shared across the grid
// strategy, exchange adapter, and backtest engine.
package tradingutils

import (
	"math"

	"github.com/shopspring/decimal"
)

// ArithmeticGridLevels computes p_i = lower + i*(upper-lower)/(numGrids-1)
// for i in [0, numGrids-1].
func ArithmeticGridLevels(lower, upper decimal.Decimal, numGrids int) []decimal.Decimal {
	levels := make([]decimal.Decimal, numGrids)
	span := upper.Sub(lower)
	denom := decimal.NewFromInt(int64(numGrids - 1))
	for i := 0; i < numGrids; i++ {
		levels[i] = lower.Add(span.Mul(decimal.NewFromInt(int64(i))).Div(denom))
	}
	return levels
}

// GeometricGridLevels computes p_i = lower * r^i with
// r = (upper/lower)^(1/(numGrids-1)).
func GeometricGridLevels(lower, upper decimal.Decimal, numGrids int) []decimal.Decimal {
	levels := make([]decimal.Decimal, numGrids)
	ratio := geometricRatio(lower, upper, numGrids)
	levels[0] = lower
	cur := lower
	for i := 1; i < numGrids; i++ {
		cur = cur.Mul(ratio)
		levels[i] = cur
	}
	return levels
}

func geometricRatio(lower, upper decimal.Decimal, numGrids int) decimal.Decimal {
	lowerF, _ := lower.Float64()
	upperF, _ := upper.Float64()
	if lowerF <= 0 || numGrids <= 1 {
		return decimal.NewFromInt(1)
	}
	exponent := 1.0 / float64(numGrids-1)
	ratioF := math.Pow(upperF/lowerF, exponent)
	return decimal.NewFromFloat(ratioF)
}

// RoundStepDown rounds a quantity down to the nearest step size, per the
// exchange filter validation rule (round down to nearest step).
func RoundStepDown(qty, stepSize decimal.Decimal) decimal.Decimal {
	if stepSize.IsZero() {
		return qty
	}
	steps := qty.Div(stepSize).Floor()
	return steps.Mul(stepSize)
}

// RoundTickToward rounds a price toward zero to the nearest tick size, per
// the exchange filter validation rule.
func RoundTickToward(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	ticks := price.Div(tickSize).Truncate(0)
	return ticks.Mul(tickSize)
}

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// RoundQuantity rounds a quantity to the specified decimals
func RoundQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.Round(int32(qtyDecimals))
}

// CalculatePriceLevels generates a sequence of price levels starting from an anchor
func CalculatePriceLevels(anchorPrice, interval decimal.Decimal, count int) []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, count)
	for i := 1; i <= count; i++ {
		prices = append(prices, anchorPrice.Add(interval.Mul(decimal.NewFromInt(int64(i)))))
	}
	return prices
}

// FindNearestGridPrice aligns a price to the nearest grid level based on an anchor and interval
func FindNearestGridPrice(currentPrice, anchorPrice, interval decimal.Decimal) decimal.Decimal {
	if interval.IsZero() {
		return currentPrice
	}
	offset := currentPrice.Sub(anchorPrice)
	intervals := offset.Div(interval).Round(0)
	return anchorPrice.Add(intervals.Mul(interval))
}

// CalculateNetProfit computes profit after trading fees
func CalculateNetProfit(buyPrice, sellPrice, buyFeeRate, sellFeeRate decimal.Decimal) decimal.Decimal {
	grossProfit := sellPrice.Sub(buyPrice)
	buyFee := buyPrice.Mul(buyFeeRate)
	sellFee := sellPrice.Mul(sellFeeRate)
	return grossProfit.Sub(buyFee).Sub(sellFee)
}

// CalculateSkewedPrice adjusts a base price based on inventory and a skew factor
func CalculateSkewedPrice(basePrice decimal.Decimal, inventory decimal.Decimal, targetInventory decimal.Decimal, skewFactor decimal.Decimal) decimal.Decimal {
	diff := inventory.Sub(targetInventory)
	// Price = BasePrice * (1 - diff * skewFactor)
	// If inventory > target (long), diff is positive, price moves down (to discourage buying/encourage selling)
	adjustment := decimal.NewFromInt(1).Sub(diff.Mul(skewFactor))
	return basePrice.Mul(adjustment)
}
