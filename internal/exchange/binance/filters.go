package binance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
	"github.com/opensqt/gridbot/pkg/tradingutils"
)

// validateAndRound applies the per-market filter validation rules from
// spec section 4.2: quantity is rounded down to the step size and must lie
// in [min_qty, max_qty]; limit price is rounded toward zero to the tick
// size and must lie in [min_price, max_price] (a zero bound is ignored);
// notional (price * quantity) must be at least min_notional. Market
// orders skip the notional check since price is not known pre-trade.
func validateAndRound(info core.SymbolInfo, orderType core.OrderType, amount decimal.Decimal, price *decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	roundedAmount := amount
	if info.StepSize.IsPositive() {
		roundedAmount = tradingutils.RoundStepDown(amount, info.StepSize)
	}
	if roundedAmount.LessThan(info.MinQty) || (info.MaxQty.IsPositive() && roundedAmount.GreaterThan(info.MaxQty)) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("quantity %s out of bounds [%s, %s]", roundedAmount, info.MinQty, info.MaxQty)
	}

	var roundedPrice decimal.Decimal
	if orderType == core.Limit {
		if price == nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("limit order requires a price")
		}
		roundedPrice = *price
		if info.TickSize.IsPositive() {
			roundedPrice = tradingutils.RoundTickToward(roundedPrice, info.TickSize)
		}
		if info.MinPrice.IsPositive() && roundedPrice.LessThan(info.MinPrice) {
			return decimal.Zero, decimal.Zero, fmt.Errorf("price %s below min_price %s", roundedPrice, info.MinPrice)
		}
		if info.MaxPrice.IsPositive() && roundedPrice.GreaterThan(info.MaxPrice) {
			return decimal.Zero, decimal.Zero, fmt.Errorf("price %s above max_price %s", roundedPrice, info.MaxPrice)
		}

		if info.MinNotional.IsPositive() {
			notional := roundedPrice.Mul(roundedAmount)
			if notional.LessThan(info.MinNotional) {
				return decimal.Zero, decimal.Zero, fmt.Errorf("notional %s below min_notional %s", notional, info.MinNotional)
			}
		}
	}

	return roundedAmount, roundedPrice, nil
}
