package backtest

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// SlippageModel adjusts a quoted price to the price actually received,
// always adverse to the trader: buys pay more, sells receive less.
type SlippageModel interface {
	Adjust(side core.OrderSide, price, orderSize, barVolume decimal.Decimal, rng *rand.Rand) decimal.Decimal
}

func adverseDirection(side core.OrderSide) decimal.Decimal {
	if side == core.Buy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// FixedSlippage applies a constant rate.
type FixedSlippage struct {
	Rate decimal.Decimal
}

func (s FixedSlippage) Adjust(side core.OrderSide, price, orderSize, barVolume decimal.Decimal, rng *rand.Rand) decimal.Decimal {
	return price.Add(price.Mul(s.Rate).Mul(adverseDirection(side)))
}

// VolumeBasedSlippage models market impact as base + (order/volume)*impact.
type VolumeBasedSlippage struct {
	Base   decimal.Decimal
	Impact decimal.Decimal
}

func (s VolumeBasedSlippage) Adjust(side core.OrderSide, price, orderSize, barVolume decimal.Decimal, rng *rand.Rand) decimal.Decimal {
	rate := s.Base
	if barVolume.IsPositive() {
		rate = rate.Add(orderSize.Div(barVolume).Mul(s.Impact))
	}
	return price.Add(price.Mul(rate).Mul(adverseDirection(side)))
}

// RandomSlippage draws a rate uniformly from [Min, Max] using the
// backtest execution context's seeded PRNG, keeping backtests reproducible (SPEC_FULL.md
// C7 note: the backtest execution context owns a seeded rand.Rand so
// repeated runs with the same seed produce identical results).
type RandomSlippage struct {
	Min, Max decimal.Decimal
}

func (s RandomSlippage) Adjust(side core.OrderSide, price, orderSize, barVolume decimal.Decimal, rng *rand.Rand) decimal.Decimal {
	span := s.Max.Sub(s.Min)
	rate := s.Min.Add(span.Mul(decimal.NewFromFloat(rng.Float64())))
	return price.Add(price.Mul(rate).Mul(adverseDirection(side)))
}

// ComposedSlippage applies each model in sequence, each operating on the
// previous model's output price.
type ComposedSlippage struct {
	Models []SlippageModel
}

func (s ComposedSlippage) Adjust(side core.OrderSide, price, orderSize, barVolume decimal.Decimal, rng *rand.Rand) decimal.Decimal {
	out := price
	for _, m := range s.Models {
		out = m.Adjust(side, out, orderSize, barVolume, rng)
	}
	return out
}

var (
	_ SlippageModel = FixedSlippage{}
	_ SlippageModel = VolumeBasedSlippage{}
	_ SlippageModel = RandomSlippage{}
	_ SlippageModel = ComposedSlippage{}
)
