package backtest

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/opensqt/gridbot/internal/core"
)

func TestFixedSlippage_BuyPaysMoreSellReceivesLess(t *testing.T) {
	s := FixedSlippage{Rate: decimal.NewFromFloat(0.001)}
	price := decimal.NewFromInt(100)

	buyFill := s.Adjust(core.Buy, price, decimal.NewFromInt(1), decimal.NewFromInt(1000), nil)
	sellFill := s.Adjust(core.Sell, price, decimal.NewFromInt(1), decimal.NewFromInt(1000), nil)

	assert.True(t, buyFill.GreaterThan(price))
	assert.True(t, sellFill.LessThan(price))
}

func TestVolumeBasedSlippage_LargerOrderRelativeToVolumeCostsMore(t *testing.T) {
	s := VolumeBasedSlippage{Base: decimal.NewFromFloat(0.0001), Impact: decimal.NewFromFloat(0.01)}
	price := decimal.NewFromInt(100)

	small := s.Adjust(core.Buy, price, decimal.NewFromInt(1), decimal.NewFromInt(1000), nil)
	large := s.Adjust(core.Buy, price, decimal.NewFromInt(500), decimal.NewFromInt(1000), nil)

	assert.True(t, large.GreaterThan(small))
}

func TestRandomSlippage_StaysWithinBounds(t *testing.T) {
	s := RandomSlippage{Min: decimal.NewFromFloat(0.0005), Max: decimal.NewFromFloat(0.002)}
	price := decimal.NewFromInt(100)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		fill := s.Adjust(core.Buy, price, decimal.NewFromInt(1), decimal.NewFromInt(1000), rng)
		assert.True(t, fill.GreaterThanOrEqual(price.Mul(decimal.NewFromFloat(1.0005))))
		assert.True(t, fill.LessThanOrEqual(price.Mul(decimal.NewFromFloat(1.002))))
	}
}

func TestComposedSlippage_AppliesEachModelInSequence(t *testing.T) {
	c := ComposedSlippage{Models: []SlippageModel{
		FixedSlippage{Rate: decimal.NewFromFloat(0.001)},
		FixedSlippage{Rate: decimal.NewFromFloat(0.001)},
	}}
	price := decimal.NewFromInt(100)
	single := FixedSlippage{Rate: decimal.NewFromFloat(0.001)}.Adjust(core.Buy, price, decimal.Zero, decimal.Zero, nil)

	combined := c.Adjust(core.Buy, price, decimal.Zero, decimal.Zero, nil)
	assert.True(t, combined.GreaterThan(single))
}
