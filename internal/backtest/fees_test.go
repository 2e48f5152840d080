package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPercentageFee(t *testing.T) {
	f := PercentageFee{Rate: decimal.NewFromFloat(0.001)}
	assert.True(t, f.Fee(decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(1)))
}

func TestFixedFee(t *testing.T) {
	f := FixedFee{Amount: decimal.NewFromFloat(0.5)}
	assert.True(t, f.Fee(decimal.NewFromInt(10000)).Equal(decimal.NewFromFloat(0.5)))
}

func TestTieredFee_SelectsHighestVolumeTierReached(t *testing.T) {
	f := &TieredFee{Tiers: []VolumeTier{
		{MinNotional: decimal.Zero, Rate: decimal.NewFromFloat(0.001)},
		{MinNotional: decimal.NewFromInt(100000), Rate: decimal.NewFromFloat(0.0008)},
		{MinNotional: decimal.NewFromInt(1000000), Rate: decimal.NewFromFloat(0.0005)},
	}}
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.True(t, f.Fee(decimal.NewFromInt(1000)).Equal(decimal.NewFromFloat(1)))

	f.RecordNotional(now, decimal.NewFromInt(150000))
	assert.True(t, f.Fee(decimal.NewFromInt(1000)).Equal(decimal.NewFromFloat(0.8)))
}

func TestTieredFee_EvictsNotionalOlderThan30Days(t *testing.T) {
	f := &TieredFee{Tiers: []VolumeTier{
		{MinNotional: decimal.Zero, Rate: decimal.NewFromFloat(0.001)},
		{MinNotional: decimal.NewFromInt(100000), Rate: decimal.NewFromFloat(0.0008)},
	}}
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.RecordNotional(old, decimal.NewFromInt(200000))

	later := old.AddDate(0, 0, 31)
	f.RecordNotional(later, decimal.NewFromInt(10))

	assert.True(t, f.Fee(decimal.NewFromInt(1000)).Equal(decimal.NewFromFloat(1)))
}
