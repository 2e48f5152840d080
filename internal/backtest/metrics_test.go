package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/opensqt/gridbot/internal/core"
)

func dayCurve(start time.Time, equities ...float64) []core.EquityPoint {
	out := make([]core.EquityPoint, len(equities))
	for i, e := range equities {
		out[i] = core.EquityPoint{Timestamp: start.AddDate(0, 0, i), Equity: decimal.NewFromFloat(e)}
	}
	return out
}

func TestCompute_TotalReturnAndDrawdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	result := Result{EquityCurve: dayCurve(start, 10000, 10500, 9800, 10200, 11000)}

	m := Compute(result, "1d")

	assert.True(t, m.TotalReturn.Equal(decimal.NewFromFloat(0.1)))
	assert.True(t, m.MaxDrawdownPct.GreaterThan(decimal.Zero))
}

func TestCompute_TradeStatsFromRoundTripFills(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fills := []core.Order{
		{Symbol: "BTCUSDT", Side: core.Buy, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Timestamp: start},
		{Symbol: "BTCUSDT", Side: core.Sell, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(110), Timestamp: start.Add(time.Hour)},
		{Symbol: "BTCUSDT", Side: core.Buy, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Timestamp: start.Add(2 * time.Hour)},
		{Symbol: "BTCUSDT", Side: core.Sell, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(90), Timestamp: start.Add(3 * time.Hour)},
	}
	result := Result{EquityCurve: dayCurve(start, 10000, 10000), Fills: fills}

	m := Compute(result, "1h")

	assert.Equal(t, 2, m.TotalTrades)
	assert.True(t, m.WinRate.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, m.ProfitFactor.Equal(decimal.NewFromInt(1)))
}

func TestCompute_EmptyCurveReturnsZeroValue(t *testing.T) {
	m := Compute(Result{}, "1d")
	assert.True(t, m.TotalReturn.IsZero())
}
