package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensqt/gridbot/internal/core"
)

type noopLogger struct{}

func (n *noopLogger) Debug(string, ...interface{})  {}
func (n *noopLogger) Info(string, ...interface{})   {}
func (n *noopLogger) Warn(string, ...interface{})   {}
func (n *noopLogger) Error(string, ...interface{})  {}
func (n *noopLogger) Fatal(string, ...interface{})  {}
func (n *noopLogger) With(...interface{}) core.ILogger { return n }

func newTestContext() *Context {
	symbols := map[string]SymbolCurrencies{"BTCUSDT": {Base: "BTC", Quote: "USDT"}}
	balances := map[string]decimal.Decimal{"USDT": decimal.NewFromInt(100000), "BTC": decimal.Zero}
	return New(balances, symbols, PercentageFee{Rate: decimal.Zero}, nil, nil, 1, &noopLogger{})
}

func TestContext_LimitBuyFillsWhenPriceDropsToOrBelowLimit(t *testing.T) {
	c := newTestContext()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c.SetMarketState(ts, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)}, nil)
	limit := decimal.NewFromInt(49000)
	id, err := c.PlaceOrder(context.Background(), "BTCUSDT", core.Buy, decimal.NewFromFloat(1), &limit, core.Limit)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	fills := c.SetMarketState(ts.Add(time.Minute), map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)}, nil)
	assert.Empty(t, fills, "price above limit must not fill")

	fills = c.SetMarketState(ts.Add(2*time.Minute), map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(48500)}, nil)
	require.Len(t, fills, 1)
	assert.Equal(t, core.Buy, fills[0].Side)
	assert.True(t, fills[0].Price.Equal(limit))

	pos, ok := c.GetPosition("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pos.Equal(decimal.NewFromFloat(1)))
}

func TestContext_LimitSellFillsWhenPriceRisesToOrAboveLimit(t *testing.T) {
	c := newTestContext()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.SetMarketState(ts, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)}, nil)

	limit := decimal.NewFromInt(51000)
	_, err := c.PlaceOrder(context.Background(), "BTCUSDT", core.Sell, decimal.NewFromFloat(1), &limit, core.Limit)
	require.NoError(t, err)

	fills := c.SetMarketState(ts.Add(time.Minute), map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(51500)}, nil)
	require.Len(t, fills, 1)
	assert.Equal(t, core.Sell, fills[0].Side)
}

func TestContext_LatencyDelaysFillUntilReadyAt(t *testing.T) {
	symbols := map[string]SymbolCurrencies{"BTCUSDT": {Base: "BTC", Quote: "USDT"}}
	balances := map[string]decimal.Decimal{"USDT": decimal.NewFromInt(100000)}
	latency := &LatencyModel{MinMS: 5000, MaxMS: 5000}
	c := New(balances, symbols, PercentageFee{Rate: decimal.Zero}, nil, latency, 2, &noopLogger{})

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.SetMarketState(ts, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)}, nil)

	market := decimal.Zero
	_, err := c.PlaceOrder(context.Background(), "BTCUSDT", core.Buy, decimal.NewFromFloat(1), &market, core.Market)
	require.NoError(t, err)

	fills := c.SetMarketState(ts.Add(2*time.Second), map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)}, nil)
	assert.Empty(t, fills, "order not yet ready due to latency")

	fills = c.SetMarketState(ts.Add(6*time.Second), map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)}, nil)
	assert.Len(t, fills, 1)
}

var _ core.ILogger = (*noopLogger)(nil)
