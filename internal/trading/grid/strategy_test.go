package grid

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensqt/gridbot/internal/core"
)

// fakeExecutionContext is a minimal in-memory core.IExecutionContext for
// strategy tests: every PlaceOrder call succeeds immediately and returns a
// sequential order id.
type fakeExecutionContext struct {
	seq     int
	price   decimal.Decimal
	balance decimal.Decimal
	placed  []placedOrder
}

type placedOrder struct {
	Symbol string
	Side   core.OrderSide
	Amount decimal.Decimal
	Price  decimal.Decimal
}

func (f *fakeExecutionContext) CurrentTimestamp() time.Time { return time.Now() }
func (f *fakeExecutionContext) IsLive() bool                { return false }
func (f *fakeExecutionContext) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.price, nil
}
func (f *fakeExecutionContext) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	return f.balance, nil
}
func (f *fakeExecutionContext) GetPosition(symbol string) (decimal.Decimal, bool) {
	return decimal.Zero, false
}
func (f *fakeExecutionContext) PlaceOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, price *decimal.Decimal, orderType core.OrderType) (string, error) {
	f.seq++
	p := decimal.Zero
	if price != nil {
		p = *price
	}
	f.placed = append(f.placed, placedOrder{Symbol: symbol, Side: side, Amount: amount, Price: p})
	return fmt.Sprintf("order-%d", f.seq), nil
}
func (f *fakeExecutionContext) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	return true, nil
}
func (f *fakeExecutionContext) GetOrderStatus(ctx context.Context, orderID, symbol string) (core.OrderSummary, error) {
	return core.OrderSummary{}, nil
}
func (f *fakeExecutionContext) GetOpenOrders(ctx context.Context, symbol string) ([]core.OrderSummary, error) {
	return nil, nil
}

var _ core.IExecutionContext = (*fakeExecutionContext)(nil)

// flatSizer always returns a fixed quantity, isolating ladder/flip tests
// from position-sizer behavior.
type flatSizer struct{ qty decimal.Decimal }

func (f flatSizer) Size(balance, entry, stop decimal.Decimal) (decimal.Decimal, error) {
	return f.qty, nil
}

func testConfig() Config {
	return Config{
		Symbol:        "BTCUSDT",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
		LowerPrice:    decimal.NewFromInt(90),
		UpperPrice:    decimal.NewFromInt(110),
		NumGrids:      11,
		Spacing:       Arithmetic,
		Mode:          ModeLong,
	}
}

func nopLogger() core.ILogger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}
func (l noopLogger) With(...interface{}) core.ILogger { return l }

func TestBuildLadder_ArithmeticSpacingIsEqual(t *testing.T) {
	cfg := testConfig()
	levels := buildLadder(cfg, decimal.Zero)
	require.Len(t, levels, 11)

	for i, lvl := range levels {
		assert.True(t, !lvl.Price.LessThan(cfg.LowerPrice) && !lvl.Price.GreaterThan(cfg.UpperPrice), "level %d price %s out of [%s,%s]", i, lvl.Price, cfg.LowerPrice, cfg.UpperPrice)
	}

	step := levels[1].Price.Sub(levels[0].Price)
	for i := 1; i < len(levels)-1; i++ {
		delta := levels[i+1].Price.Sub(levels[i].Price)
		assert.True(t, delta.Sub(step).Abs().LessThan(decimal.NewFromFloat(0.0001)), "arithmetic spacing not equal at index %d", i)
	}
}

func TestBuildLadder_GeometricSpacingIsEqualRatio(t *testing.T) {
	cfg := testConfig()
	cfg.Spacing = Geometric
	levels := buildLadder(cfg, decimal.Zero)
	require.Len(t, levels, 11)

	ratio := levels[1].Price.Div(levels[0].Price)
	for i := 1; i < len(levels)-1; i++ {
		r := levels[i+1].Price.Div(levels[i].Price)
		assert.True(t, r.Sub(ratio).Abs().LessThan(decimal.NewFromFloat(0.0001)), "geometric ratio not equal at index %d", i)
	}
}

func TestConfigValidate_RejectsOutOfRangeNumGrids(t *testing.T) {
	cfg := testConfig()
	cfg.NumGrids = 2
	_, err := cfg.Validate(decimal.Zero)
	assert.Error(t, err)
}

func TestConfigValidate_WarnsOnWideRangeAndFewLevels(t *testing.T) {
	cfg := testConfig()
	cfg.NumGrids = 3
	cfg.UpperPrice = decimal.NewFromInt(400)
	warnings, err := cfg.Validate(decimal.Zero)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
}

func TestInitialize_PlacesBuysBelowCurrentPriceOnly(t *testing.T) {
	cfg := testConfig()
	strat, err := New(cfg, flatSizer{qty: decimal.NewFromInt(1)}, nil, decimal.Zero, nopLogger())
	require.NoError(t, err)

	ec := &fakeExecutionContext{price: decimal.NewFromInt(100), balance: decimal.NewFromInt(10000)}
	require.NoError(t, strat.Initialize(context.Background(), ec))

	for _, p := range ec.placed {
		assert.Equal(t, core.Buy, p.Side)
		assert.True(t, p.Price.LessThan(decimal.NewFromInt(100)))
	}
	assert.NotEmpty(t, ec.placed)
}

func TestOnBuyFilled_FlipsToSellOneLevelUp(t *testing.T) {
	cfg := testConfig()
	strat, err := New(cfg, flatSizer{qty: decimal.NewFromInt(1)}, nil, decimal.Zero, nopLogger())
	require.NoError(t, err)

	ec := &fakeExecutionContext{price: decimal.NewFromInt(100), balance: decimal.NewFromInt(10000)}
	require.NoError(t, strat.Initialize(context.Background(), ec))

	// Level index 4 is price 98 (lower=90, step=2, the highest level below
	// the current price of 100); simulate its buy filling.
	buyOrderID := strat.levels[4].BoundOrder
	require.NotEmpty(t, buyOrderID)

	fill := core.Order{ExchangeOrderID: buyOrderID, Symbol: cfg.Symbol, Side: core.Buy, Status: core.OrderClosed, Price: decimal.NewFromInt(98), Amount: decimal.NewFromInt(1), Filled: decimal.NewFromInt(1)}
	require.NoError(t, strat.OnOrderFilled(context.Background(), fill))

	assert.Equal(t, core.LevelFilled, strat.levels[4].Status)
	assert.Equal(t, core.LevelOpen, strat.levels[5].Status)
	assert.Equal(t, core.Sell, strat.levels[5].Side)
	require.Len(t, strat.openQueue, 1)
	assert.Equal(t, decimal.NewFromInt(98), strat.openQueue[0].EntryPrice)
}

func TestOnSellFilled_ClosesFIFOOldestBuyAndFlipsDown(t *testing.T) {
	cfg := testConfig()
	strat, err := New(cfg, flatSizer{qty: decimal.NewFromInt(1)}, nil, decimal.Zero, nopLogger())
	require.NoError(t, err)

	ec := &fakeExecutionContext{price: decimal.NewFromInt(100), balance: decimal.NewFromInt(10000)}
	require.NoError(t, strat.Initialize(context.Background(), ec))

	buyOrderID := strat.levels[4].BoundOrder
	fill := core.Order{ExchangeOrderID: buyOrderID, Symbol: cfg.Symbol, Side: core.Buy, Status: core.OrderClosed, Price: decimal.NewFromInt(98), Amount: decimal.NewFromInt(1), Filled: decimal.NewFromInt(1)}
	require.NoError(t, strat.OnOrderFilled(context.Background(), fill))

	sellOrderID := strat.levels[5].BoundOrder
	sellFill := core.Order{ExchangeOrderID: sellOrderID, Symbol: cfg.Symbol, Side: core.Sell, Status: core.OrderClosed, Price: decimal.NewFromInt(100), Amount: decimal.NewFromInt(1), Filled: decimal.NewFromInt(1)}
	require.NoError(t, strat.OnOrderFilled(context.Background(), sellFill))

	assert.Empty(t, strat.openQueue)
	assert.Equal(t, 1, strat.completedCycles)
	assert.True(t, strat.runningProfit.Equal(decimal.NewFromInt(2)), "expected profit of 2, got %s", strat.runningProfit)
	assert.Equal(t, core.LevelOpen, strat.levels[4].Status)
	assert.Equal(t, core.Buy, strat.levels[4].Side)
}

func TestSnapshotRoundTrip_PreservesLadderIdentity(t *testing.T) {
	cfg := testConfig()
	strat, err := New(cfg, flatSizer{qty: decimal.NewFromInt(1)}, nil, decimal.Zero, nopLogger())
	require.NoError(t, err)

	ec := &fakeExecutionContext{price: decimal.NewFromInt(100), balance: decimal.NewFromInt(10000)}
	require.NoError(t, strat.Initialize(context.Background(), ec))

	snap, err := strat.GetState()
	require.NoError(t, err)

	restored, err := Restore(snap, flatSizer{qty: decimal.NewFromInt(1)}, nil, decimal.Zero, nopLogger())
	require.NoError(t, err)

	assert.Equal(t, strat.levels, restored.levels)
	assert.Equal(t, strat.completedCycles, restored.completedCycles)
	assert.True(t, strat.runningProfit.Equal(restored.runningProfit))
}
