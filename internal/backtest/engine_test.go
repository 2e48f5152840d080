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

// buyOnceStrategy places a single limit buy on Initialize and records
// every tick/fill it observes, enough to exercise Run.Execute end to end.
type buyOnceStrategy struct {
	symbol string
	ticks  int
	fills  []core.Order
	placed bool
}

func (s *buyOnceStrategy) Name() string   { return "buy-once" }
func (s *buyOnceStrategy) Symbol() string { return s.symbol }
func (s *buyOnceStrategy) Initialize(ctx context.Context, ec core.IExecutionContext) error {
	limit := decimal.NewFromInt(99)
	_, err := ec.PlaceOrder(ctx, s.symbol, core.Buy, decimal.NewFromInt(1), &limit, core.Limit)
	s.placed = err == nil
	return err
}
func (s *buyOnceStrategy) OnTick(ctx context.Context, t core.Ticker) error {
	s.ticks++
	return nil
}
func (s *buyOnceStrategy) OnOrderFilled(ctx context.Context, o core.Order) error {
	s.fills = append(s.fills, o)
	return nil
}
func (s *buyOnceStrategy) OnOrderCancelled(ctx context.Context, o core.Order) error { return nil }
func (s *buyOnceStrategy) GetState() (core.StrategySnapshot, error)                 { return core.StrategySnapshot{}, nil }
func (s *buyOnceStrategy) Shutdown(ctx context.Context) error                       { return nil }

func TestRunExecute_DrivesStrategyAcrossBarsAndDeliversFill(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []Bar{
		{Symbol: "BTCUSDT", Candle: core.Candle{Timestamp: start, Close: decimal.NewFromInt(100), Volume: decimal.NewFromInt(10)}},
		{Symbol: "BTCUSDT", Candle: core.Candle{Timestamp: start.Add(time.Hour), Close: decimal.NewFromInt(98), Volume: decimal.NewFromInt(10)}},
		{Symbol: "BTCUSDT", Candle: core.Candle{Timestamp: start.Add(2 * time.Hour), Close: decimal.NewFromInt(101), Volume: decimal.NewFromInt(10)}},
	}
	symbols := map[string]SymbolCurrencies{"BTCUSDT": {Base: "BTC", Quote: "USDT"}}
	balances := map[string]decimal.Decimal{"USDT": decimal.NewFromInt(10000)}
	execCtx := New(balances, symbols, PercentageFee{Rate: decimal.Zero}, nil, nil, 3, &noopLogger{})

	strategy := &buyOnceStrategy{symbol: "BTCUSDT"}
	run := &Run{Strategy: strategy, Context: execCtx, Bars: bars, Logger: &noopLogger{}}

	result, err := run.Execute(context.Background())
	require.NoError(t, err)

	assert.True(t, strategy.placed)
	assert.Equal(t, 3, strategy.ticks)
	require.Len(t, strategy.fills, 1)
	assert.True(t, strategy.fills[0].Price.Equal(decimal.NewFromInt(99)))
	assert.Len(t, result.EquityCurve, 3)
}
