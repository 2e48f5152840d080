package backtest

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// Bar is one OHLCV candle for a tracked symbol, fed to the engine in
// chronological order by Run.
type Bar struct {
	Symbol string
	Candle core.Candle
}

// Run is one complete backtest: a strategy driven bar-by-bar over a
// multi-symbol, time-sorted OHLCV series.
type Run struct {
	Strategy core.IStrategy
	Context  *Context
	Bars     []Bar
	Logger   core.ILogger
}

// Result bundles everything Run produces for metrics.go to consume.
type Result struct {
	EquityCurve []core.EquityPoint
	Fills       []core.Order
}

// Execute sorts Bars chronologically, groups same-timestamp bars across
// symbols into one market-state update, and for each bar: advances the
// simulated execution context (filling any resting orders the price
// move crosses), synthesizes a Ticker the way a live websocket would
// deliver one, and calls the strategy's OnTick and OnOrderFilled hooks.
func (r *Run) Execute(ctx context.Context) (Result, error) {
	if err := r.Strategy.Initialize(ctx, r.Context); err != nil {
		return Result{}, fmt.Errorf("initialize strategy: %w", err)
	}

	sorted := make([]Bar, len(r.Bars))
	copy(sorted, r.Bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Candle.Timestamp.Before(sorted[j].Candle.Timestamp)
	})

	var allFills []core.Order

	i := 0
	for i < len(sorted) {
		ts := sorted[i].Candle.Timestamp
		prices := make(map[string]decimal.Decimal)
		volumes := make(map[string]decimal.Decimal)
		j := i
		for j < len(sorted) && sorted[j].Candle.Timestamp.Equal(ts) {
			prices[sorted[j].Symbol] = sorted[j].Candle.Close
			volumes[sorted[j].Symbol] = sorted[j].Candle.Volume
			j++
		}

		fills := r.Context.SetMarketState(ts, prices, volumes)
		for _, f := range fills {
			if err := r.Strategy.OnOrderFilled(ctx, f); err != nil {
				return Result{}, fmt.Errorf("strategy fill handling at %s: %w", ts, err)
			}
		}
		allFills = append(allFills, fills...)

		for sym, price := range prices {
			spread := price.Mul(decimal.NewFromFloat(0.0001))
			tick := core.Ticker{
				Symbol:    sym,
				Bid:       price.Sub(spread),
				Ask:       price.Add(spread),
				Last:      price,
				Timestamp: ts,
			}
			if err := r.Strategy.OnTick(ctx, tick); err != nil {
				return Result{}, fmt.Errorf("strategy tick handling at %s: %w", ts, err)
			}
		}

		i = j
	}

	if err := r.Strategy.Shutdown(ctx); err != nil {
		r.Logger.Warn("strategy shutdown returned error", "error", err)
	}

	return Result{EquityCurve: r.Context.EquityCurve(), Fills: allFills}, nil
}
