// Package exchange holds exchange-agnostic decorators over core.IExchange:
// the dry-run decorator and a REST-polling fallback for the websocket
// handler (C4) when a venue lacks push support.
package exchange

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// DryRunExchange wraps any core.IExchange and fabricates synthetic order
// acknowledgements instead of calling the network, used when
// TRADING__DRY_RUN=true. Market data reads still hit the underlying
// exchange so strategies see real prices. This mirrors the "mock" exchange
// mode the original multi-exchange system exposed (SPEC_FULL.md C2/C3).
type DryRunExchange struct {
	underlying core.IExchange
	logger     core.ILogger
	seq        int64
}

// NewDryRunExchange wraps exch so every order-mutating call is logged and
// simulated instead of sent.
func NewDryRunExchange(exch core.IExchange, logger core.ILogger) *DryRunExchange {
	return &DryRunExchange{underlying: exch, logger: logger.With("component", "dry_run_exchange")}
}

func (d *DryRunExchange) Name() string { return d.underlying.Name() + "-dryrun" }

// Connect forwards to the underlying exchange's Connect method, if it has
// one, so wrapping a connectable adapter in dry-run mode still performs the
// clock-sync/market-load preflight against real market data.
func (d *DryRunExchange) Connect(ctx context.Context) error {
	if c, ok := d.underlying.(interface{ Connect(context.Context) error }); ok {
		return c.Connect(ctx)
	}
	return nil
}

func (d *DryRunExchange) FetchTicker(ctx context.Context, symbol string) (core.Ticker, error) {
	return d.underlying.FetchTicker(ctx, symbol)
}

func (d *DryRunExchange) FetchBalance(ctx context.Context) (map[string]core.Balance, error) {
	return d.underlying.FetchBalance(ctx)
}

func (d *DryRunExchange) CreateOrder(ctx context.Context, symbol string, side core.OrderSide, orderType core.OrderType, amount decimal.Decimal, price *decimal.Decimal) (core.Order, error) {
	id := atomic.AddInt64(&d.seq, 1)
	order := core.Order{
		ExchangeOrderID: fmt.Sprintf("dryrun-%d", id),
		Symbol:          symbol,
		Side:            side,
		Type:            orderType,
		Status:          core.OrderOpen,
		Amount:          amount,
		Remaining:       amount,
		Timestamp:       time.Now(),
	}
	if price != nil {
		order.Price = *price
	}
	d.logger.Info("dry-run order acknowledged",
		"order_id", order.ExchangeOrderID, "symbol", symbol, "side", side, "type", orderType, "amount", amount)
	return order, nil
}

func (d *DryRunExchange) CancelOrder(ctx context.Context, orderID, symbol string) (core.Order, error) {
	d.logger.Info("dry-run order canceled", "order_id", orderID, "symbol", symbol)
	return core.Order{ExchangeOrderID: orderID, Symbol: symbol, Status: core.OrderCanceled, Timestamp: time.Now()}, nil
}

func (d *DryRunExchange) FetchOrder(ctx context.Context, orderID, symbol string) (core.Order, error) {
	return core.Order{ExchangeOrderID: orderID, Symbol: symbol, Status: core.OrderOpen, Timestamp: time.Now()}, nil
}

func (d *DryRunExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return nil, nil
}

func (d *DryRunExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	return d.underlying.FetchOHLCV(ctx, symbol, timeframe, limit)
}

func (d *DryRunExchange) FetchMyTrades(ctx context.Context, symbol string, limit int) ([]core.TradeCycle, error) {
	return nil, nil
}

func (d *DryRunExchange) GetSymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	return d.underlying.GetSymbolInfo(ctx, symbol)
}

var _ core.IExchange = (*DryRunExchange)(nil)
