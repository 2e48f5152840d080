// Package execution provides the live core.IExecutionContext variant
// (spec section 4.6, C7): a thin, auditable adapter between a strategy and
// the real exchange + persistence layers. The backtest variant lives in
// internal/backtest since its fill simulation is tightly coupled to the
// fee/slippage/latency models there.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// Live implements core.IExecutionContext against a real exchange adapter,
// persisting every order mutation so the orchestrator's reconciler has a
// durable record to reconcile against on restart.
type Live struct {
	exchange core.IExchange
	store    core.IPersistence
	logger   core.ILogger

	mu        sync.RWMutex
	positions map[string]decimal.Decimal // symbol -> signed net base quantity
}

// New builds a live execution context over exchange and store.
func New(exchange core.IExchange, store core.IPersistence, logger core.ILogger) *Live {
	return &Live{
		exchange:  exchange,
		store:     store,
		logger:    logger.With("component", "live_execution_context"),
		positions: make(map[string]decimal.Decimal),
	}
}

func (l *Live) CurrentTimestamp() time.Time { return time.Now() }
func (l *Live) IsLive() bool                { return true }

func (l *Live) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t, err := l.exchange.FetchTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get current price: %w", err)
	}
	if t.Last.IsPositive() {
		return t.Last, nil
	}
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2)), nil
}

func (l *Live) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	balances, err := l.exchange.FetchBalance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	b, ok := balances[currency]
	if !ok {
		return decimal.Zero, nil
	}
	return b.Free, nil
}

func (l *Live) GetPosition(symbol string) (decimal.Decimal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// RecordFill updates the in-memory net position for symbol. The
// orchestrator calls this from the order-update pipeline (C4 callback or
// reconciler) after an order is confirmed filled, since core.IStrategy's
// OnOrderFilled operates on the strategy, not the execution context.
func (l *Live) RecordFill(symbol string, side core.OrderSide, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delta := amount
	if side == core.Sell {
		delta = amount.Neg()
	}
	l.positions[symbol] = l.positions[symbol].Add(delta)
}

func (l *Live) PlaceOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, price *decimal.Decimal, orderType core.OrderType) (string, error) {
	order, err := l.exchange.CreateOrder(ctx, symbol, side, orderType, amount, price)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if l.store != nil {
		if err := l.store.UpsertOrder(ctx, order, 0); err != nil {
			l.logger.Error("persist placed order failed", "order_id", order.ExchangeOrderID, "error", err)
		}
	}
	return order.ExchangeOrderID, nil
}

func (l *Live) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	order, err := l.exchange.CancelOrder(ctx, orderID, symbol)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	if l.store != nil {
		if err := l.store.UpsertOrder(ctx, order, 0); err != nil {
			l.logger.Error("persist canceled order failed", "order_id", orderID, "error", err)
		}
	}
	return true, nil
}

func (l *Live) GetOrderStatus(ctx context.Context, orderID, symbol string) (core.OrderSummary, error) {
	order, err := l.exchange.FetchOrder(ctx, orderID, symbol)
	if err != nil {
		return core.OrderSummary{}, fmt.Errorf("get order status: %w", err)
	}
	return core.OrderSummary{ID: order.ExchangeOrderID, Status: order.Status, Filled: order.Filled, Remaining: order.Remaining, Price: order.Price, Fee: order.Fee}, nil
}

func (l *Live) GetOpenOrders(ctx context.Context, symbol string) ([]core.OrderSummary, error) {
	orders, err := l.exchange.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	out := make([]core.OrderSummary, len(orders))
	for i, o := range orders {
		out[i] = core.OrderSummary{ID: o.ExchangeOrderID, Status: o.Status, Filled: o.Filled, Remaining: o.Remaining, Price: o.Price, Fee: o.Fee}
	}
	return out, nil
}

var _ core.IExecutionContext = (*Live)(nil)
