// Package backtest implements the event-driven backtest engine (spec
// section 4.16, C17): a simulated core.IExecutionContext driving a
// strategy over historical OHLCV bars, with configurable fee, slippage,
// and latency models, plus a metrics suite and optimizer. Fill-on-cross
// logic is grounded on the teacher's SimulatedExchange
// (market_maker/internal/trading/backtest/exchange.go): a resting buy
// fills when price crosses at-or-below its limit, a resting sell when
// price crosses at-or-above.
package backtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// SymbolCurrencies maps a trading symbol to the base/quote currencies
// GetBalance/PlaceOrder settle against.
type SymbolCurrencies struct {
	Base  string
	Quote string
}

type pendingOrder struct {
	id        string
	symbol    string
	side      core.OrderSide
	orderType core.OrderType
	amount    decimal.Decimal
	price     decimal.Decimal
	placedAt  time.Time
	readyAt   time.Time
}

// Context is the simulated execution context for one backtest run.
type Context struct {
	logger    core.ILogger
	fee       FeeModel
	slippage  SlippageModel
	latency   *LatencyModel
	rng       *rand.Rand
	symbols   map[string]SymbolCurrencies

	mu         sync.Mutex
	now        time.Time
	prices     map[string]decimal.Decimal
	volumes    map[string]decimal.Decimal
	balances   map[string]decimal.Decimal
	positions  map[string]decimal.Decimal
	openOrders map[string]*pendingOrder
	seq        int

	equityCurve []core.EquityPoint
}

// New builds a backtest execution context. seed makes slippage/latency
// draws reproducible across repeated runs with identical inputs.
func New(initialBalances map[string]decimal.Decimal, symbols map[string]SymbolCurrencies, fee FeeModel, slippage SlippageModel, latency *LatencyModel, seed int64, logger core.ILogger) *Context {
	balances := make(map[string]decimal.Decimal, len(initialBalances))
	for k, v := range initialBalances {
		balances[k] = v
	}
	return &Context{
		logger:     logger.With("component", "backtest_context"),
		fee:        fee,
		slippage:   slippage,
		latency:    latency,
		rng:        rand.New(rand.NewSource(seed)),
		symbols:    symbols,
		prices:     make(map[string]decimal.Decimal),
		volumes:    make(map[string]decimal.Decimal),
		balances:   balances,
		positions:  make(map[string]decimal.Decimal),
		openOrders: make(map[string]*pendingOrder),
	}
}

// SetMarketState advances simulated time, updates the per-symbol price and
// volume state, and evaluates resting orders that are no longer delayed
// by the latency model.
func (c *Context) SetMarketState(ts time.Time, prices, volumes map[string]decimal.Decimal) []core.Order {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = ts
	for sym, p := range prices {
		c.prices[sym] = p
	}
	for sym, v := range volumes {
		c.volumes[sym] = v
	}

	equity := c.equityLocked()
	c.equityCurve = append(c.equityCurve, core.EquityPoint{Timestamp: ts, Equity: equity})

	return c.evaluateOrdersLocked()
}

// equityLocked marks every held currency to market in quote terms: base
// currencies (those named as a SymbolCurrencies.Base) are converted using
// that symbol's last price, everything else is assumed already
// quote-denominated and added at face value.
func (c *Context) equityLocked() decimal.Decimal {
	baseToSymbol := make(map[string]string, len(c.symbols))
	for sym, pair := range c.symbols {
		baseToSymbol[pair.Base] = sym
	}

	total := decimal.Zero
	for currency, bal := range c.balances {
		if bal.IsZero() {
			continue
		}
		if sym, ok := baseToSymbol[currency]; ok {
			if price, ok := c.prices[sym]; ok {
				total = total.Add(bal.Mul(price))
				continue
			}
		}
		total = total.Add(bal)
	}
	return total
}

func (c *Context) evaluateOrdersLocked() []core.Order {
	var ids []string
	for id := range c.openOrders {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic evaluation order

	var filled []core.Order
	for _, id := range ids {
		o := c.openOrders[id]
		if c.now.Before(o.readyAt) {
			continue
		}
		price, ok := c.prices[o.symbol]
		if !ok {
			continue
		}

		crosses := o.orderType == core.Market
		if o.orderType == core.Limit {
			if o.side == core.Buy {
				crosses = price.LessThanOrEqual(o.price)
			} else {
				crosses = price.GreaterThanOrEqual(o.price)
			}
		}
		if !crosses {
			continue
		}

		reference := price
		if o.orderType == core.Limit {
			reference = o.price
		}
		volume := c.volumes[o.symbol]
		fillPrice := reference
		if c.slippage != nil {
			fillPrice = c.slippage.Adjust(o.side, reference, o.amount, volume, c.rng)
		}

		notional := fillPrice.Mul(o.amount)
		fee := decimal.Zero
		if c.fee != nil {
			fee = c.fee.Fee(notional)
			if tiered, ok := c.fee.(*TieredFee); ok {
				tiered.RecordNotional(c.now, notional)
			}
		}

		c.settle(o, fillPrice, fee)

		filled = append(filled, core.Order{
			ExchangeOrderID: o.id, Symbol: o.symbol, Side: o.side, Type: o.orderType, Status: core.OrderClosed,
			Price: fillPrice, Amount: o.amount, Filled: o.amount, Remaining: decimal.Zero, Cost: notional, Fee: fee,
			Timestamp: c.now,
		})
		delete(c.openOrders, id)
	}
	return filled
}

func (c *Context) settle(o *pendingOrder, fillPrice, fee decimal.Decimal) {
	pair, ok := c.symbols[o.symbol]
	if !ok {
		return
	}
	notional := fillPrice.Mul(o.amount)
	if o.side == core.Buy {
		c.balances[pair.Quote] = c.balances[pair.Quote].Sub(notional).Sub(fee)
		c.balances[pair.Base] = c.balances[pair.Base].Add(o.amount)
		c.positions[o.symbol] = c.positions[o.symbol].Add(o.amount)
	} else {
		c.balances[pair.Quote] = c.balances[pair.Quote].Add(notional).Sub(fee)
		c.balances[pair.Base] = c.balances[pair.Base].Sub(o.amount)
		c.positions[o.symbol] = c.positions[o.symbol].Sub(o.amount)
	}
}

func (c *Context) CurrentTimestamp() time.Time { return c.now }
func (c *Context) IsLive() bool                { return false }

func (c *Context) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no market state for %s yet", symbol)
	}
	return p, nil
}

func (c *Context) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[currency], nil
}

func (c *Context) GetPosition(symbol string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[symbol]
	return p, ok
}

func (c *Context) PlaceOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal, price *decimal.Decimal, orderType core.OrderType) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	id := fmt.Sprintf("bt-%d", c.seq)
	readyAt := c.now
	if c.latency != nil {
		readyAt = c.now.Add(c.latency.Delay(c.rng))
	}
	p := decimal.Zero
	if price != nil {
		p = *price
	}
	c.openOrders[id] = &pendingOrder{id: id, symbol: symbol, side: side, orderType: orderType, amount: amount, price: p, placedAt: c.now, readyAt: readyAt}
	return id, nil
}

func (c *Context) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.openOrders[orderID]; !ok {
		return false, nil
	}
	delete(c.openOrders, orderID)
	return true, nil
}

func (c *Context) GetOrderStatus(ctx context.Context, orderID, symbol string) (core.OrderSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.openOrders[orderID]
	if !ok {
		return core.OrderSummary{ID: orderID, Status: core.OrderClosed}, nil
	}
	return core.OrderSummary{ID: o.id, Status: core.OrderOpen, Remaining: o.amount, Price: o.price}, nil
}

func (c *Context) GetOpenOrders(ctx context.Context, symbol string) ([]core.OrderSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.OrderSummary
	for _, o := range c.openOrders {
		if symbol != "" && o.symbol != symbol {
			continue
		}
		out = append(out, core.OrderSummary{ID: o.id, Status: core.OrderOpen, Remaining: o.amount, Price: o.price})
	}
	return out, nil
}

// EquityCurve returns the equity samples recorded by SetMarketState.
func (c *Context) EquityCurve() []core.EquityPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.EquityPoint, len(c.equityCurve))
	copy(out, c.equityCurve)
	return out
}

var _ core.IExecutionContext = (*Context)(nil)
