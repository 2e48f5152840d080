// Package binance implements the exchange protocol (C2) against Binance
// spot via the adshao/go-binance/v2 SDK: market metadata, clock-skew
// correction, filter validation/rounding, retries and error mapping
// (spec section 4.2).
package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
	apperrors "github.com/opensqt/gridbot/pkg/errors"
	"github.com/opensqt/gridbot/pkg/retry"
)

// clockResyncInterval re-synchronizes the server clock offset once it is
// this stale, invoked before any signed operation per spec section 4.2.
const clockResyncInterval = 300 * time.Second

// Config parameterizes the adapter's connection to Binance.
type Config struct {
	APIKey      string
	APISecret   string
	Testnet     bool
	RecvWindow  int64 // ms, defaults to 60000
	RetryPolicy retry.Policy
}

// Adapter implements core.IExchange against Binance spot. It is safe for
// concurrent reads; the Binance SDK itself serializes nothing, so callers
// that require per-symbol write serialization must do so above this layer.
type Adapter struct {
	client     *gobinance.Client
	logger     core.ILogger
	recvWindow int64
	retry      retry.Policy

	mu          sync.RWMutex
	clockOffset time.Duration
	lastSync    time.Time
	symbols     map[string]core.SymbolInfo
}

// NewAdapter builds an unconnected adapter; call Connect before use.
func NewAdapter(cfg Config, logger core.ILogger) *Adapter {
	client := gobinance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.Testnet {
		client.BaseURL = "https://testnet.binance.vision"
	}

	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 {
		recvWindow = 60000
	}

	policy := cfg.RetryPolicy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy
	}

	return &Adapter{
		client:     client,
		logger:     logger.With("component", "binance_adapter"),
		recvWindow: recvWindow,
		retry:      policy,
		symbols:    make(map[string]core.SymbolInfo),
	}
}

func (a *Adapter) Name() string { return "binance" }

// Connect runs the pre-flight from spec section 4.2: synchronize the clock
// with one server-time round trip (storing the offset), then load market
// metadata.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.syncClock(ctx); err != nil {
		return fmt.Errorf("clock sync: %w", err)
	}
	if err := a.loadMarkets(ctx); err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	return nil
}

func (a *Adapter) syncClock(ctx context.Context) error {
	before := time.Now()
	serverMs, err := a.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return a.mapError(err)
	}
	rtt := time.Since(before)
	serverTime := time.UnixMilli(serverMs)
	localEstimate := before.Add(rtt / 2)

	a.mu.Lock()
	a.clockOffset = serverTime.Sub(localEstimate)
	// The SDK subtracts TimeOffset (local minus server, in ms) from the
	// timestamp of every signed request.
	a.client.TimeOffset = -a.clockOffset.Milliseconds()
	a.lastSync = time.Now()
	a.mu.Unlock()
	return nil
}

// ensureClockFresh re-syncs if more than clockResyncInterval has elapsed,
// invoked before any signed operation that carries a timestamp.
func (a *Adapter) ensureClockFresh(ctx context.Context) error {
	a.mu.RLock()
	stale := time.Since(a.lastSync) > clockResyncInterval
	a.mu.RUnlock()
	if !stale {
		return nil
	}
	return a.syncClock(ctx)
}

func (a *Adapter) loadMarkets(ctx context.Context) error {
	info, err := a.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return a.mapError(err)
	}

	symbols := make(map[string]core.SymbolInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		si := core.SymbolInfo{Symbol: s.Symbol}

		if lot := s.LotSizeFilter(); lot != nil {
			si.MinQty = parseDecimal(lot.MinQuantity)
			si.MaxQty = parseDecimal(lot.MaxQuantity)
			si.StepSize = parseDecimal(lot.StepSize)
		}
		if pf := s.PriceFilter(); pf != nil {
			si.MinPrice = parseDecimal(pf.MinPrice)
			si.MaxPrice = parseDecimal(pf.MaxPrice)
			si.TickSize = parseDecimal(pf.TickSize)
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			si.MinNotional = parseDecimal(mn.MinNotional)
		}

		si.PricePrec = int32(s.QuotePrecision)
		si.QtyPrec = int32(s.BaseAssetPrecision)

		symbols[s.Symbol] = si
	}

	a.mu.Lock()
	a.symbols = symbols
	a.mu.Unlock()
	return nil
}

// GetSymbolInfo returns the cached market metadata for a symbol.
func (a *Adapter) GetSymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	a.mu.RLock()
	si, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if !ok {
		return core.SymbolInfo{}, apperrors.New(apperrors.KindInvalidOrder, "binance", fmt.Errorf("unknown symbol %s", symbol))
	}
	return si, nil
}

func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (core.Ticker, error) {
	var out core.Ticker
	err := retry.Do(ctx, a.retry, nil, func() error {
		bt, err := a.client.NewBookTickerService().Symbol(symbol).Do(ctx)
		if err != nil {
			return a.mapError(err)
		}
		prices, err := a.client.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return a.mapError(err)
		}
		var last decimal.Decimal
		if len(prices) > 0 {
			last = parseDecimal(prices[0].Price)
		}
		out = core.Ticker{
			Symbol:    symbol,
			Bid:       parseDecimal(bt.BidPrice),
			Ask:       parseDecimal(bt.AskPrice),
			Last:      last,
			Timestamp: time.Now(),
		}
		return nil
	})
	return out, err
}

func (a *Adapter) FetchBalance(ctx context.Context) (map[string]core.Balance, error) {
	if err := a.ensureClockFresh(ctx); err != nil {
		return nil, err
	}

	out := make(map[string]core.Balance)
	err := retry.Do(ctx, a.retry, nil, func() error {
		acct, err := a.client.NewGetAccountService().Do(ctx, gobinance.WithRecvWindow(a.recvWindow))
		if err != nil {
			return a.mapError(err)
		}
		for _, b := range acct.Balances {
			free := parseDecimal(b.Free)
			locked := parseDecimal(b.Locked)
			out[b.Asset] = core.Balance{Free: free, Used: locked, Total: free.Add(locked)}
		}
		return nil
	})
	return out, err
}

// CreateOrder validates and rounds per-market (spec section 4.2) before
// placing the order; market orders must not carry a price.
func (a *Adapter) CreateOrder(ctx context.Context, symbol string, side core.OrderSide, orderType core.OrderType, amount decimal.Decimal, price *decimal.Decimal) (core.Order, error) {
	if err := a.ensureClockFresh(ctx); err != nil {
		return core.Order{}, err
	}

	if orderType == core.Market && price != nil {
		return core.Order{}, apperrors.New(apperrors.KindInvalidOrder, "binance", fmt.Errorf("market order must not carry a price"))
	}

	info, err := a.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return core.Order{}, err
	}

	roundedAmount, roundedPrice, err := validateAndRound(info, orderType, amount, price)
	if err != nil {
		return core.Order{}, apperrors.New(apperrors.KindInvalidOrder, "binance", err)
	}

	var out core.Order
	err = retry.Do(ctx, a.retry, nil, func() error {
		svc := a.client.NewCreateOrderService().
			Symbol(symbol).
			Side(toBinanceSide(side)).
			Type(toBinanceType(orderType)).
			Quantity(roundedAmount.String())

		if orderType == core.Limit {
			svc = svc.TimeInForce(gobinance.TimeInForceTypeGTC).Price(roundedPrice.String())
		}

		resp, err := svc.Do(ctx, gobinance.WithRecvWindow(a.recvWindow))
		if err != nil {
			return a.mapError(err)
		}
		out = fromCreateResponse(resp)
		return nil
	})
	return out, err
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) (core.Order, error) {
	if err := a.ensureClockFresh(ctx); err != nil {
		return core.Order{}, err
	}

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return core.Order{}, apperrors.New(apperrors.KindOrderNotFound, "binance", err)
	}

	var out core.Order
	err = retry.Do(ctx, a.retry, nil, func() error {
		resp, err := a.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx, gobinance.WithRecvWindow(a.recvWindow))
		if err != nil {
			return a.mapError(err)
		}
		out = core.Order{
			ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
			ClientOrderID:   resp.ClientOrderID,
			Symbol:          resp.Symbol,
			Side:            fromBinanceSide(resp.Side),
			Type:            fromBinanceType(resp.Type),
			Status:          fromBinanceStatus(resp.Status),
			Price:           parseDecimal(resp.Price),
			Amount:          parseDecimal(resp.OrigQuantity),
			Filled:          parseDecimal(resp.ExecutedQuantity),
			Timestamp:       time.Now(),
		}
		out.Remaining = out.Amount.Sub(out.Filled)
		return nil
	})
	return out, err
}

func (a *Adapter) FetchOrder(ctx context.Context, orderID, symbol string) (core.Order, error) {
	if err := a.ensureClockFresh(ctx); err != nil {
		return core.Order{}, err
	}

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return core.Order{}, apperrors.New(apperrors.KindOrderNotFound, "binance", err)
	}

	var out core.Order
	err = retry.Do(ctx, a.retry, nil, func() error {
		o, err := a.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx, gobinance.WithRecvWindow(a.recvWindow))
		if err != nil {
			return a.mapError(err)
		}
		out = fromSDKOrder(o)
		return nil
	})
	return out, err
}

func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	if err := a.ensureClockFresh(ctx); err != nil {
		return nil, err
	}

	var out []core.Order
	err := retry.Do(ctx, a.retry, nil, func() error {
		svc := a.client.NewListOpenOrdersService()
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		orders, err := svc.Do(ctx, gobinance.WithRecvWindow(a.recvWindow))
		if err != nil {
			return a.mapError(err)
		}
		out = make([]core.Order, 0, len(orders))
		for _, o := range orders {
			out = append(out, fromSDKOrder(o))
		}
		return nil
	})
	return out, err
}

func (a *Adapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	var out []core.Candle
	err := retry.Do(ctx, a.retry, nil, func() error {
		klines, err := a.client.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
		if err != nil {
			return a.mapError(err)
		}
		out = make([]core.Candle, 0, len(klines))
		for _, k := range klines {
			out = append(out, core.Candle{
				Timestamp: time.UnixMilli(k.OpenTime),
				Open:      parseDecimal(k.Open),
				High:      parseDecimal(k.High),
				Low:       parseDecimal(k.Low),
				Close:     parseDecimal(k.Close),
				Volume:    parseDecimal(k.Volume),
			})
		}
		return nil
	})
	return out, err
}

func (a *Adapter) FetchMyTrades(ctx context.Context, symbol string, limit int) ([]core.TradeCycle, error) {
	if err := a.ensureClockFresh(ctx); err != nil {
		return nil, err
	}

	var out []core.TradeCycle
	err := retry.Do(ctx, a.retry, nil, func() error {
		trades, err := a.client.NewListTradesService().Symbol(symbol).Limit(limit).Do(ctx, gobinance.WithRecvWindow(a.recvWindow))
		if err != nil {
			return a.mapError(err)
		}
		out = make([]core.TradeCycle, 0, len(trades))
		for _, t := range trades {
			side := core.Sell
			if t.IsBuyer {
				side = core.Buy
			}
			out = append(out, core.TradeCycle{
				Exchange: a.Name(),
				Symbol:   symbol,
				Side:     side,
				OpenRate: parseDecimal(t.Price),
				Amount:   parseDecimal(t.Quantity),
				OpenDate: time.UnixMilli(t.Time),
				Fee:      parseDecimal(t.Commission),
			})
		}
		return nil
	})
	return out, err
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ core.IExchange = (*Adapter)(nil)
