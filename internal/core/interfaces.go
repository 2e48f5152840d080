package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IExchange is the exchange protocol (C2). Implementations must be safe for
// concurrent reads; writers serialize per symbol at the caller layer when a
// specific venue requires it.
type IExchange interface {
	Name() string

	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchBalance(ctx context.Context) (map[string]Balance, error)
	CreateOrder(ctx context.Context, symbol string, side OrderSide, orderType OrderType, amount decimal.Decimal, price *decimal.Decimal) (Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) (Order, error)
	FetchOrder(ctx context.Context, orderID, symbol string) (Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchMyTrades(ctx context.Context, symbol string, limit int) ([]TradeCycle, error)

	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
}

// Balance is a free/used/total triple for one currency.
type Balance struct {
	Free  decimal.Decimal
	Used  decimal.Decimal
	Total decimal.Decimal
}

// SymbolInfo carries per-market precision and trading filters.
type SymbolInfo struct {
	Symbol      string
	PricePrec   int32
	QtyPrec     int32
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	MinNotional decimal.Decimal
}

// IWebSocketHandler is the push-market-data protocol (C4).
type IWebSocketHandler interface {
	Subscribe(symbol string, callback func(Ticker)) error
	Start(ctx context.Context) error
	Stop() error
	Healthy() bool
}

// IOHLCVCache is the two-tier candle cache protocol (C5).
type IOHLCVCache interface {
	Get(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error)
	Put(ctx context.Context, symbol, timeframe string, candles []Candle) error
	DetectGaps(symbol, timeframe string, candles []Candle) []Gap
}

// Gap is a detected missing interval in a candle series.
type Gap struct {
	After  time.Time
	Before time.Time
}

// IPersistence is the repository protocol consumed by the rest of the
// system (C6).
type IPersistence interface {
	UpsertOrder(ctx context.Context, o Order, tradeID int64) error
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	ClosedOrders(ctx context.Context, symbol string) ([]Order, error)
	CreateTradeCycle(ctx context.Context, tc TradeCycle) (int64, error)
	CloseTradeCycle(ctx context.Context, id int64, closeRate decimal.Decimal, closeDate time.Time, profit, profitPct, fee decimal.Decimal) error
	OpenTradeCycles(ctx context.Context, strategy, symbol string) ([]TradeCycle, error)
	TradeHistory(ctx context.Context, symbol string, since, until time.Time, limit int) ([]TradeCycle, error)
	SaveStrategySnapshot(ctx context.Context, s StrategySnapshot) error
	LoadStrategySnapshot(ctx context.Context, name string) (StrategySnapshot, bool, error)
	AppendBalanceSnapshot(ctx context.Context, b BalanceSnapshot) error
	AppendEquityPoint(ctx context.Context, e EquityPoint) error
	EquityHistory(ctx context.Context, since time.Time) ([]EquityPoint, error)
	PutOHLCV(ctx context.Context, exchange, symbol, timeframe string, candles []Candle) error
	GetOHLCV(ctx context.Context, exchange, symbol, timeframe string, start, end time.Time) ([]Candle, error)
	AppendAlertLog(ctx context.Context, alertType, channel, message string, metadataJSON []byte, delivered bool) error
	Close() error
}

// OrderSummary is the shape strategies and the HTTP API observe for a
// resting order.
type OrderSummary struct {
	ID        string
	Status    OrderStatus
	Filled    decimal.Decimal
	Remaining decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
}

// IExecutionContext is the protocol exposed to strategies (C7); it has a
// live variant backed by the exchange and persistence, and a backtest
// variant that simulates fills in memory.
type IExecutionContext interface {
	CurrentTimestamp() time.Time
	IsLive() bool
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	GetPosition(symbol string) (decimal.Decimal, bool)
	PlaceOrder(ctx context.Context, symbol string, side OrderSide, amount decimal.Decimal, price *decimal.Decimal, orderType OrderType) (string, error)
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)
	GetOrderStatus(ctx context.Context, orderID, symbol string) (OrderSummary, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderSummary, error)
}

// IStrategy is the strategy protocol (C8).
type IStrategy interface {
	Name() string
	Symbol() string
	Initialize(ctx context.Context, ec IExecutionContext) error
	OnTick(ctx context.Context, t Ticker) error
	OnOrderFilled(ctx context.Context, o Order) error
	OnOrderCancelled(ctx context.Context, o Order) error
	GetState() (StrategySnapshot, error)
	Shutdown(ctx context.Context) error
}

// IPositionSizer is the position sizing protocol (C10).
type IPositionSizer interface {
	Size(balance, entry, stop decimal.Decimal) (decimal.Decimal, error)
}

// IStopLossHandler is a single tracked stop (C11).
type IStopLossHandler interface {
	Update(price decimal.Decimal, side OrderSide)
	CheckStop(price decimal.Decimal, side OrderSide) bool
	State() StopLossState
}

// ICircuitBreaker is the risk circuit breaker protocol (C12).
type ICircuitBreaker interface {
	IsTradingAllowed() bool
	RecordTrade(pnl decimal.Decimal, equity decimal.Decimal) CircuitTrigger
	RecordError()
	TripManual(reason string)
	Reset()
	State() CircuitBreakerState
}

// IDrawdownTracker is the equity drawdown tracker protocol (C13).
type IDrawdownTracker interface {
	Update(equity decimal.Decimal, ts time.Time)
	CurrentDrawdown() decimal.Decimal
	MaxDrawdown() decimal.Decimal
	RecoveryNeededPct() decimal.Decimal
	Periods() []DrawdownPeriod
}

// IReconciler is the startup state reconciler protocol (C15).
type IReconciler interface {
	Reconcile(ctx context.Context) (ReconciliationReport, error)
}

// ReconciliationReport summarizes one reconciliation run.
type ReconciliationReport struct {
	Agreeing       int
	MarkedFilled   int
	MarkedCanceled int
	Adopted        int
	Orphaned       int
	Manual         int
	// StaleClosed counts persisted orders marked closed whose exchange
	// counterpart is still open (spec section 4.14 step 3). Under any
	// policy but trust_exchange this discrepancy aborts startup instead
	// of being counted here.
	StaleClosed int
}

// ILogger is the structured logging protocol shared by every component.
type ILogger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Fatal(msg string, kv ...interface{})
	With(kv ...interface{}) ILogger
}

// IBotStatus is the read-only facade the HTTP control/observability API
// (spec section 6) queries; the bot orchestrator (C16) implements it.
type IBotStatus interface {
	Health() (status string, uptimeSeconds float64, message string)
	Ready() bool
	Status(ctx context.Context) (BotStatus, error)
	Trades(ctx context.Context, symbol string, limit int) ([]TradeCycle, error)
	Positions(ctx context.Context) ([]PositionView, error)
	PnL(ctx context.Context, period PnLPeriod) (PnLReport, error)
	Equity(ctx context.Context, days int) ([]EquityPoint, error)
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	ConfigSummary() map[string]interface{}
}

// IAlertChannel is a fan-out destination for operational alerts.
type IAlertChannel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// AlertLevel ranks the severity of an Alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

// Alert is one notification dispatched through the alert manager.
type Alert struct {
	Level     AlertLevel
	Title     string
	Message   string
	Fields    map[string]string
	Timestamp time.Time
}
