// Package core defines the shared domain types and interfaces that every
// other package in gridbot is built against.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide identifies which side of the book an order or cycle belongs to.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderType is the exchange order type.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderClosed   OrderStatus = "closed"
	OrderCanceled OrderStatus = "canceled"
	OrderExpired  OrderStatus = "expired"
)

// Ticker is an immutable best-bid/ask/last snapshot for a symbol.
type Ticker struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Timestamp time.Time
}

// Candle is an immutable OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Order mirrors an exchange order. Invariants: Filled+Remaining == Amount;
// Status == OrderClosed implies Filled == Amount; once closed or canceled
// the order is terminal and must not be mutated further.
type Order struct {
	ExchangeOrderID string // authoritative id assigned by the exchange
	ClientOrderID   string
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Status          OrderStatus
	Price           decimal.Decimal // zero value means "no price" for market orders
	Amount          decimal.Decimal
	Filled          decimal.Decimal
	Remaining       decimal.Decimal
	Cost            decimal.Decimal
	Fee             decimal.Decimal
	FeeCurrency     string
	Timestamp       time.Time
}

// IsTerminal reports whether the order can no longer change state.
func (o Order) IsTerminal() bool {
	return o.Status == OrderClosed || o.Status == OrderCanceled || o.Status == OrderExpired
}

// TradeCycle aggregates one or more exchange fills into a single entry/exit
// position, distinct from a raw fill.
type TradeCycle struct {
	ID         int64
	Exchange   string
	Symbol     string
	Strategy   string
	IsOpen     bool
	Side       OrderSide
	OpenRate   decimal.Decimal
	Amount     decimal.Decimal
	OpenDate   time.Time
	CloseRate  decimal.Decimal
	CloseDate  time.Time
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Profit     decimal.Decimal
	ProfitPct  decimal.Decimal
	Fee        decimal.Decimal
}

// GridLevelStatus is the lifecycle of a single ladder rung.
type GridLevelStatus string

const (
	LevelOpen     GridLevelStatus = "open"
	LevelFilled   GridLevelStatus = "filled"
	LevelCanceled GridLevelStatus = "canceled"
)

// GridLevel is one rung of a grid ladder.
type GridLevel struct {
	Index      int
	Price      decimal.Decimal
	Side       OrderSide
	Status     GridLevelStatus
	BoundOrder string // bound exchange order id, empty when none
}

// StrategySnapshot is the opaque, versioned persisted state of a strategy.
type StrategySnapshot struct {
	Name    string
	Version int
	Payload []byte // JSON-equivalent serialized payload
}

// BalanceSnapshot is an append-only point-in-time balance record.
// Invariant: Total == Free + Used.
type BalanceSnapshot struct {
	Timestamp time.Time
	Exchange  string
	Currency  string
	Total     decimal.Decimal
	Free      decimal.Decimal
	Used      decimal.Decimal
}

// EquityPoint is a derived equity-curve sample.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// CircuitTrigger names the reason a circuit breaker tripped.
type CircuitTrigger string

const (
	TriggerNone              CircuitTrigger = ""
	TriggerDailyLoss         CircuitTrigger = "daily_loss"
	TriggerConsecutiveLosses CircuitTrigger = "consecutive_losses"
	TriggerMaxDrawdown       CircuitTrigger = "max_drawdown"
	TriggerErrorRate         CircuitTrigger = "error_rate"
	TriggerManual            CircuitTrigger = "manual"
)

// CircuitBreakerState is the persisted/observable state of C12.
type CircuitBreakerState struct {
	IsTripped         bool
	Trigger           CircuitTrigger
	TrippedAt         time.Time
	CooldownUntil     time.Time
	DayStart          time.Time
	DailyPnL          decimal.Decimal
	DailyTrades       int
	DailyErrors       int
	ConsecutiveLosses int
	ConsecutiveWins   int
	PeakEquity        decimal.Decimal
	CurrentEquity     decimal.Decimal
	CurrentDrawdown   decimal.Decimal
}

// StopLossKind selects which stop-loss algorithm is active.
type StopLossKind string

const (
	StopFixed      StopLossKind = "fixed"
	StopPercentage StopLossKind = "percentage"
	StopTrailing   StopLossKind = "trailing"
	StopATR        StopLossKind = "atr"
)

// StopLossConfig parameterizes a stop-loss handler.
type StopLossConfig struct {
	Kind               StopLossKind
	FixedPrice         decimal.Decimal
	Percentage         decimal.Decimal
	TrailingActivation decimal.Decimal // profit_pct threshold, zero means immediate activation
	ATRMultiplier      decimal.Decimal
}

// StopLossState is the live state of one tracked stop.
type StopLossState struct {
	Config         StopLossConfig
	EntryPrice     decimal.Decimal
	CurrentStop    decimal.Decimal
	HighestPrice   decimal.Decimal
	LowestPrice    decimal.Decimal
	Triggered      bool
	TriggeredAt    time.Time
	TrailingActive bool
}

// PositionView is the open-trade-cycle shape the HTTP API reports,
// enriched with the unrealized P&L against a current price.
type PositionView struct {
	TradeCycle     TradeCycle
	CurrentPrice   decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	UnrealizedPct  decimal.Decimal
}

// PnLPeriod selects the aggregation window for the /api/pnl endpoint.
type PnLPeriod string

const (
	PnLDaily   PnLPeriod = "daily"
	PnLWeekly  PnLPeriod = "weekly"
	PnLMonthly PnLPeriod = "monthly"
)

// PnLReport is one aggregated profit-and-loss bucket.
type PnLReport struct {
	Period      PnLPeriod
	Buckets     []PnLBucket
	TotalProfit decimal.Decimal
	TotalFee    decimal.Decimal
	TradeCount  int
}

// PnLBucket is one dated aggregation bucket within a PnLReport.
type PnLBucket struct {
	BucketStart time.Time
	Profit      decimal.Decimal
	Fee         decimal.Decimal
	TradeCount  int
}

// BotStatus is the comprehensive status object served at /api/status.
type BotStatus struct {
	Running       bool
	UptimeSeconds float64
	HeartbeatAge  float64
	Strategy      StrategyStats
	Risk          RiskStats
}

// StrategyStats summarizes the running strategy for observability.
type StrategyStats struct {
	Name            string
	Symbol          string
	CompletedCycles int
	RunningProfit   decimal.Decimal
	RunningFee      decimal.Decimal
	ActiveOrders    int
}

// RiskStats summarizes the risk kernel for observability.
type RiskStats struct {
	CircuitBreaker    CircuitBreakerState
	CurrentDrawdown   decimal.Decimal
	MaxDrawdown       decimal.Decimal
	ConsecutiveLosses int
}

// DrawdownPeriod describes one peak-to-recovery equity excursion.
type DrawdownPeriod struct {
	StartDate    time.Time
	EndDate      time.Time // zero value while ongoing
	PeakEquity   decimal.Decimal
	TroughEquity decimal.Decimal
	DrawdownPct  decimal.Decimal
	DurationDays float64
	Recovered    bool
}
