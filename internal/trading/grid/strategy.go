package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// openPosition is one unmatched leg of the ladder waiting to be closed by
// an opposite-side fill. In ModeLong this is always a filled buy; in
// ModeNeutral it may also be a filled sell seeded at initialization.
type openPosition struct {
	LevelIndex int             `json:"level_index"`
	Side       core.OrderSide  `json:"side"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
	OpenedAt   time.Time       `json:"opened_at"`
	CycleID    int64           `json:"cycle_id"`
}

// Strategy implements core.IStrategy for a single-symbol grid ladder.
// Level statuses double as "has a resting order" (open), "filled and
// awaiting its flip" (filled, transient) and "no resting order right now"
// (canceled) — a level with no order currently placed (either never
// triggered, or its flip hasn't been placed yet) is represented as
// canceled rather than adding a fourth GridLevelStatus value.
type Strategy struct {
	mu sync.Mutex

	cfg      Config
	tickSize decimal.Decimal
	sizer    core.IPositionSizer
	store    core.IPersistence
	logger   core.ILogger

	ec core.IExecutionContext

	levels     []core.GridLevel
	orderIndex map[string]int // exchange order id -> level index
	openQueue  []*openPosition

	halted bool

	completedCycles int
	runningProfit    decimal.Decimal
	runningFee       decimal.Decimal
}

// New builds a grid strategy. store may be nil, in which case trade cycles
// are tracked only in the in-memory FIFO queue and the strategy snapshot
// (no durable trade history row is written).
func New(cfg Config, sizer core.IPositionSizer, store core.IPersistence, tickSize decimal.Decimal, logger core.ILogger) (*Strategy, error) {
	warnings, err := cfg.Validate(tickSize)
	if err != nil {
		return nil, fmt.Errorf("invalid grid config: %w", err)
	}

	s := &Strategy{
		cfg:        cfg,
		tickSize:   tickSize,
		sizer:      sizer,
		store:      store,
		logger:     logger.With("component", "grid_strategy", "symbol", cfg.Symbol),
		levels:     buildLadder(cfg, tickSize),
		orderIndex: make(map[string]int),
	}
	for _, w := range warnings {
		s.logger.Warn("grid config warning", "warning", w)
	}
	return s, nil
}

func (s *Strategy) Name() string   { return "grid" }
func (s *Strategy) Symbol() string { return s.cfg.Symbol }

// Initialize places the starting ladder: a resting buy at every level
// strictly below the current price, and — only in ModeNeutral — a resting
// sell at every level strictly above it. In ModeLong, levels above the
// current price are only ever populated as flips from filled buys.
func (s *Strategy) Initialize(ctx context.Context, ec core.IExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ec = ec

	price, err := ec.GetCurrentPrice(ctx, s.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("grid initialize: fetch current price: %w", err)
	}

	numActive := 0
	for _, lvl := range s.levels {
		if lvl.Price.LessThan(price) {
			numActive++
		}
	}
	if numActive == 0 {
		s.logger.Warn("no grid levels below current price; nothing to place at startup", "current_price", price)
	}

	balance, err := ec.GetBalance(ctx, s.cfg.QuoteCurrency)
	if err != nil {
		return fmt.Errorf("grid initialize: fetch quote balance: %w", err)
	}

	for i := range s.levels {
		lvl := &s.levels[i]
		switch {
		case lvl.Price.LessThan(price):
			if err := s.placeLevelOrder(ctx, i, core.Buy, balance); err != nil {
				s.logger.Error("grid initialize: place buy failed", "level", i, "price", lvl.Price, "error", err)
			}
		case lvl.Price.GreaterThan(price) && s.cfg.Mode == ModeNeutral:
			baseBalance, err := ec.GetBalance(ctx, s.cfg.BaseCurrency)
			if err != nil {
				s.logger.Error("grid initialize: fetch base balance failed", "error", err)
				continue
			}
			if err := s.placeLevelOrder(ctx, i, core.Sell, baseBalance); err != nil {
				s.logger.Error("grid initialize: place sell failed", "level", i, "price", lvl.Price, "error", err)
			}
		}
	}
	return nil
}

// placeLevelOrder sizes and places a resting order at levels[idx], with
// the stop-loss price (if configured) fed to the position sizer so
// risk-proportional sizers see it. Assumes s.mu is held.
func (s *Strategy) placeLevelOrder(ctx context.Context, idx int, side core.OrderSide, balance decimal.Decimal) error {
	lvl := &s.levels[idx]
	stopPrice := decimal.Zero
	if s.cfg.StopLossPct.IsPositive() {
		if side == core.Buy {
			stopPrice = lvl.Price.Mul(decimal.NewFromInt(1).Sub(s.cfg.StopLossPct))
		} else {
			stopPrice = lvl.Price.Mul(decimal.NewFromInt(1).Add(s.cfg.StopLossPct))
		}
	}

	amount, err := s.sizer.Size(balance, lvl.Price, stopPrice)
	if err != nil {
		return fmt.Errorf("size level %d: %w", idx, err)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("size level %d: non-positive amount %s", idx, amount)
	}

	price := lvl.Price
	orderID, err := s.ec.PlaceOrder(ctx, s.cfg.Symbol, side, amount, &price, core.Limit)
	if err != nil {
		return fmt.Errorf("place order at level %d: %w", idx, err)
	}

	lvl.Side = side
	lvl.Status = core.LevelOpen
	lvl.BoundOrder = orderID
	s.orderIndex[orderID] = idx
	return nil
}

func (s *Strategy) OnTick(ctx context.Context, t core.Ticker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted || !s.cfg.StopLossPct.IsPositive() {
		return nil
	}

	breach := s.cfg.LowerPrice.Mul(decimal.NewFromInt(1).Sub(s.cfg.StopLossPct))
	if t.Last.IsPositive() && t.Last.LessThan(breach) {
		s.logger.Error("grid stop-loss breached, halting new placements", "price", t.Last, "breach_level", breach)
		s.halted = true
	}
	return nil
}

// OnOrderFilled applies the fill → flip logic from spec section 4.8.
func (s *Strategy) OnOrderFilled(ctx context.Context, o core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.orderIndex[o.ExchangeOrderID]
	if !ok {
		idx = nearestLevelIndex(s.levels, o.Price)
		s.logger.Warn("fill for untracked order, matched to nearest level by price", "order_id", o.ExchangeOrderID, "price", o.Price, "level", idx)
	} else {
		delete(s.orderIndex, o.ExchangeOrderID)
	}

	lvl := &s.levels[idx]
	lvl.Status = core.LevelFilled
	lvl.BoundOrder = ""

	if o.Side == core.Buy {
		return s.onBuyFilled(ctx, idx, o)
	}
	return s.onSellFilled(ctx, idx, o)
}

func (s *Strategy) onBuyFilled(ctx context.Context, idx int, o core.Order) error {
	pos := &openPosition{LevelIndex: idx, Side: core.Buy, EntryPrice: o.Price, Amount: o.Filled, Fee: o.Fee, OpenedAt: o.Timestamp}

	if s.store != nil {
		id, err := s.store.CreateTradeCycle(ctx, core.TradeCycle{
			Symbol: s.cfg.Symbol, Strategy: s.Name(), Side: core.Buy,
			OpenRate: o.Price, Amount: o.Filled, OpenDate: o.Timestamp,
		})
		if err != nil {
			s.logger.Error("record trade cycle open failed", "error", err)
		} else {
			pos.CycleID = id
		}
	}
	s.openQueue = append(s.openQueue, pos)

	if idx+1 >= len(s.levels) {
		s.logger.Warn("buy filled at top level, no level above to flip to", "level", idx)
		return nil
	}
	if s.halted {
		return nil
	}

	next := &s.levels[idx+1]
	price := next.Price
	orderID, err := s.ec.PlaceOrder(ctx, s.cfg.Symbol, core.Sell, o.Filled, &price, core.Limit)
	if err != nil {
		return fmt.Errorf("flip buy at level %d to sell at level %d: %w", idx, idx+1, err)
	}
	next.Side, next.Status, next.BoundOrder = core.Sell, core.LevelOpen, orderID
	s.orderIndex[orderID] = idx + 1
	return nil
}

// onSellFilled matches the sell against the oldest open buys of the
// symbol, consuming earliest-first until the sell's filled amount is
// exhausted. A sell whose amount exceeds the oldest queued buy consumes
// subsequent buys in order; a buy only partially consumed stays in the
// queue with its remaining amount (spec.md section 9 Open Question 1).
// This mirrors the independent re-derivation in
// internal/backtest/metrics.go's matchTrades.
func (s *Strategy) onSellFilled(ctx context.Context, idx int, o core.Order) error {
	if len(s.openQueue) == 0 {
		s.logger.Warn("sell filled with no matched open position; dropping", "level", idx, "order_id", o.ExchangeOrderID)
		return nil
	}

	remaining := o.Filled
	for remaining.IsPositive() && len(s.openQueue) > 0 {
		head := s.openQueue[0]
		matched := decimal.Min(remaining, head.Amount)

		headFeeShare := decimal.Zero
		if head.Amount.IsPositive() {
			headFeeShare = head.Fee.Mul(matched).Div(head.Amount)
		}
		sellFeeShare := decimal.Zero
		if o.Filled.IsPositive() {
			sellFeeShare = o.Fee.Mul(matched).Div(o.Filled)
		}

		profit := o.Price.Sub(head.EntryPrice).Mul(matched).Sub(headFeeShare).Sub(sellFeeShare)
		notional := head.EntryPrice.Mul(matched)
		profitPct := decimal.Zero
		if notional.IsPositive() {
			profitPct = profit.Div(notional)
		}
		totalFee := headFeeShare.Add(sellFeeShare)

		s.runningProfit = s.runningProfit.Add(profit)
		s.runningFee = s.runningFee.Add(totalFee)

		head.Amount = head.Amount.Sub(matched)
		head.Fee = head.Fee.Sub(headFeeShare)
		remaining = remaining.Sub(matched)

		if head.Amount.IsZero() {
			s.openQueue = s.openQueue[1:]
			s.completedCycles++
			if s.store != nil && head.CycleID > 0 {
				if err := s.store.CloseTradeCycle(ctx, head.CycleID, o.Price, o.Timestamp, profit, profitPct, totalFee); err != nil {
					s.logger.Error("record trade cycle close failed", "error", err)
				}
			}
		} else {
			s.openQueue[0] = head
		}
	}

	if idx-1 < 0 {
		s.logger.Warn("sell filled at bottom level, no level below to flip to", "level", idx)
		return nil
	}
	if s.halted {
		return nil
	}

	prev := &s.levels[idx-1]
	price := prev.Price
	orderID, err := s.ec.PlaceOrder(ctx, s.cfg.Symbol, core.Buy, o.Filled, &price, core.Limit)
	if err != nil {
		return fmt.Errorf("flip sell at level %d to buy at level %d: %w", idx, idx-1, err)
	}
	prev.Side, prev.Status, prev.BoundOrder = core.Buy, core.LevelOpen, orderID
	s.orderIndex[orderID] = idx - 1
	return nil
}

func (s *Strategy) OnOrderCancelled(ctx context.Context, o core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.orderIndex[o.ExchangeOrderID]
	if !ok {
		return nil
	}
	delete(s.orderIndex, o.ExchangeOrderID)
	s.levels[idx].Status = core.LevelCanceled
	s.levels[idx].BoundOrder = ""
	return nil
}

// snapshotPayload is the JSON-serialized form of a Strategy's restorable
// state: the ladder, the FIFO queue, and running statistics. Keeping this
// separate from Config means a restore doesn't need the caller to already
// know the grid's shape.
type snapshotPayload struct {
	Config          Config          `json:"config"`
	Levels          []core.GridLevel `json:"levels"`
	OpenQueue       []*openPosition `json:"open_queue"`
	Halted          bool            `json:"halted"`
	CompletedCycles int             `json:"completed_cycles"`
	RunningProfit   decimal.Decimal `json:"running_profit"`
	RunningFee      decimal.Decimal `json:"running_fee"`
}

const snapshotVersion = 1

func (s *Strategy) GetState() (core.StrategySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := snapshotPayload{
		Config:          s.cfg,
		Levels:          s.levels,
		OpenQueue:       s.openQueue,
		Halted:          s.halted,
		CompletedCycles: s.completedCycles,
		RunningProfit:   s.runningProfit,
		RunningFee:      s.runningFee,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return core.StrategySnapshot{}, fmt.Errorf("marshal grid snapshot: %w", err)
	}
	return core.StrategySnapshot{Name: s.Name() + ":" + s.cfg.Symbol, Version: snapshotVersion, Payload: data}, nil
}

// Restore rebuilds a Strategy from a previously captured snapshot,
// preserving ladder identity (bound order ids, level statuses, the FIFO
// queue and running statistics) across a restart.
func Restore(snap core.StrategySnapshot, sizer core.IPositionSizer, store core.IPersistence, tickSize decimal.Decimal, logger core.ILogger) (*Strategy, error) {
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("grid snapshot version %d unsupported (want %d)", snap.Version, snapshotVersion)
	}
	var payload snapshotPayload
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal grid snapshot: %w", err)
	}

	s := &Strategy{
		cfg:             payload.Config,
		tickSize:        tickSize,
		sizer:           sizer,
		store:           store,
		logger:          logger.With("component", "grid_strategy", "symbol", payload.Config.Symbol),
		levels:          payload.Levels,
		orderIndex:      make(map[string]int),
		openQueue:       payload.OpenQueue,
		halted:          payload.Halted,
		completedCycles: payload.CompletedCycles,
		runningProfit:   payload.RunningProfit,
		runningFee:      payload.RunningFee,
	}
	for i, lvl := range s.levels {
		if lvl.BoundOrder != "" {
			s.orderIndex[lvl.BoundOrder] = i
		}
	}
	return s, nil
}

func (s *Strategy) Shutdown(ctx context.Context) error {
	s.logger.Info("grid strategy shutting down", "completed_cycles", s.completedCycles, "running_profit", s.runningProfit)
	return nil
}

// Stats exposes running totals for the HTTP status API (core.StrategyStats).
func (s *Strategy) Stats() core.StrategyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, lvl := range s.levels {
		if lvl.Status == core.LevelOpen {
			active++
		}
	}
	return core.StrategyStats{
		Name:            s.Name(),
		Symbol:          s.cfg.Symbol,
		CompletedCycles: s.completedCycles,
		RunningProfit:   s.runningProfit,
		RunningFee:      s.runningFee,
		ActiveOrders:    active,
	}
}

var _ core.IStrategy = (*Strategy)(nil)
