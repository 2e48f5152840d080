package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// StopLossHandler tracks one position's stop per the configured kind
// (fixed, percentage, trailing, ATR) and reports the triggered transition
// exactly once.
type StopLossHandler struct {
	mu      sync.Mutex
	state   core.StopLossState
	lastATR decimal.Decimal
}

// NewStopLossHandler builds a handler given the entry price and config.
func NewStopLossHandler(cfg core.StopLossConfig, entryPrice decimal.Decimal) *StopLossHandler {
	h := &StopLossHandler{
		state: core.StopLossState{
			Config:       cfg,
			EntryPrice:   entryPrice,
			HighestPrice: entryPrice,
			LowestPrice:  entryPrice,
		},
	}
	h.state.CurrentStop = h.initialStop(cfg, entryPrice)
	return h
}

func (h *StopLossHandler) initialStop(cfg core.StopLossConfig, entry decimal.Decimal) decimal.Decimal {
	switch cfg.Kind {
	case core.StopFixed:
		return cfg.FixedPrice
	case core.StopPercentage:
		return entry.Mul(decimal.NewFromInt(1).Sub(cfg.Percentage))
	default:
		return decimal.Zero
	}
}

// Update advances the trailing/ATR watermark on a new price observation.
func (h *StopLossHandler) Update(price decimal.Decimal, side core.OrderSide) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Triggered {
		return
	}

	cfg := h.state.Config

	switch cfg.Kind {
	case core.StopFixed:
		return
	case core.StopPercentage:
		if side == core.Buy {
			h.state.CurrentStop = h.state.EntryPrice.Mul(decimal.NewFromInt(1).Sub(cfg.Percentage))
		} else {
			h.state.CurrentStop = h.state.EntryPrice.Mul(decimal.NewFromInt(1).Add(cfg.Percentage))
		}
	case core.StopTrailing:
		h.updateTrailing(price, side)
	case core.StopATR:
		h.updateATR(price, side)
	}
}

func (h *StopLossHandler) updateTrailing(price decimal.Decimal, side core.OrderSide) {
	cfg := h.state.Config

	if side == core.Buy {
		if price.GreaterThan(h.state.HighestPrice) {
			h.state.HighestPrice = price
		}
		if !h.trailingActive(price, side) {
			return
		}
		h.state.TrailingActive = true
		candidate := h.state.HighestPrice.Mul(decimal.NewFromInt(1).Sub(cfg.Percentage))
		if candidate.GreaterThan(h.state.CurrentStop) {
			h.state.CurrentStop = candidate
		}
		return
	}

	if price.LessThan(h.state.LowestPrice) || h.state.LowestPrice.IsZero() {
		h.state.LowestPrice = price
	}
	if !h.trailingActive(price, side) {
		return
	}
	h.state.TrailingActive = true
	candidate := h.state.LowestPrice.Mul(decimal.NewFromInt(1).Add(cfg.Percentage))
	if h.state.CurrentStop.IsZero() || candidate.LessThan(h.state.CurrentStop) {
		h.state.CurrentStop = candidate
	}
}

func (h *StopLossHandler) trailingActive(price decimal.Decimal, side core.OrderSide) bool {
	cfg := h.state.Config
	if cfg.TrailingActivation.IsZero() {
		return true
	}
	var profitPct decimal.Decimal
	if side == core.Buy {
		profitPct = price.Sub(h.state.EntryPrice).Div(h.state.EntryPrice)
	} else {
		profitPct = h.state.EntryPrice.Sub(price).Div(h.state.EntryPrice)
	}
	return profitPct.GreaterThanOrEqual(cfg.TrailingActivation)
}

func (h *StopLossHandler) updateATR(price decimal.Decimal, side core.OrderSide) {
	cfg := h.state.Config

	if side == core.Buy {
		if price.GreaterThan(h.state.HighestPrice) {
			h.state.HighestPrice = price
		}
		candidate := h.state.HighestPrice.Sub(cfg.ATRMultiplier.Mul(h.atr(cfg)))
		if candidate.GreaterThan(h.state.CurrentStop) {
			h.state.CurrentStop = candidate
		}
		return
	}

	if price.LessThan(h.state.LowestPrice) || h.state.LowestPrice.IsZero() {
		h.state.LowestPrice = price
	}
	candidate := h.state.LowestPrice.Add(cfg.ATRMultiplier.Mul(h.atr(cfg)))
	if h.state.CurrentStop.IsZero() || candidate.LessThan(h.state.CurrentStop) {
		h.state.CurrentStop = candidate
	}
}

// atr returns the latest reading fed via SetATR; zero until SetATR is called.
func (h *StopLossHandler) atr(cfg core.StopLossConfig) decimal.Decimal {
	return h.lastATR
}

// SetATR feeds the current ATR reading used by ATR-based stops.
func (h *StopLossHandler) SetATR(v decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastATR = v
}

// CheckStop reports whether the stop has triggered, transitioning exactly
// once (idempotent terminal state).
func (h *StopLossHandler) CheckStop(price decimal.Decimal, side core.OrderSide) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Triggered {
		return true
	}

	var hit bool
	if side == core.Buy {
		hit = price.LessThanOrEqual(h.state.CurrentStop)
	} else {
		hit = price.GreaterThanOrEqual(h.state.CurrentStop)
	}

	if hit {
		h.state.Triggered = true
		h.state.TriggeredAt = time.Now()
	}
	return hit
}

// State returns a snapshot of the handler's state.
func (h *StopLossHandler) State() core.StopLossState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

var _ core.IStopLossHandler = (*StopLossHandler)(nil)

// StopLossManager holds one handler per tracked position id and drives
// them on each price tick.
type StopLossManager struct {
	mu       sync.Mutex
	handlers map[string]*StopLossHandler
	sides    map[string]core.OrderSide
}

func NewStopLossManager() *StopLossManager {
	return &StopLossManager{
		handlers: make(map[string]*StopLossHandler),
		sides:    make(map[string]core.OrderSide),
	}
}

// Register creates and tracks a stop for a position id.
func (m *StopLossManager) Register(positionID string, cfg core.StopLossConfig, entryPrice decimal.Decimal, side core.OrderSide) *StopLossHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := NewStopLossHandler(cfg, entryPrice)
	m.handlers[positionID] = h
	m.sides[positionID] = side
	return h
}

// Unregister stops tracking a position id, e.g. once it closes.
func (m *StopLossManager) Unregister(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, positionID)
	delete(m.sides, positionID)
}

// CheckAll updates and checks every tracked stop against the supplied
// prices, returning the ids whose stop is in the triggered state, including
// stops that triggered on an earlier call.
func (m *StopLossManager) CheckAll(prices map[string]decimal.Decimal) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var triggered []string
	for id, h := range m.handlers {
		price, ok := prices[id]
		if !ok {
			continue
		}
		side := m.sides[id]
		h.Update(price, side)
		if h.CheckStop(price, side) {
			triggered = append(triggered, id)
		}
	}
	return triggered
}
