package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/opensqt/gridbot/internal/core"
)

// PollingWebSocketHandler implements core.IWebSocketHandler by polling
// FetchTicker at a fixed interval, the transparent REST fallback spec
// section 4.3 requires when an exchange lacks push support. It satisfies
// the same callback contract and ordering guarantee as the push handler:
// callbacks for one symbol are invoked in poll order, serialized.
type PollingWebSocketHandler struct {
	exchange core.IExchange
	interval time.Duration
	logger   core.ILogger

	mu        sync.Mutex
	callbacks map[string]func(core.Ticker)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastMsg sync.Map // symbol -> time.Time
}

// NewPollingWebSocketHandler polls every interval (defaulting to 1s per
// spec section 4.3) for each subscribed symbol.
func NewPollingWebSocketHandler(exch core.IExchange, interval time.Duration, logger core.ILogger) *PollingWebSocketHandler {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollingWebSocketHandler{
		exchange:  exch,
		interval:  interval,
		logger:    logger.With("component", "polling_ws_handler"),
		callbacks: make(map[string]func(core.Ticker)),
	}
}

func (h *PollingWebSocketHandler) Subscribe(symbol string, callback func(core.Ticker)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks[symbol] = callback
	return nil
}

func (h *PollingWebSocketHandler) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.mu.Lock()
	symbols := make([]string, 0, len(h.callbacks))
	for s := range h.callbacks {
		symbols = append(symbols, s)
	}
	h.mu.Unlock()

	for _, symbol := range symbols {
		h.wg.Add(1)
		go h.pollLoop(symbol)
	}
	return nil
}

func (h *PollingWebSocketHandler) pollLoop(symbol string) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			t, err := h.exchange.FetchTicker(h.ctx, symbol)
			if err != nil {
				h.logger.Warn("poll fetch_ticker failed", "symbol", symbol, "error", err)
				continue
			}
			h.lastMsg.Store(symbol, time.Now())

			h.mu.Lock()
			cb := h.callbacks[symbol]
			h.mu.Unlock()
			if cb != nil {
				cb(t)
			}
		}
	}
}

func (h *PollingWebSocketHandler) Stop() error {
	if h.cancel != nil {
		h.cancel()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.logger.Warn("polling handler stop: goroutines did not exit within grace period")
	}
	return nil
}

// Healthy reports whether every subscribed symbol has received a poll
// result within 2x the poll interval.
func (h *PollingWebSocketHandler) Healthy() bool {
	h.mu.Lock()
	symbols := make([]string, 0, len(h.callbacks))
	for s := range h.callbacks {
		symbols = append(symbols, s)
	}
	h.mu.Unlock()

	for _, s := range symbols {
		v, ok := h.lastMsg.Load(s)
		if !ok {
			return false
		}
		if time.Since(v.(time.Time)) > 2*h.interval {
			return false
		}
	}
	return true
}

var _ core.IWebSocketHandler = (*PollingWebSocketHandler)(nil)
