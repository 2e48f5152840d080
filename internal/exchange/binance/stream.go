package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// minReconnectDelay and maxReconnectDelay bound the exponential backoff
// used when a book-ticker stream drops, mirroring pkg/websocket.Client's
// reconnect policy.
const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 60 * time.Second
)

// StreamHandler implements core.IWebSocketHandler over Binance's spot
// book-ticker push stream (wss, via the SDK's WsBookTickerServe), one
// goroutine per subscribed symbol so a slow callback on one symbol never
// blocks another. Reconnection follows the teacher's listenUserDataStream
// loop: on disconnect, wait and redial, with the delay doubling on
// successive failures and resetting once a message is received.
type StreamHandler struct {
	logger core.ILogger

	mu        sync.Mutex
	callbacks map[string]func(core.Ticker)
	lastMsg   map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamHandler builds a push handler. Symbols are registered via
// Subscribe before Start is called.
func NewStreamHandler(logger core.ILogger) *StreamHandler {
	return &StreamHandler{
		logger:    logger.With("component", "binance_stream_handler"),
		callbacks: make(map[string]func(core.Ticker)),
		lastMsg:   make(map[string]time.Time),
	}
}

func (s *StreamHandler) Subscribe(symbol string, callback func(core.Ticker)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[symbol] = callback
	return nil
}

func (s *StreamHandler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.mu.Lock()
	symbols := make([]string, 0, len(s.callbacks))
	for sym := range s.callbacks {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()

	if len(symbols) == 0 {
		return fmt.Errorf("binance stream handler: no symbols subscribed")
	}

	for _, symbol := range symbols {
		s.wg.Add(1)
		go s.streamLoop(symbol)
	}
	return nil
}

func (s *StreamHandler) streamLoop(symbol string) {
	defer s.wg.Done()

	delay := minReconnectDelay

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.logger.Info("connecting book ticker stream", "symbol", symbol)

		msgC := make(chan struct{}, 1)
		handler := func(event *gobinance.WsBookTickerEvent) {
			ticker := core.Ticker{
				Symbol:    event.Symbol,
				Bid:       parseDecimal(event.BestBidPrice),
				Ask:       parseDecimal(event.BestAskPrice),
				Last:      parseDecimal(event.BestBidPrice).Add(parseDecimal(event.BestAskPrice)).Div(decimal.NewFromInt(2)),
				Timestamp: time.Now(),
			}

			s.mu.Lock()
			s.lastMsg[symbol] = ticker.Timestamp
			cb := s.callbacks[symbol]
			s.mu.Unlock()

			select {
			case msgC <- struct{}{}:
			default:
			}

			if cb != nil {
				cb(ticker)
			}
		}

		errHandler := func(err error) {
			s.logger.Warn("book ticker stream error", "symbol", symbol, "error", err)
		}

		doneC, stopC, err := gobinance.WsBookTickerServe(symbol, handler, errHandler)
		if err != nil {
			s.logger.Error("book ticker stream dial failed", "symbol", symbol, "error", err, "retry_in", delay)
			if !s.sleepOrDone(delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		s.logger.Info("book ticker stream connected", "symbol", symbol)

		select {
		case <-s.ctx.Done():
			stopC <- struct{}{}
			return
		case <-msgC:
			// first message confirms the stream is live: reset the backoff,
			// then block on doneC for the remainder of this attempt.
			delay = minReconnectDelay
			s.waitForDisconnect(symbol, doneC, stopC)
		case <-doneC:
			s.logger.Warn("book ticker stream closed before first message", "symbol", symbol, "retry_in", delay)
			if !s.sleepOrDone(delay) {
				return
			}
			delay = nextDelay(delay)
		}
	}
}

// waitForDisconnect blocks until the stream closes or Stop is called, then
// returns so the outer loop redials with a reset backoff.
func (s *StreamHandler) waitForDisconnect(symbol string, doneC, stopC chan struct{}) {
	select {
	case <-s.ctx.Done():
		stopC <- struct{}{}
	case <-doneC:
		s.logger.Warn("book ticker stream disconnected", "symbol", symbol)
	}
}

func (s *StreamHandler) sleepOrDone(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

func (s *StreamHandler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("binance stream handler stop: goroutines did not exit within grace period")
	}
	return nil
}

// Healthy reports whether every subscribed symbol has received a message
// within the last 30 seconds.
func (s *StreamHandler) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.callbacks) == 0 {
		return false
	}
	for symbol := range s.callbacks {
		last, ok := s.lastMsg[symbol]
		if !ok || time.Since(last) > 30*time.Second {
			return false
		}
	}
	return true
}

var _ core.IWebSocketHandler = (*StreamHandler)(nil)
