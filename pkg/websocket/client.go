// Package websocket provides a reusable WebSocket client with automatic
// exponential-backoff reconnection.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensqt/gridbot/internal/core"
)

// MessageHandler handles incoming WebSocket messages.
type MessageHandler func(message []byte)

// Client is a resilient WebSocket client. Reconnection backs off
// 1, 2, 4, ..., capped at maxReconnectWait, and resets on the first
// successful message after a (re)connect.
type Client struct {
	url     string
	handler MessageHandler

	conn *websocket.Conn
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onConnected func()

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	minReconnectWait time.Duration
	maxReconnectWait time.Duration
	reconnectWait    time.Duration

	logger core.ILogger
}

// NewClient creates a new WebSocket client.
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:              url,
		handler:          handler,
		pingInterval:     30 * time.Second,
		pingWait:         10 * time.Second,
		pongWait:         60 * time.Second,
		minReconnectWait: 1 * time.Second,
		maxReconnectWait: 60 * time.Second,
		reconnectWait:    1 * time.Second,
		ctx:              ctx,
		cancel:           cancel,
		logger:           logger,
	}
}

// SetPingConfig sets the ping/pong configuration.
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetOnConnected sets the callback invoked once the connection is
// established, useful for (re-)issuing subscription messages.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send sends a message over the WebSocket.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the loop, awaiting termination.
func (c *Client) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("websocket client stop: goroutines did not exit within timeout")
		}
	}

	c.closeConn()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			if err := c.connect(); err != nil {
				if c.logger != nil {
					c.logger.Error("websocket connect failed", "url", c.url, "error", err)
				}
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(c.nextBackoff()):
				}
				continue
			}

			c.mu.Lock()
			onConnected := c.onConnected
			pingInterval := c.pingInterval
			c.mu.Unlock()

			if onConnected != nil {
				onConnected()
			}

			heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
			if pingInterval > 0 {
				c.wg.Add(1)
				go c.heartbeat(heartbeatCtx)
			}

			gotMessage := c.readLoop()
			heartbeatCancel()
			if gotMessage {
				c.resetBackoff()
			}

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.nextBackoff()):
			}
		}
	}
}

// nextBackoff returns the current wait and doubles it toward the cap.
func (c *Client) nextBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	wait := c.reconnectWait
	next := wait * 2
	if next > c.maxReconnectWait {
		next = c.maxReconnectWait
	}
	c.reconnectWait = next
	return wait
}

func (c *Client) resetBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectWait = c.minReconnectWait
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// readLoop reads until the connection breaks and reports whether at least
// one message was received (used to reset the reconnect backoff).
func (c *Client) readLoop() bool {
	defer c.closeConn()

	gotMessage := false
	for {
		select {
		case <-c.ctx.Done():
			return gotMessage
		default:
			if c.conn == nil {
				return gotMessage
			}

			_, message, err := c.conn.ReadMessage()
			if err != nil {
				return gotMessage
			}
			gotMessage = true

			if c.handler != nil {
				c.handler(message)
			}
		}
	}
}
