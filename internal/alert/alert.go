// Package alert fans operational notifications out to one or more
// configured channels (Telegram, Discord, ...).
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/opensqt/gridbot/internal/core"
)

// Manager fans an Alert out to every registered channel concurrently.
type Manager struct {
	channels []core.IAlertChannel
	logger   core.ILogger
	mu       sync.RWMutex
}

// NewManager builds an empty alert Manager.
func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		channels: make([]core.IAlertChannel, 0),
		logger:   logger.With("component", "alert_manager"),
	}
}

// AddChannel registers a delivery channel.
func (m *Manager) AddChannel(ch core.IAlertChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("added alert channel", "name", ch.Name())
}

// Notify builds an Alert from its parts and dispatches it to every
// registered channel concurrently. Delivery is best-effort: channel errors
// are logged, not returned. The call returns once every channel has
// finished, each bounded by a 10-second timeout.
func (m *Manager) Notify(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) {
	m.Send(ctx, core.Alert{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	})
}

// Name identifies the manager itself as a channel, letting it be nested
// wherever a single core.IAlertChannel is expected (e.g. the reconciler's
// alert sink) while still fanning out to every registered sub-channel.
func (m *Manager) Name() string { return "fanout" }

// Send implements core.IAlertChannel by dispatching a already-built Alert
// to every registered channel concurrently, so Manager can be passed
// anywhere a single IAlertChannel is expected.
func (m *Manager) Send(ctx context.Context, a core.Alert) error {
	m.logger.Info("triggering alert", "title", a.Title, "level", a.Level)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range m.channels {
		wg.Add(1)
		go func(c core.IAlertChannel) {
			defer wg.Done()
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, a); err != nil {
				m.logger.Error("failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
	wg.Wait()
	return nil
}

var _ core.IAlertChannel = (*Manager)(nil)
