package risk

import (
	"context"

	"github.com/opensqt/gridbot/internal/core"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{}) {}
func (m *mockLogger) Info(msg string, f ...interface{})  {}
func (m *mockLogger) Warn(msg string, f ...interface{})  {}
func (m *mockLogger) Error(msg string, f ...interface{}) {}
func (m *mockLogger) Fatal(msg string, f ...interface{}) {}
func (m *mockLogger) With(f ...interface{}) core.ILogger { return m }

type stubExchange struct {
	core.IExchange
	openOrders []core.Order
	cancelled  []string
}

func (s *stubExchange) Name() string { return "stub" }

func (s *stubExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return s.openOrders, nil
}

func (s *stubExchange) CancelOrder(ctx context.Context, orderID, symbol string) (core.Order, error) {
	s.cancelled = append(s.cancelled, orderID)
	return core.Order{ExchangeOrderID: orderID, Symbol: symbol, Status: core.OrderCanceled}, nil
}

type stubPersistence struct {
	core.IPersistence
	openOrders   []core.Order
	closedOrders []core.Order
	upserted     []core.Order
	alertLogs    int
}

func (s *stubPersistence) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return s.openOrders, nil
}

func (s *stubPersistence) ClosedOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return s.closedOrders, nil
}

func (s *stubPersistence) UpsertOrder(ctx context.Context, o core.Order, tradeID int64) error {
	s.upserted = append(s.upserted, o)
	return nil
}

func (s *stubPersistence) AppendAlertLog(ctx context.Context, alertType, channel, message string, metadataJSON []byte, delivered bool) error {
	s.alertLogs++
	return nil
}

type stubStrategy struct {
	core.IStrategy
	filled    []core.Order
	cancelled []core.Order
}

func (s *stubStrategy) OnOrderFilled(ctx context.Context, o core.Order) error {
	s.filled = append(s.filled, o)
	return nil
}

func (s *stubStrategy) OnOrderCancelled(ctx context.Context, o core.Order) error {
	s.cancelled = append(s.cancelled, o)
	return nil
}
