package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
	"github.com/opensqt/gridbot/internal/execution"
	"github.com/opensqt/gridbot/internal/risk"
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
	name string
}

func (s *stubExchange) Name() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}
func (s *stubExchange) FetchBalance(ctx context.Context) (map[string]core.Balance, error) {
	return map[string]core.Balance{}, nil
}
func (s *stubExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return nil, nil
}

type stubWebSocket struct {
	started bool
	stopped bool
	healthy bool
}

func (w *stubWebSocket) Subscribe(symbol string, cb func(core.Ticker)) error { return nil }
func (w *stubWebSocket) Start(ctx context.Context) error                    { w.started = true; return nil }
func (w *stubWebSocket) Stop() error                                        { w.stopped = true; return nil }
func (w *stubWebSocket) Healthy() bool                                      { return w.healthy }

type stubReconciler struct{ calls int }

func (r *stubReconciler) Reconcile(ctx context.Context) (core.ReconciliationReport, error) {
	r.calls++
	return core.ReconciliationReport{}, nil
}

type stubStrategy struct {
	core.IStrategy
	name       string
	shutdownAt int
	state      core.StrategySnapshot
	stats      core.StrategyStats
}

func (s *stubStrategy) Name() string                                                 { return s.name }
func (s *stubStrategy) Symbol() string                                               { return "BTCUSDT" }
func (s *stubStrategy) Initialize(ctx context.Context, ec core.IExecutionContext) error { return nil }
func (s *stubStrategy) GetState() (core.StrategySnapshot, error)                     { return s.state, nil }
func (s *stubStrategy) Shutdown(ctx context.Context) error                           { s.shutdownAt++; return nil }
func (s *stubStrategy) Stats() core.StrategyStats                                    { return s.stats }

type stubStore struct {
	core.IPersistence
	savedSnapshot core.StrategySnapshot
	openCycles    []core.TradeCycle
	history       []core.TradeCycle
	equityPoints  []core.EquityPoint
}

func (s *stubStore) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	return nil, nil
}
func (s *stubStore) SaveStrategySnapshot(ctx context.Context, snap core.StrategySnapshot) error {
	s.savedSnapshot = snap
	return nil
}
func (s *stubStore) OpenTradeCycles(ctx context.Context, strategy, symbol string) ([]core.TradeCycle, error) {
	return s.openCycles, nil
}
func (s *stubStore) TradeHistory(ctx context.Context, symbol string, since, until time.Time, limit int) ([]core.TradeCycle, error) {
	return s.history, nil
}
func (s *stubStore) EquityHistory(ctx context.Context, since time.Time) ([]core.EquityPoint, error) {
	return s.equityPoints, nil
}

func newTestOrchestrator(t *testing.T, ws core.IWebSocketHandler, reconciler core.IReconciler, strat StatefulStrategy, store *stubStore) (*Orchestrator, *stubExchange) {
	t.Helper()
	logger := &mockLogger{}
	exch := &stubExchange{}
	execCtx := execution.New(exch, store, logger)
	riskMgr := risk.Moderate(logger)

	o := New(Deps{
		Symbol:                 "BTCUSDT",
		BaseCurrency:           "BTC",
		QuoteCurrency:          "USDT",
		Exchange:               exch,
		WebSocket:              ws,
		Store:                  store,
		ExecCtx:                execCtx,
		Strategy:               strat,
		Risk:                   riskMgr,
		Reconciler:             reconciler,
		Logger:                 logger,
		PollInterval:           time.Hour,
		EquitySnapshotInterval: time.Hour,
		StopLossScanInterval:   time.Hour,
	})
	return o, exch
}

func TestOrchestrator_RunLifecycle(t *testing.T) {
	ws := &stubWebSocket{healthy: true}
	reconciler := &stubReconciler{}
	strat := &stubStrategy{name: "grid", state: core.StrategySnapshot{Name: "grid", Version: 1}}
	store := &stubStore{}

	o, _ := newTestOrchestrator(t, ws, reconciler, strat, store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if reconciler.calls != 1 {
		t.Errorf("expected 1 startup reconciliation, got %d", reconciler.calls)
	}
	if !ws.started || !ws.stopped {
		t.Errorf("expected websocket to be started and stopped, got started=%v stopped=%v", ws.started, ws.stopped)
	}
	if strat.shutdownAt != 1 {
		t.Errorf("expected strategy Shutdown to be called once, got %d", strat.shutdownAt)
	}
	if store.savedSnapshot.Name != "grid" {
		t.Errorf("expected final strategy snapshot to be saved")
	}

	status, _, _ := o.Health()
	if status != "stopped" {
		t.Errorf("expected status 'stopped' after shutdown, got %q", status)
	}
}

func TestOrchestrator_Health_StoppedBeforeRun(t *testing.T) {
	ws := &stubWebSocket{}
	reconciler := &stubReconciler{}
	strat := &stubStrategy{name: "grid"}
	store := &stubStore{}

	o, _ := newTestOrchestrator(t, ws, reconciler, strat, store)

	status, _, _ := o.Health()
	if status != "stopped" {
		t.Errorf("expected status 'stopped' before Run, got %q", status)
	}
	if o.Ready() {
		t.Errorf("expected Ready() to be false before Run")
	}
}

func TestOrchestrator_Positions_ComputesUnrealizedPnL(t *testing.T) {
	store := &stubStore{
		openCycles: []core.TradeCycle{
			{Side: core.Buy, OpenRate: decimal.NewFromInt(100), Amount: decimal.NewFromInt(2)},
		},
	}
	strat := &stubStrategy{name: "grid"}
	o, exch := newTestOrchestrator(t, &stubWebSocket{}, &stubReconciler{}, strat, store)
	_ = exch

	o.mu.Lock()
	o.lastPrice = decimal.NewFromInt(110)
	o.mu.Unlock()

	views, err := o.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 position view, got %d", len(views))
	}
	want := decimal.NewFromInt(20) // (110-100)*2
	if !views[0].UnrealizedPnL.Equal(want) {
		t.Errorf("expected unrealized pnl %s, got %s", want, views[0].UnrealizedPnL)
	}
}

func TestOrchestrator_PnL_AggregatesByDay(t *testing.T) {
	now := time.Now()
	store := &stubStore{
		history: []core.TradeCycle{
			{IsOpen: false, CloseDate: now, Profit: decimal.NewFromInt(10), Fee: decimal.NewFromFloat(0.5)},
			{IsOpen: false, CloseDate: now, Profit: decimal.NewFromInt(5), Fee: decimal.NewFromFloat(0.25)},
			{IsOpen: true, CloseDate: now},
		},
	}
	strat := &stubStrategy{name: "grid"}
	o, _ := newTestOrchestrator(t, &stubWebSocket{}, &stubReconciler{}, strat, store)

	report, err := o.PnL(context.Background(), core.PnLDaily)
	if err != nil {
		t.Fatalf("PnL failed: %v", err)
	}
	if report.TradeCount != 2 {
		t.Errorf("expected 2 closed trades counted, got %d", report.TradeCount)
	}
	if len(report.Buckets) != 1 {
		t.Fatalf("expected trades same day to collapse into 1 bucket, got %d", len(report.Buckets))
	}
	want := decimal.NewFromInt(15)
	if !report.Buckets[0].Profit.Equal(want) {
		t.Errorf("expected bucket profit %s, got %s", want, report.Buckets[0].Profit)
	}
}

func TestOrchestrator_ConfigSummary(t *testing.T) {
	strat := &stubStrategy{name: "grid"}
	store := &stubStore{}
	o, _ := newTestOrchestrator(t, &stubWebSocket{}, &stubReconciler{}, strat, store)

	summary := o.ConfigSummary()
	if summary["symbol"] != "BTCUSDT" {
		t.Errorf("expected symbol BTCUSDT in config summary, got %v", summary["symbol"])
	}
	if summary["strategy"] != "grid" {
		t.Errorf("expected strategy grid in config summary, got %v", summary["strategy"])
	}
}
