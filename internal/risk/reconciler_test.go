package risk

import (
	"context"
	"testing"

	"github.com/opensqt/gridbot/internal/core"
)

func TestReconciler_AgreeingOrder(t *testing.T) {
	order := core.Order{ExchangeOrderID: "1", Symbol: "BTCUSDT", Status: core.OrderOpen}
	ex := &stubExchange{openOrders: []core.Order{order}}
	pers := &stubPersistence{openOrders: []core.Order{order}}
	strat := &stubStrategy{}

	r := NewReconciler(ex, pers, strat, &mockLogger{}, "BTCUSDT", "grid", "gridbot-", TrustExchange)

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.Agreeing != 1 {
		t.Errorf("expected 1 agreeing order, got %d", report.Agreeing)
	}
	if pers.alertLogs != 1 {
		t.Errorf("expected reconciliation report to be appended to the audit log")
	}
}

func TestReconciler_MarksFilledOrder(t *testing.T) {
	persistedOrder := core.Order{ExchangeOrderID: "1", Symbol: "BTCUSDT", Status: core.OrderOpen}
	liveOrder := core.Order{ExchangeOrderID: "1", Symbol: "BTCUSDT", Status: core.OrderClosed}

	ex := &stubExchange{openOrders: []core.Order{liveOrder}}
	pers := &stubPersistence{openOrders: []core.Order{persistedOrder}}
	strat := &stubStrategy{}

	r := NewReconciler(ex, pers, strat, &mockLogger{}, "BTCUSDT", "grid", "gridbot-", TrustExchange)

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.MarkedFilled != 1 {
		t.Errorf("expected 1 filled order, got %d", report.MarkedFilled)
	}
	if len(strat.filled) != 1 {
		t.Errorf("expected strategy OnOrderFilled to be invoked once, got %d", len(strat.filled))
	}
}

func TestReconciler_GhostLocalOrderMarkedCanceled(t *testing.T) {
	persistedOrder := core.Order{ExchangeOrderID: "1", Symbol: "BTCUSDT", Status: core.OrderOpen}

	ex := &stubExchange{openOrders: nil}
	pers := &stubPersistence{openOrders: []core.Order{persistedOrder}}
	strat := &stubStrategy{}

	r := NewReconciler(ex, pers, strat, &mockLogger{}, "BTCUSDT", "grid", "gridbot-", TrustExchange)

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.MarkedCanceled != 1 {
		t.Errorf("expected 1 canceled order, got %d", report.MarkedCanceled)
	}
}

func TestReconciler_AdoptsUnknownOwnOrder(t *testing.T) {
	liveOrder := core.Order{ExchangeOrderID: "999", ClientOrderID: "gridbot-42", Symbol: "BTCUSDT", Status: core.OrderOpen}

	ex := &stubExchange{openOrders: []core.Order{liveOrder}}
	pers := &stubPersistence{}
	strat := &stubStrategy{}

	r := NewReconciler(ex, pers, strat, &mockLogger{}, "BTCUSDT", "grid", "gridbot-", TrustExchange)

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.Adopted != 1 {
		t.Errorf("expected 1 adopted order, got %d", report.Adopted)
	}
	if len(pers.upserted) != 1 {
		t.Errorf("expected 1 upserted order, got %d", len(pers.upserted))
	}
}

func TestReconciler_OrphanCanceledUnderTrustExchange(t *testing.T) {
	liveOrder := core.Order{ExchangeOrderID: "999", ClientOrderID: "other-bot-42", Symbol: "BTCUSDT", Status: core.OrderOpen}

	ex := &stubExchange{openOrders: []core.Order{liveOrder}}
	pers := &stubPersistence{}
	strat := &stubStrategy{}

	r := NewReconciler(ex, pers, strat, &mockLogger{}, "BTCUSDT", "grid", "gridbot-", TrustExchange)

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.Orphaned != 1 {
		t.Errorf("expected 1 orphaned order, got %d", report.Orphaned)
	}
	if len(ex.cancelled) != 1 {
		t.Errorf("expected the orphan to be cancelled, got %d cancellations", len(ex.cancelled))
	}
}

func TestReconciler_StaleClosedOrderAbortsStartupUnderManualPolicy(t *testing.T) {
	closedOrder := core.Order{ExchangeOrderID: "1", Symbol: "BTCUSDT", Status: core.OrderClosed}
	liveOrder := core.Order{ExchangeOrderID: "1", Symbol: "BTCUSDT", Status: core.OrderOpen}

	ex := &stubExchange{openOrders: []core.Order{liveOrder}}
	pers := &stubPersistence{closedOrders: []core.Order{closedOrder}}
	strat := &stubStrategy{}

	r := NewReconciler(ex, pers, strat, &mockLogger{}, "BTCUSDT", "grid", "gridbot-", ManualPolicy)

	_, err := r.Reconcile(context.Background())
	if err == nil {
		t.Fatal("expected reconcile to abort startup on persisted-closed/exchange-open drift")
	}
}

func TestReconciler_StaleClosedOrderTrustedUnderTrustExchange(t *testing.T) {
	closedOrder := core.Order{ExchangeOrderID: "1", Symbol: "BTCUSDT", Status: core.OrderClosed}
	liveOrder := core.Order{ExchangeOrderID: "1", Symbol: "BTCUSDT", Status: core.OrderOpen}

	ex := &stubExchange{openOrders: []core.Order{liveOrder}}
	pers := &stubPersistence{closedOrders: []core.Order{closedOrder}}
	strat := &stubStrategy{}

	r := NewReconciler(ex, pers, strat, &mockLogger{}, "BTCUSDT", "grid", "gridbot-", TrustExchange)

	report, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.StaleClosed != 1 {
		t.Errorf("expected 1 stale-closed order, got %d", report.StaleClosed)
	}

	// Re-running with no intervening activity must not change the outcome.
	report2, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if report2.StaleClosed != 1 {
		t.Errorf("expected idempotent re-run to still report 1 stale-closed order, got %d", report2.StaleClosed)
	}
}
