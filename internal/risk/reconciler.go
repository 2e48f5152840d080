package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensqt/gridbot/internal/core"
	apperrors "github.com/opensqt/gridbot/pkg/errors"
)

// ReconcilePolicy chooses the action taken per discrepancy found between
// persisted state and the exchange's live state.
type ReconcilePolicy string

const (
	TrustExchange ReconcilePolicy = "trust_exchange"
	TrustLocal    ReconcilePolicy = "trust_local"
	ManualPolicy  ReconcilePolicy = "manual"
)

// Reconciler implements core.IReconciler: it runs once at startup, before
// a strategy's Initialize, reconciling persisted trade cycles/orders
// against the exchange's live open orders.
type Reconciler struct {
	exchange    core.IExchange
	persistence core.IPersistence
	alerts      core.IAlertChannel
	strategy    core.IStrategy
	logger      core.ILogger

	symbol          string
	strategyName    string
	clientIDPrefix  string
	policy          ReconcilePolicy
}

// NewReconciler builds a reconciler for one strategy/symbol pair.
func NewReconciler(
	exchange core.IExchange,
	persistence core.IPersistence,
	strategy core.IStrategy,
	logger core.ILogger,
	symbol, strategyName, clientIDPrefix string,
	policy ReconcilePolicy,
) *Reconciler {
	if policy == "" {
		policy = TrustExchange
	}
	return &Reconciler{
		exchange:       exchange,
		persistence:    persistence,
		strategy:       strategy,
		logger:         logger.With("component", "reconciler", "symbol", symbol),
		symbol:         symbol,
		strategyName:   strategyName,
		clientIDPrefix: clientIDPrefix,
		policy:         policy,
	}
}

// SetAlertChannel wires an alert channel the report is emitted to.
func (r *Reconciler) SetAlertChannel(ch core.IAlertChannel) {
	r.alerts = ch
}

// Reconcile runs one reconciliation pass: it is idempotent when run twice
// with no intervening exchange activity.
func (r *Reconciler) Reconcile(ctx context.Context) (core.ReconciliationReport, error) {
	var report core.ReconciliationReport

	persisted, err := r.persistence.OpenOrders(ctx, r.symbol)
	if err != nil {
		return report, fmt.Errorf("load persisted open orders: %w", err)
	}

	liveOrders, err := r.exchange.FetchOpenOrders(ctx, r.symbol)
	if err != nil {
		return report, fmt.Errorf("fetch live open orders: %w", err)
	}

	liveByID := make(map[string]core.Order, len(liveOrders))
	for _, o := range liveOrders {
		liveByID[o.ExchangeOrderID] = o
	}

	closedPersisted, err := r.persistence.ClosedOrders(ctx, r.symbol)
	if err != nil {
		return report, fmt.Errorf("load persisted closed orders: %w", err)
	}
	for _, p := range closedPersisted {
		if p.ExchangeOrderID == "" {
			continue
		}
		live, isLive := liveByID[p.ExchangeOrderID]
		if !isLive || live.Status != core.OrderOpen {
			continue
		}
		if r.policy != TrustExchange {
			return report, apperrors.New(apperrors.KindReconciliation, "reconciler",
				fmt.Errorf("%w: order %s persisted as closed but still open on exchange", apperrors.ErrReconciliation, p.ExchangeOrderID))
		}
		r.logger.Warn("persisted order marked closed but still open on exchange, trusting exchange", "order_id", p.ExchangeOrderID)
		report.StaleClosed++
	}

	persistedIDs := make(map[string]struct{})
	for _, p := range persisted {
		if p.ExchangeOrderID == "" {
			continue
		}
		persistedIDs[p.ExchangeOrderID] = struct{}{}

		live, isLive := liveByID[p.ExchangeOrderID]
		switch {
		case isLive && live.Status == core.OrderOpen:
			report.Agreeing++
		case isLive && live.Status == core.OrderClosed:
			if r.policy == TrustExchange || r.policy == "" {
				r.logger.Info("order filled while bot was down, replaying", "order_id", live.ExchangeOrderID)
				if r.strategy != nil {
					if err := r.strategy.OnOrderFilled(ctx, live); err != nil {
						r.logger.Error("strategy OnOrderFilled failed during reconciliation", "error", err)
					}
				}
				report.MarkedFilled++
			}
		case isLive && (live.Status == core.OrderCanceled || live.Status == core.OrderExpired):
			r.logger.Info("order canceled while bot was down", "order_id", live.ExchangeOrderID)
			if r.strategy != nil {
				if err := r.strategy.OnOrderCancelled(ctx, live); err != nil {
					r.logger.Error("strategy OnOrderCancelled failed during reconciliation", "error", err)
				}
			}
			report.MarkedCanceled++
		case !isLive:
			r.logger.Warn("persisted order missing on exchange, treating as canceled", "order_id", p.ExchangeOrderID)
			if r.strategy != nil {
				ghost := core.Order{ExchangeOrderID: p.ExchangeOrderID, Symbol: r.symbol, Status: core.OrderCanceled}
				if err := r.strategy.OnOrderCancelled(ctx, ghost); err != nil {
					r.logger.Error("strategy OnOrderCancelled failed for ghost order", "error", err)
				}
			}
			report.MarkedCanceled++
		}
	}

	for _, live := range liveOrders {
		if _, known := persistedIDs[live.ExchangeOrderID]; known {
			continue
		}

		if strings.HasPrefix(live.ClientOrderID, r.clientIDPrefix) && r.clientIDPrefix != "" {
			r.logger.Info("adopting untracked own order into persistence", "order_id", live.ExchangeOrderID)
			if err := r.persistence.UpsertOrder(ctx, live, 0); err != nil {
				r.logger.Error("failed to adopt order", "error", err)
				continue
			}
			report.Adopted++
			continue
		}

		report.Orphaned++
		if r.policy == TrustExchange {
			r.logger.Warn("orphaned order found on exchange, canceling", "order_id", live.ExchangeOrderID)
			if _, err := r.exchange.CancelOrder(ctx, live.ExchangeOrderID, r.symbol); err != nil {
				r.logger.Error("failed to cancel orphaned order", "error", err)
			}
		} else {
			report.Manual++
		}
	}

	r.emitReport(ctx, report)
	return report, nil
}

func (r *Reconciler) emitReport(ctx context.Context, report core.ReconciliationReport) {
	r.logger.Info("reconciliation complete",
		"agreeing", report.Agreeing,
		"marked_filled", report.MarkedFilled,
		"marked_canceled", report.MarkedCanceled,
		"adopted", report.Adopted,
		"orphaned", report.Orphaned,
		"manual", report.Manual)

	msg := fmt.Sprintf("agreeing=%d filled=%d canceled=%d adopted=%d orphaned=%d manual=%d",
		report.Agreeing, report.MarkedFilled, report.MarkedCanceled, report.Adopted, report.Orphaned, report.Manual)

	metadataJSON := []byte(fmt.Sprintf(
		`{"agreeing":%d,"marked_filled":%d,"marked_canceled":%d,"adopted":%d,"orphaned":%d,"manual":%d}`,
		report.Agreeing, report.MarkedFilled, report.MarkedCanceled, report.Adopted, report.Orphaned, report.Manual))

	if err := r.persistence.AppendAlertLog(ctx, "reconciliation", "audit_log", msg, metadataJSON, true); err != nil {
		r.logger.Error("failed to append reconciliation audit log", "error", err)
	}

	if r.alerts != nil {
		_ = r.alerts.Send(ctx, core.Alert{
			Level:     core.AlertInfo,
			Title:     "Reconciliation complete",
			Message:   msg,
			Timestamp: time.Now(),
		})
	}
}

var _ core.IReconciler = (*Reconciler)(nil)
