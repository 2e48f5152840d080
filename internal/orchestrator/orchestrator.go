// Package orchestrator composes the exchange, websocket, persistence,
// execution, strategy and risk layers into one running bot (spec section
// 4.15, C16). It is grounded on the teacher's application bootstrap
// (market_maker/internal/bootstrap/app.go), generalizing its
// Runner/errgroup lifecycle from "one process, N independent runners" to
// "one grid bot, N periodic jobs fanned out over robfig/cron".
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/opensqt/gridbot/internal/alert"
	"github.com/opensqt/gridbot/internal/audit"
	"github.com/opensqt/gridbot/internal/core"
	"github.com/opensqt/gridbot/internal/execution"
	"github.com/opensqt/gridbot/internal/infrastructure/health"
	"github.com/opensqt/gridbot/internal/risk"
)

// StatefulStrategy is core.IStrategy plus the running-totals accessor the
// HTTP status API needs. internal/trading/grid.Strategy satisfies it.
type StatefulStrategy interface {
	core.IStrategy
	Stats() core.StrategyStats
}

// connector is satisfied by exchange adapters that need a preflight step
// (clock sync, market metadata load) before use. It is not part of
// core.IExchange because a backtest or mock exchange has nothing to
// connect to; Run discovers it with a type assertion.
type connector interface {
	Connect(ctx context.Context) error
}

// Deps bundles everything the orchestrator composes. Every field besides
// the required core ones may be left nil/zero to disable that concern.
type Deps struct {
	Symbol         string
	ClientIDPrefix string
	BaseCurrency   string
	QuoteCurrency  string

	Exchange   core.IExchange
	WebSocket  core.IWebSocketHandler
	Store      core.IPersistence
	ExecCtx    *execution.Live
	Strategy   StatefulStrategy
	Risk       *risk.Manager
	Reconciler core.IReconciler

	Alerts *alert.Manager
	Audit  *audit.Logger
	Health *health.HealthManager
	Logger core.ILogger

	// PollInterval governs the order-fill detection loop; the Binance
	// adapter has no push order-update stream, only a book-ticker one, so
	// fills are discovered by polling FetchOrder against persisted open
	// orders. Defaults to 3s.
	PollInterval time.Duration
	// EquitySnapshotInterval governs how often equity/balance is sampled
	// into persistence and the drawdown tracker. Defaults to 60s.
	EquitySnapshotInterval time.Duration
	// ReconcileInterval, if positive, re-runs the reconciler periodically
	// in addition to the mandatory startup pass. Zero disables it.
	ReconcileInterval time.Duration
	// StopLossScanInterval governs the risk overlay's stop-loss scan.
	// Defaults to 5s.
	StopLossScanInterval time.Duration
}

// Orchestrator runs one strategy against one exchange end to end: connect,
// reconcile, initialize, stream ticks, poll fills, evaluate risk, and shut
// down cleanly on cancellation.
type Orchestrator struct {
	deps   Deps
	logger core.ILogger

	startedAt time.Time
	cron      *cron.Cron

	mu            sync.RWMutex
	lastPrice     decimal.Decimal
	lastHeartbeat time.Time
	running       bool

	stopMu    sync.Mutex
	stopQueue []string // FIFO of exchange order ids with a registered stop
}

// New builds an Orchestrator from deps, filling in interval defaults.
func New(deps Deps) *Orchestrator {
	if deps.PollInterval <= 0 {
		deps.PollInterval = 3 * time.Second
	}
	if deps.EquitySnapshotInterval <= 0 {
		deps.EquitySnapshotInterval = 60 * time.Second
	}
	if deps.StopLossScanInterval <= 0 {
		deps.StopLossScanInterval = 5 * time.Second
	}
	return &Orchestrator{
		deps:   deps,
		logger: deps.Logger.With("component", "orchestrator", "symbol", deps.Symbol),
	}
}

// Run executes the full lifecycle and blocks until ctx is canceled or a
// fatal error occurs, then shuts down gracefully before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startedAt = time.Now()
	runID := uuid.NewString()
	o.logger = o.logger.With("run_id", runID)

	if c, ok := o.deps.Exchange.(connector); ok {
		o.logger.Info("connecting to exchange")
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("connect exchange: %w", err)
		}
	}
	if o.deps.Health != nil {
		o.deps.Health.Register("exchange", func() error { return nil })
	}

	o.logger.Info("running startup reconciliation")
	if _, err := o.deps.Reconciler.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	o.logger.Info("initializing strategy")
	if err := o.deps.Strategy.Initialize(ctx, o.deps.ExecCtx); err != nil {
		return fmt.Errorf("initialize strategy: %w", err)
	}

	if err := o.subscribeWebSocket(ctx); err != nil {
		return fmt.Errorf("subscribe websocket: %w", err)
	}

	o.startCronJobs(ctx)

	o.mu.Lock()
	o.running = true
	o.heartbeatLocked()
	o.mu.Unlock()

	o.audit("startup", "orchestrator started for "+o.deps.Symbol)
	o.notify(ctx, core.AlertInfo, "Bot started", fmt.Sprintf("grid bot online for %s", o.deps.Symbol))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.pollFills(gctx)
	})

	<-ctx.Done()
	_ = g.Wait() // pollFills only returns on ctx cancellation, never an error worth surfacing

	return o.shutdown(context.Background())
}

// subscribeWebSocket wires the single-symbol ticker callback that feeds
// the strategy and records the last observed price for the risk overlay,
// then starts the handler.
func (o *Orchestrator) subscribeWebSocket(ctx context.Context) error {
	if o.deps.WebSocket == nil {
		return nil
	}
	err := o.deps.WebSocket.Subscribe(o.deps.Symbol, func(t core.Ticker) {
		o.mu.Lock()
		o.lastPrice = t.Last
		o.heartbeatLocked()
		o.mu.Unlock()

		tickCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.deps.Strategy.OnTick(tickCtx, t); err != nil {
			o.logger.Error("strategy OnTick failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	return o.deps.WebSocket.Start(ctx)
}

// startCronJobs schedules the orchestrator's periodic work: equity
// snapshots, an optional reconcile sweep, the stop-loss scan, and the
// UTC-midnight daily-counter rollover. All times are UTC per spec section
// 4.15; robfig/cron's default parser uses the process's local time zone,
// so the scheduler itself is built with cron.WithLocation(time.UTC).
func (o *Orchestrator) startCronJobs(ctx context.Context) {
	o.cron = cron.New(cron.WithLocation(time.UTC))

	addEvery := func(interval time.Duration, job func()) {
		spec := fmt.Sprintf("@every %s", interval.String())
		_, _ = o.cron.AddFunc(spec, job)
	}

	addEvery(o.deps.EquitySnapshotInterval, func() { o.snapshotEquity(ctx) })
	addEvery(o.deps.StopLossScanInterval, func() { o.scanStopLosses(ctx) })
	if o.deps.ReconcileInterval > 0 {
		addEvery(o.deps.ReconcileInterval, func() {
			if _, err := o.deps.Reconciler.Reconcile(ctx); err != nil {
				o.logger.Error("periodic reconciliation failed", "error", err)
			}
		})
	}
	_, _ = o.cron.AddFunc("0 0 * * *", func() {
		o.logger.Info("daily UTC rollover tick")
		o.deps.Risk.IsTradingAllowed()
	})

	o.cron.Start()
}

// pollFills discovers order fills and cancellations by polling persisted
// open orders against the exchange, since the Binance adapter has no push
// order-update stream. It feeds the strategy, updates the live execution
// context's position, and layers a stop-loss registration on buy fills.
func (o *Orchestrator) pollFills(ctx context.Context) error {
	ticker := time.NewTicker(o.deps.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.pollFillsOnce(ctx)
		}
	}
}

func (o *Orchestrator) pollFillsOnce(ctx context.Context) {
	open, err := o.deps.Store.OpenOrders(ctx, o.deps.Symbol)
	if err != nil {
		o.logger.Error("poll fills: load persisted open orders failed", "error", err)
		return
	}

	for _, persisted := range open {
		if persisted.ExchangeOrderID == "" {
			continue
		}
		live, err := o.deps.Exchange.FetchOrder(ctx, persisted.ExchangeOrderID, o.deps.Symbol)
		if err != nil {
			o.logger.Error("poll fills: fetch order failed", "order_id", persisted.ExchangeOrderID, "error", err)
			o.deps.Risk.RecordError()
			continue
		}
		if !live.IsTerminal() {
			continue
		}

		if err := o.deps.Store.UpsertOrder(ctx, live, 0); err != nil {
			o.logger.Error("poll fills: persist order update failed", "order_id", live.ExchangeOrderID, "error", err)
		}

		switch live.Status {
		case core.OrderClosed:
			o.handleFill(ctx, live)
		case core.OrderCanceled, core.OrderExpired:
			if err := o.deps.Strategy.OnOrderCancelled(ctx, live); err != nil {
				o.logger.Error("strategy OnOrderCancelled failed", "order_id", live.ExchangeOrderID, "error", err)
			}
		}
	}
}

func (o *Orchestrator) handleFill(ctx context.Context, order core.Order) {
	o.deps.ExecCtx.RecordFill(order.Symbol, order.Side, order.Filled)

	if err := o.deps.Strategy.OnOrderFilled(ctx, order); err != nil {
		o.logger.Error("strategy OnOrderFilled failed", "order_id", order.ExchangeOrderID, "error", err)
	}

	o.audit("order_filled", fmt.Sprintf("%s %s %s @ %s", order.Side, order.Filled, order.Symbol, order.Price))

	switch order.Side {
	case core.Buy:
		o.deps.Risk.RegisterStopLoss(order.ExchangeOrderID, core.Buy, order.Price, nil, core.StopPercentage)
		o.stopMu.Lock()
		o.stopQueue = append(o.stopQueue, order.ExchangeOrderID)
		o.stopMu.Unlock()
	case core.Sell:
		o.stopMu.Lock()
		if len(o.stopQueue) > 0 {
			id := o.stopQueue[0]
			o.stopQueue = o.stopQueue[1:]
			o.stopMu.Unlock()
			o.deps.Risk.UnregisterStopLoss(id)
		} else {
			o.stopMu.Unlock()
		}
	}
}

// scanStopLosses evaluates every registered stop against the last
// observed price. A trigger here is supervisory: it alerts and stops
// tracking the position rather than forcing an exit order, since the
// ladder's own flip logic already owns order placement for this symbol.
func (o *Orchestrator) scanStopLosses(ctx context.Context) {
	o.mu.RLock()
	price := o.lastPrice
	o.mu.RUnlock()
	if !price.IsPositive() {
		return
	}

	o.stopMu.Lock()
	prices := make(map[string]decimal.Decimal, len(o.stopQueue))
	for _, id := range o.stopQueue {
		prices[id] = price
	}
	o.stopMu.Unlock()
	if len(prices) == 0 {
		return
	}

	triggered := o.deps.Risk.CheckStopLosses(prices)
	if len(triggered) == 0 {
		return
	}

	o.stopMu.Lock()
	remaining := o.stopQueue[:0]
	triggeredSet := make(map[string]struct{}, len(triggered))
	for _, id := range triggered {
		triggeredSet[id] = struct{}{}
	}
	for _, id := range o.stopQueue {
		if _, hit := triggeredSet[id]; !hit {
			remaining = append(remaining, id)
		}
	}
	o.stopQueue = remaining
	o.stopMu.Unlock()

	for _, id := range triggered {
		o.logger.Warn("stop-loss triggered", "position_id", id, "price", price)
		o.notify(ctx, core.AlertWarning, "Stop-loss triggered", fmt.Sprintf("position %s at price %s", id, price))
	}
}

// snapshotEquity samples balance/equity into persistence and the drawdown
// tracker, independent of trade events, so the equity curve has regular
// samples even during quiet periods.
func (o *Orchestrator) snapshotEquity(ctx context.Context) {
	base, err := o.deps.ExecCtx.GetBalance(ctx, o.deps.BaseCurrency)
	if err != nil {
		o.logger.Error("equity snapshot: get base balance failed", "error", err)
		return
	}
	quote, err := o.deps.ExecCtx.GetBalance(ctx, o.deps.QuoteCurrency)
	if err != nil {
		o.logger.Error("equity snapshot: get quote balance failed", "error", err)
		return
	}

	o.mu.RLock()
	price := o.lastPrice
	o.mu.RUnlock()

	equity := quote.Add(base.Mul(price))
	now := time.Now()

	if err := o.deps.Store.AppendBalanceSnapshot(ctx, core.BalanceSnapshot{
		Timestamp: now, Exchange: o.deps.Exchange.Name(), Currency: o.deps.QuoteCurrency, Total: quote, Free: quote,
	}); err != nil {
		o.logger.Error("equity snapshot: persist balance failed", "error", err)
	}
	if err := o.deps.Store.AppendEquityPoint(ctx, core.EquityPoint{Timestamp: now, Equity: equity}); err != nil {
		o.logger.Error("equity snapshot: persist equity point failed", "error", err)
	}
	o.deps.Risk.UpdateEquity(equity)
}

func (o *Orchestrator) heartbeatLocked() {
	o.lastHeartbeat = time.Now()
}

func (o *Orchestrator) audit(eventType, action string) {
	if o.deps.Audit == nil {
		return
	}
	if err := o.deps.Audit.Append(eventType, "orchestrator", action, nil); err != nil {
		o.logger.Error("audit log append failed", "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, level core.AlertLevel, title, message string) {
	if o.deps.Alerts == nil {
		return
	}
	o.deps.Alerts.Notify(ctx, level, title, message, nil)
}

// shutdown runs the spec's graceful-shutdown order: strategy first so no
// new orders are placed, then the websocket, then a final snapshot flush.
// The exchange adapter has no disconnect in core.IExchange; an idle HTTP
// client needs no explicit close.
func (o *Orchestrator) shutdown(ctx context.Context) error {
	o.logger.Info("shutting down")
	if o.cron != nil {
		<-o.cron.Stop().Done()
	}

	if err := o.deps.Strategy.Shutdown(ctx); err != nil {
		o.logger.Error("strategy shutdown failed", "error", err)
	}

	if o.deps.WebSocket != nil {
		if err := o.deps.WebSocket.Stop(); err != nil {
			o.logger.Error("websocket stop failed", "error", err)
		}
	}

	if snap, err := o.deps.Strategy.GetState(); err != nil {
		o.logger.Error("get final strategy state failed", "error", err)
	} else if err := o.deps.Store.SaveStrategySnapshot(ctx, snap); err != nil {
		o.logger.Error("final strategy snapshot save failed", "error", err)
	}

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	o.audit("shutdown", "orchestrator stopped for "+o.deps.Symbol)
	o.notify(ctx, core.AlertInfo, "Bot stopped", fmt.Sprintf("grid bot offline for %s", o.deps.Symbol))

	o.logger.Info("shutdown complete")
	return nil
}

// Health reports liveness for the /health endpoint.
func (o *Orchestrator) Health() (status string, uptimeSeconds float64, message string) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.running {
		return "stopped", 0, "orchestrator is not running"
	}
	return "ok", time.Since(o.startedAt).Seconds(), ""
}

// Ready reports readiness for the /ready endpoint: running, with a
// websocket heartbeat no staler than twice its expected cadence.
func (o *Orchestrator) Ready() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.running {
		return false
	}
	if o.deps.WebSocket != nil && !o.deps.WebSocket.Healthy() {
		return false
	}
	return true
}

// Status assembles the comprehensive /api/status payload.
func (o *Orchestrator) Status(ctx context.Context) (core.BotStatus, error) {
	o.mu.RLock()
	running := o.running
	uptime := time.Since(o.startedAt).Seconds()
	heartbeatAge := time.Since(o.lastHeartbeat).Seconds()
	o.mu.RUnlock()

	return core.BotStatus{
		Running:       running,
		UptimeSeconds: uptime,
		HeartbeatAge:  heartbeatAge,
		Strategy:      o.deps.Strategy.Stats(),
		Risk:          o.deps.Risk.Stats(),
	}, nil
}

// Trades returns recent trade-cycle history for the /api/trades endpoint.
func (o *Orchestrator) Trades(ctx context.Context, symbol string, limit int) ([]core.TradeCycle, error) {
	if symbol == "" {
		symbol = o.deps.Symbol
	}
	return o.deps.Store.TradeHistory(ctx, symbol, time.Time{}, time.Now(), limit)
}

// Positions assembles open trade cycles enriched with unrealized P&L for
// the /api/positions endpoint.
func (o *Orchestrator) Positions(ctx context.Context) ([]core.PositionView, error) {
	cycles, err := o.deps.Store.OpenTradeCycles(ctx, o.deps.Strategy.Name(), o.deps.Symbol)
	if err != nil {
		return nil, fmt.Errorf("load open trade cycles: %w", err)
	}

	o.mu.RLock()
	price := o.lastPrice
	o.mu.RUnlock()

	views := make([]core.PositionView, 0, len(cycles))
	for _, tc := range cycles {
		var pnl, pnlPct decimal.Decimal
		if price.IsPositive() && tc.OpenRate.IsPositive() {
			if tc.Side == core.Buy {
				pnl = price.Sub(tc.OpenRate).Mul(tc.Amount)
			} else {
				pnl = tc.OpenRate.Sub(price).Mul(tc.Amount)
			}
			pnlPct = pnl.Div(tc.OpenRate.Mul(tc.Amount)).Mul(decimal.NewFromInt(100))
		}
		views = append(views, core.PositionView{TradeCycle: tc, CurrentPrice: price, UnrealizedPnL: pnl, UnrealizedPct: pnlPct})
	}
	return views, nil
}

// PnL aggregates closed trade-cycle history into the requested period's
// buckets for the /api/pnl endpoint.
func (o *Orchestrator) PnL(ctx context.Context, period core.PnLPeriod) (core.PnLReport, error) {
	since := periodStart(period)
	history, err := o.deps.Store.TradeHistory(ctx, o.deps.Symbol, since, time.Now(), 0)
	if err != nil {
		return core.PnLReport{}, fmt.Errorf("load trade history: %w", err)
	}

	buckets := make(map[string]*core.PnLBucket)
	order := make([]string, 0)
	report := core.PnLReport{Period: period}

	for _, tc := range history {
		if tc.IsOpen {
			continue
		}
		key, bucketStart := bucketKey(period, tc.CloseDate)
		b, ok := buckets[key]
		if !ok {
			b = &core.PnLBucket{BucketStart: bucketStart}
			buckets[key] = b
			order = append(order, key)
		}
		b.Profit = b.Profit.Add(tc.Profit)
		b.Fee = b.Fee.Add(tc.Fee)
		b.TradeCount++

		report.TotalProfit = report.TotalProfit.Add(tc.Profit)
		report.TotalFee = report.TotalFee.Add(tc.Fee)
		report.TradeCount++
	}

	for _, key := range order {
		report.Buckets = append(report.Buckets, *buckets[key])
	}
	return report, nil
}

// Equity returns the persisted equity curve for the /api/equity endpoint.
func (o *Orchestrator) Equity(ctx context.Context, days int) ([]core.EquityPoint, error) {
	if days <= 0 {
		days = 30
	}
	return o.deps.Store.EquityHistory(ctx, time.Now().AddDate(0, 0, -days))
}

// OpenOrders returns live resting orders for the /api/orders endpoint.
func (o *Orchestrator) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	if symbol == "" {
		symbol = o.deps.Symbol
	}
	return o.deps.Exchange.FetchOpenOrders(ctx, symbol)
}

// OHLCV proxies candle history for the /api/ohlcv endpoint.
func (o *Orchestrator) OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	if symbol == "" {
		symbol = o.deps.Symbol
	}
	return o.deps.Exchange.FetchOHLCV(ctx, symbol, timeframe, limit)
}

// ConfigSummary reports the non-secret configuration surface for the
// /api/config endpoint.
func (o *Orchestrator) ConfigSummary() map[string]interface{} {
	return map[string]interface{}{
		"symbol":         o.deps.Symbol,
		"base_currency":  o.deps.BaseCurrency,
		"quote_currency": o.deps.QuoteCurrency,
		"exchange":       o.deps.Exchange.Name(),
		"strategy":       o.deps.Strategy.Name(),
	}
}

func periodStart(period core.PnLPeriod) time.Time {
	now := time.Now()
	switch period {
	case core.PnLWeekly:
		return now.AddDate(0, 0, -7*12)
	case core.PnLMonthly:
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, 0, -90)
	}
}

func bucketKey(period core.PnLPeriod, ts time.Time) (string, time.Time) {
	switch period {
	case core.PnLWeekly:
		year, week := ts.ISOWeek()
		start := ts.AddDate(0, 0, -int(ts.Weekday()))
		return fmt.Sprintf("%d-W%02d", year, week), start.Truncate(24 * time.Hour)
	case core.PnLMonthly:
		start := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, ts.Location())
		return start.Format("2006-01"), start
	default:
		start := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
		return start.Format("2006-01-02"), start
	}
}

var _ core.IBotStatus = (*Orchestrator)(nil)
