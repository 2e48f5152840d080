// Package api implements the HTTP control/observability surface (spec
// section 6): health/readiness probes, a JSON metrics snapshot, a
// Prometheus exposition endpoint, and read-only status/history endpoints
// backed by core.IBotStatus. Grounded on the teacher's
// market_maker/pkg/liveserver/server.go: stdlib http.NewServeMux, a
// context-driven Start/Stop pair, and promhttp.Handler for metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensqt/gridbot/internal/core"
)

var (
	uptimeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trading_bot_uptime_seconds",
		Help: "Seconds since the bot orchestrator started.",
	})
	heartbeatAgeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trading_bot_heartbeat_age_seconds",
		Help: "Seconds since the last websocket heartbeat.",
	})
	runningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trading_bot_running",
		Help: "1 if the orchestrator is running, 0 otherwise.",
	})
	circuitTrippedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trading_bot_circuit_breaker_tripped",
		Help: "1 if the circuit breaker is tripped, 0 otherwise.",
	})
	consecutiveLossesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trading_bot_consecutive_losses",
		Help: "Current consecutive losing trade streak.",
	})
	completedCyclesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trading_bot_completed_cycles",
		Help: "Total completed trade cycles for the running strategy.",
	})
	activeOrdersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trading_bot_active_orders",
		Help: "Currently resting grid orders.",
	})
)

func init() {
	prometheus.MustRegister(
		uptimeGauge, heartbeatAgeGauge, runningGauge, circuitTrippedGauge,
		consecutiveLossesGauge, completedCyclesGauge, activeOrdersGauge,
	)
}

// Server exposes core.IBotStatus over HTTP.
type Server struct {
	bot    core.IBotStatus
	logger core.ILogger
	srv    *http.Server
}

// NewServer builds a Server backed by bot.
func NewServer(bot core.IBotStatus, logger core.ILogger) *Server {
	return &Server{bot: bot, logger: logger.With("component", "http_api")}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.Handle("/metrics/prometheus", promhttp.Handler())
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/pnl", s.handlePnL)
	mux.HandleFunc("/api/equity", s.handleEquity)
	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/ohlcv", s.handleOHLCV)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

// Start runs the HTTP server on addr until ctx is canceled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.mux()}

	s.logger.Info("starting http api", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping http api")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, uptime, message := s.bot.Health()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"uptime_seconds": uptime,
		"message":        message,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.bot.Ready() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	status, err := s.bot.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":        status.UptimeSeconds,
		"heartbeat_age_seconds": status.HeartbeatAge,
		"strategy":              status.Strategy,
		"risk":                  status.Risk,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.bot.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	uptimeGauge.Set(status.UptimeSeconds)
	heartbeatAgeGauge.Set(status.HeartbeatAge)
	runningGauge.Set(boolToFloat(status.Running))
	circuitTrippedGauge.Set(boolToFloat(status.Risk.CircuitBreaker.IsTripped))
	consecutiveLossesGauge.Set(float64(status.Risk.ConsecutiveLosses))
	completedCyclesGauge.Set(float64(status.Strategy.CompletedCycles))
	activeOrdersGauge.Set(float64(status.Strategy.ActiveOrders))

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	limit := queryInt(r, "limit", 100)

	trades, err := s.bot.Trades(r.Context(), symbol, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.bot.Positions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	period := core.PnLPeriod(r.URL.Query().Get("period"))
	if period == "" {
		period = core.PnLDaily
	}
	report, err := s.bot.PnL(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	points, err := s.bot.Equity(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	orders, err := s.bot.OpenOrders(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleOHLCV(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1m"
	}
	limit := queryInt(r, "limit", 500)

	candles, err := s.bot.OHLCV(r.Context(), symbol, timeframe, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bot.ConfigSummary())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
