// Command gridbot runs the grid trading engine: it wires the exchange
// adapter, persistence, execution context, strategy, risk kernel and HTTP
// control API together and runs until a termination signal arrives.
// Grounded on the teacher's cmd/live_server/main.go: flag-parsed config
// path, zap logger, background server goroutines, and a
// signal.Notify-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/opensqt/gridbot/internal/alert"
	"github.com/opensqt/gridbot/internal/api"
	"github.com/opensqt/gridbot/internal/audit"
	"github.com/opensqt/gridbot/internal/config"
	"github.com/opensqt/gridbot/internal/core"
	"github.com/opensqt/gridbot/internal/exchange"
	"github.com/opensqt/gridbot/internal/exchange/binance"
	"github.com/opensqt/gridbot/internal/execution"
	"github.com/opensqt/gridbot/internal/infrastructure/health"
	"github.com/opensqt/gridbot/internal/logging"
	"github.com/opensqt/gridbot/internal/orchestrator"
	"github.com/opensqt/gridbot/internal/risk"
	"github.com/opensqt/gridbot/internal/store"
	"github.com/opensqt/gridbot/internal/trading/grid"
	"github.com/opensqt/gridbot/pkg/retry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const strategyName = "grid"

func main() {
	configPath := flag.String("config", "", "path to a YAML defaults file merged under environment variables")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gridbot version %s (built %s)\n", version, buildTime)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gridbot: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.JSONLogs)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting gridbot", "version", version, "symbol", cfg.Trading.Symbol, "dry_run", cfg.Trading.DryRun)

	st, err := store.Open(cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	adapter := binance.NewAdapter(binance.Config{
		APIKey:      string(cfg.Exchange.APIKey),
		APISecret:   string(cfg.Exchange.APISecret),
		Testnet:     cfg.Exchange.Testnet,
		RecvWindow:  60000,
		RetryPolicy: retry.DefaultPolicy,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connect exchange: %w", err)
	}

	symbolInfo, err := adapter.GetSymbolInfo(ctx, cfg.Trading.Symbol)
	if err != nil {
		return fmt.Errorf("get symbol info for %s: %w", cfg.Trading.Symbol, err)
	}

	var exch core.IExchange = adapter
	if cfg.Trading.DryRun {
		exch = exchange.NewDryRunExchange(adapter, logger)
	}

	// Testnet stream infrastructure is less reliable than mainnet; fall back
	// to REST polling there and keep the push handler for production.
	var ws core.IWebSocketHandler
	if cfg.Exchange.Testnet {
		ws = exchange.NewPollingWebSocketHandler(exch, 2*time.Second, logger)
	} else {
		ws = binance.NewStreamHandler(logger)
	}

	execCtx := execution.New(exch, st, logger)

	gridCfg, err := buildGridConfig(cfg)
	if err != nil {
		return fmt.Errorf("build grid config: %w", err)
	}

	sizer, err := risk.NewGridSizer(decimal.NewFromFloat(0.95), decimal.NewFromFloat(0.05), cfg.Grid.NumGrids)
	if err != nil {
		return fmt.Errorf("build grid sizer: %w", err)
	}

	strategy, err := loadOrCreateStrategy(ctx, st, gridCfg, sizer, symbolInfo.TickSize, logger)
	if err != nil {
		return fmt.Errorf("build grid strategy: %w", err)
	}

	riskManager := buildRiskManager(cfg.Risk.Preset, logger)

	reconciler := risk.NewReconciler(exch, st, strategy, logger, cfg.Trading.Symbol, strategyName, "gridbot-", risk.TrustExchange)

	var alerts *alert.Manager
	if cfg.Alert.Enabled {
		alerts = buildAlertManager(cfg, logger)
		reconciler.SetAlertChannel(alerts)
	}

	auditLogger, err := audit.Open(cfg.DB.URL + ".audit.jsonl")
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLogger.Close()

	healthMgr := health.NewHealthManager(logger)

	orch := orchestrator.New(orchestrator.Deps{
		Symbol:                 cfg.Trading.Symbol,
		ClientIDPrefix:         "gridbot-",
		BaseCurrency:           cfg.Grid.BaseCurrency,
		QuoteCurrency:          cfg.Grid.QuoteCurrency,
		Exchange:               exch,
		WebSocket:              ws,
		Store:                  st,
		ExecCtx:                execCtx,
		Strategy:               strategy,
		Risk:                   riskManager,
		Reconciler:             reconciler,
		Alerts:                 alerts,
		Audit:                  auditLogger,
		Health:                 healthMgr,
		Logger:                 logger,
		ReconcileInterval:      time.Duration(cfg.Risk.ReconcileIntervalSeconds) * time.Second,
		EquitySnapshotInterval: time.Duration(cfg.Risk.EquitySnapshotIntervalSec) * time.Second,
	})

	apiServer := api.NewServer(orch, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return apiServer.Start(gctx, ":"+cfg.Server.Port) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return fmt.Errorf("gridbot stopped with error: %w", err)
	}

	logger.Info("gridbot stopped cleanly")
	return nil
}

func buildGridConfig(cfg *config.Config) (grid.Config, error) {
	lower, err := decimal.NewFromString(cfg.Grid.LowerPrice)
	if err != nil {
		return grid.Config{}, fmt.Errorf("parse lower_price: %w", err)
	}
	upper, err := decimal.NewFromString(cfg.Grid.UpperPrice)
	if err != nil {
		return grid.Config{}, fmt.Errorf("parse upper_price: %w", err)
	}
	investment, err := decimal.NewFromString(cfg.Grid.TotalInvestment)
	if err != nil {
		return grid.Config{}, fmt.Errorf("parse total_investment: %w", err)
	}
	stopLossPct := decimal.Zero
	if cfg.Grid.StopLossPct != "" {
		stopLossPct, err = decimal.NewFromString(cfg.Grid.StopLossPct)
		if err != nil {
			return grid.Config{}, fmt.Errorf("parse stop_loss_pct: %w", err)
		}
	}

	return grid.Config{
		Symbol:          cfg.Trading.Symbol,
		BaseCurrency:    cfg.Grid.BaseCurrency,
		QuoteCurrency:   cfg.Grid.QuoteCurrency,
		LowerPrice:      lower,
		UpperPrice:      upper,
		NumGrids:        cfg.Grid.NumGrids,
		TotalInvestment: investment,
		Spacing:         grid.SpacingKind(cfg.Grid.Spacing),
		StopLossPct:     stopLossPct,
		Mode:            grid.Mode(cfg.Grid.Mode),
	}, nil
}

// loadOrCreateStrategy restores the grid ladder from its last persisted
// snapshot, or builds a fresh one if this is the first run for this
// strategy name.
func loadOrCreateStrategy(ctx context.Context, st core.IPersistence, gridCfg grid.Config, sizer core.IPositionSizer, tickSize decimal.Decimal, logger core.ILogger) (*grid.Strategy, error) {
	snap, found, err := st.LoadStrategySnapshot(ctx, strategyName)
	if err != nil {
		return nil, fmt.Errorf("load strategy snapshot: %w", err)
	}
	if found {
		logger.Info("restoring grid strategy from persisted snapshot")
		return grid.Restore(snap, sizer, st, tickSize, logger)
	}
	logger.Info("no persisted snapshot found, building a fresh grid strategy")
	return grid.New(gridCfg, sizer, st, tickSize, logger)
}

func buildRiskManager(preset string, logger core.ILogger) *risk.Manager {
	switch preset {
	case "conservative":
		return risk.Conservative(logger)
	case "aggressive":
		return risk.Aggressive(logger)
	default:
		return risk.Moderate(logger)
	}
}

func buildAlertManager(cfg *config.Config, logger core.ILogger) *alert.Manager {
	manager := alert.NewManager(logger)
	if cfg.Alert.DiscordWebhookURL != "" {
		manager.AddChannel(alert.NewDiscordChannel(string(cfg.Alert.DiscordWebhookURL)))
	}
	if cfg.Alert.TelegramBotToken != "" && cfg.Alert.TelegramChatID != "" {
		manager.AddChannel(alert.NewTelegramChannel(string(cfg.Alert.TelegramBotToken), cfg.Alert.TelegramChatID))
	}
	return manager
}
