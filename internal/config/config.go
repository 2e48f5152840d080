// Package config handles configuration management with validation. Values
// are loaded from nested SECTION__KEY environment variables; an optional
// YAML defaults file may be merged underneath them for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete, validated runtime configuration.
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	DB       DBConfig       `yaml:"db"`
	Trading  TradingConfig  `yaml:"trading"`
	Alert    AlertConfig    `yaml:"alert"`
	Grid     GridConfig     `yaml:"grid"`
	Server   ServerConfig   `yaml:"server"`
	Risk     RiskConfig     `yaml:"risk"`
	LogLevel string         `yaml:"log_level"`
	JSONLogs bool           `yaml:"json_logs"`
}

// ExchangeConfig holds EXCHANGE__* settings.
type ExchangeConfig struct {
	Name        string `yaml:"name" validate:"required"`
	APIKey      Secret `yaml:"api_key" validate:"required"`
	APISecret   Secret `yaml:"api_secret" validate:"required"`
	Testnet     bool   `yaml:"testnet"`
	RateLimitMs int    `yaml:"rate_limit_ms" validate:"min=50,max=1000"`
	TimeoutMs   int    `yaml:"timeout_ms" validate:"min=5000,max=60000"`
}

// DBConfig holds DB__* settings.
type DBConfig struct {
	URL      string `yaml:"url" validate:"required"`
	Echo     bool   `yaml:"echo"`
	PoolSize int    `yaml:"pool_size" validate:"min=1,max=20"`
}

// TradingConfig holds TRADING__* settings.
type TradingConfig struct {
	Symbol         string  `yaml:"symbol" validate:"required"`
	DryRun         bool    `yaml:"dry_run"`
	MaxPositionPct float64 `yaml:"max_position_pct" validate:"min=0.01,max=1.0"`
}

// AlertConfig holds ALERT__* settings.
type AlertConfig struct {
	TelegramBotToken  Secret `yaml:"telegram_bot_token"`
	TelegramChatID    string `yaml:"telegram_chat_id"`
	DiscordWebhookURL Secret `yaml:"discord_webhook_url"`
	Enabled           bool   `yaml:"enabled"`
}

// GridConfig holds GRID__* settings describing the ladder the orchestrator
// builds trading.grid.Config from. Prices and investment are carried as
// strings and parsed with decimal.NewFromString at wiring time, the same
// pattern store.dec uses, rather than teaching Config to decimal-unmarshal.
type GridConfig struct {
	BaseCurrency    string `yaml:"base_currency" validate:"required"`
	QuoteCurrency   string `yaml:"quote_currency" validate:"required"`
	LowerPrice      string `yaml:"lower_price" validate:"required"`
	UpperPrice      string `yaml:"upper_price" validate:"required"`
	NumGrids        int    `yaml:"num_grids" validate:"min=3,max=100"`
	TotalInvestment string `yaml:"total_investment" validate:"required"`
	Spacing         string `yaml:"spacing"` // "arithmetic" or "geometric"
	StopLossPct     string `yaml:"stop_loss_pct"`
	Mode            string `yaml:"mode"` // "long" or "neutral"
}

// ServerConfig holds SERVER__* settings for the HTTP control/observability API.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// RiskConfig holds RISK__* settings selecting and tuning the risk manager.
type RiskConfig struct {
	Preset                    string `yaml:"preset"` // "conservative", "moderate", "aggressive"
	ReconcileIntervalSeconds  int    `yaml:"reconcile_interval_seconds"`
	EquitySnapshotIntervalSec int    `yaml:"equity_snapshot_interval_seconds"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load builds a Config from environment variables, optionally merging a
// YAML defaults file underneath them first.
func Load(defaultsFile string) (*Config, error) {
	cfg := DefaultConfig()

	if defaultsFile != "" {
		if data, err := os.ReadFile(defaultsFile); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse defaults file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read defaults file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnv(c *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	secret := func(key string, dst *Secret) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = Secret(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	str("EXCHANGE__NAME", &c.Exchange.Name)
	secret("EXCHANGE__API_KEY", &c.Exchange.APIKey)
	secret("EXCHANGE__API_SECRET", &c.Exchange.APISecret)
	boolean("EXCHANGE__TESTNET", &c.Exchange.Testnet)
	integer("EXCHANGE__RATE_LIMIT_MS", &c.Exchange.RateLimitMs)
	integer("EXCHANGE__TIMEOUT_MS", &c.Exchange.TimeoutMs)

	str("DB__URL", &c.DB.URL)
	boolean("DB__ECHO", &c.DB.Echo)
	integer("DB__POOL_SIZE", &c.DB.PoolSize)

	str("TRADING__SYMBOL", &c.Trading.Symbol)
	boolean("TRADING__DRY_RUN", &c.Trading.DryRun)
	float("TRADING__MAX_POSITION_PCT", &c.Trading.MaxPositionPct)

	secret("ALERT__TELEGRAM_BOT_TOKEN", &c.Alert.TelegramBotToken)
	str("ALERT__TELEGRAM_CHAT_ID", &c.Alert.TelegramChatID)
	secret("ALERT__DISCORD_WEBHOOK_URL", &c.Alert.DiscordWebhookURL)
	boolean("ALERT__ENABLED", &c.Alert.Enabled)

	str("GRID__BASE_CURRENCY", &c.Grid.BaseCurrency)
	str("GRID__QUOTE_CURRENCY", &c.Grid.QuoteCurrency)
	str("GRID__LOWER_PRICE", &c.Grid.LowerPrice)
	str("GRID__UPPER_PRICE", &c.Grid.UpperPrice)
	integer("GRID__NUM_GRIDS", &c.Grid.NumGrids)
	str("GRID__TOTAL_INVESTMENT", &c.Grid.TotalInvestment)
	str("GRID__SPACING", &c.Grid.Spacing)
	str("GRID__STOP_LOSS_PCT", &c.Grid.StopLossPct)
	str("GRID__MODE", &c.Grid.Mode)

	str("SERVER__PORT", &c.Server.Port)

	str("RISK__PRESET", &c.Risk.Preset)
	integer("RISK__RECONCILE_INTERVAL_SECONDS", &c.Risk.ReconcileIntervalSeconds)
	integer("RISK__EQUITY_SNAPSHOT_INTERVAL_SECONDS", &c.Risk.EquitySnapshotIntervalSec)

	str("LOG_LEVEL", &c.LogLevel)
	boolean("JSON_LOGS", &c.JSONLogs)
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string
	for _, fn := range []func() error{
		c.validateExchange,
		c.validateDB,
		c.validateTrading,
		c.validateGrid,
		c.validateRisk,
		c.validateLogLevel,
	} {
		if err := fn(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.Name == "" {
		return ValidationError{Field: "exchange.name", Message: "exchange name is required"}
	}
	if c.Exchange.APIKey == "" {
		return ValidationError{Field: "exchange.api_key", Message: "API key is required"}
	}
	if c.Exchange.APISecret == "" {
		return ValidationError{Field: "exchange.api_secret", Message: "API secret is required"}
	}
	if c.Exchange.RateLimitMs < 50 || c.Exchange.RateLimitMs > 1000 {
		return ValidationError{Field: "exchange.rate_limit_ms", Value: c.Exchange.RateLimitMs, Message: "must be between 50 and 1000"}
	}
	if c.Exchange.TimeoutMs < 5000 || c.Exchange.TimeoutMs > 60000 {
		return ValidationError{Field: "exchange.timeout_ms", Value: c.Exchange.TimeoutMs, Message: "must be between 5000 and 60000"}
	}
	return nil
}

func (c *Config) validateDB() error {
	if c.DB.URL == "" {
		return ValidationError{Field: "db.url", Message: "database URL is required"}
	}
	if c.DB.PoolSize < 1 || c.DB.PoolSize > 20 {
		return ValidationError{Field: "db.pool_size", Value: c.DB.PoolSize, Message: "must be between 1 and 20"}
	}
	return nil
}

func (c *Config) validateTrading() error {
	if c.Trading.Symbol == "" {
		return ValidationError{Field: "trading.symbol", Message: "trading symbol is required"}
	}
	if c.Trading.MaxPositionPct < 0.01 || c.Trading.MaxPositionPct > 1.0 {
		return ValidationError{Field: "trading.max_position_pct", Value: c.Trading.MaxPositionPct, Message: "must be between 0.01 and 1.0"}
	}
	return nil
}

func (c *Config) validateGrid() error {
	if c.Grid.NumGrids < 3 || c.Grid.NumGrids > 100 {
		return ValidationError{Field: "grid.num_grids", Value: c.Grid.NumGrids, Message: "must be between 3 and 100"}
	}
	if c.Grid.LowerPrice == "" || c.Grid.UpperPrice == "" {
		return ValidationError{Field: "grid.lower_price/upper_price", Message: "lower_price and upper_price are required"}
	}
	if c.Grid.TotalInvestment == "" {
		return ValidationError{Field: "grid.total_investment", Message: "total_investment is required"}
	}
	if c.Grid.Spacing != "arithmetic" && c.Grid.Spacing != "geometric" {
		return ValidationError{Field: "grid.spacing", Value: c.Grid.Spacing, Message: `must be "arithmetic" or "geometric"`}
	}
	if c.Grid.Mode != "long" && c.Grid.Mode != "neutral" {
		return ValidationError{Field: "grid.mode", Value: c.Grid.Mode, Message: `must be "long" or "neutral"`}
	}
	return nil
}

func (c *Config) validateRisk() error {
	switch c.Risk.Preset {
	case "conservative", "moderate", "aggressive":
	default:
		return ValidationError{Field: "risk.preset", Value: c.Risk.Preset, Message: `must be "conservative", "moderate", or "aggressive"`}
	}
	return nil
}

func (c *Config) validateLogLevel() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.LogLevel)) {
		return ValidationError{Field: "log_level", Value: c.LogLevel, Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", "))}
	}
	return nil
}

// String returns a string representation of the configuration safe to log;
// every Secret field redacts itself via MarshalYAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns sane defaults overridden by Load's env pass.
func DefaultConfig() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Name:        "binance",
			RateLimitMs: 200,
			TimeoutMs:   10000,
		},
		DB: DBConfig{
			URL:      "gridbot.db",
			PoolSize: 5,
		},
		Trading: TradingConfig{
			Symbol:         "BTCUSDT",
			MaxPositionPct: 1.0,
		},
		Grid: GridConfig{
			BaseCurrency:    "BTC",
			QuoteCurrency:   "USDT",
			LowerPrice:      "25000",
			UpperPrice:      "35000",
			NumGrids:        10,
			TotalInvestment: "1000",
			Spacing:         "arithmetic",
			StopLossPct:     "0",
			Mode:            "long",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Risk: RiskConfig{
			Preset:                    "moderate",
			ReconcileIntervalSeconds:  0,
			EquitySnapshotIntervalSec: 60,
		},
		LogLevel: "INFO",
	}
}
