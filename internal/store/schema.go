package store

// schema is the full logical schema from spec section 6: trades (trade
// cycles), orders, strategy_states, balance_snapshots, equity_points,
// ohlcv_cache, and alert_logs, each with the indexes the query surface
// needs.
const schema = `
CREATE TABLE IF NOT EXISTS trade_cycles (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange    TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	is_open     INTEGER NOT NULL,
	side        TEXT NOT NULL,
	open_rate   TEXT NOT NULL,
	amount      TEXT NOT NULL,
	open_date   INTEGER NOT NULL,
	close_rate  TEXT NOT NULL DEFAULT '0',
	close_date  INTEGER,
	stop_loss   TEXT NOT NULL DEFAULT '0',
	take_profit TEXT NOT NULL DEFAULT '0',
	profit      TEXT NOT NULL DEFAULT '0',
	profit_pct  TEXT NOT NULL DEFAULT '0',
	fee         TEXT NOT NULL DEFAULT '0'
);
CREATE INDEX IF NOT EXISTS idx_trade_cycles_symbol_open ON trade_cycles(symbol, is_open);
CREATE INDEX IF NOT EXISTS idx_trade_cycles_strategy_symbol_open ON trade_cycles(strategy, symbol, is_open);
CREATE INDEX IF NOT EXISTS idx_trade_cycles_close_date ON trade_cycles(close_date);

CREATE TABLE IF NOT EXISTS orders (
	exchange_order_id TEXT PRIMARY KEY,
	client_order_id   TEXT,
	trade_id          INTEGER,
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	type              TEXT NOT NULL,
	status            TEXT NOT NULL,
	price             TEXT NOT NULL DEFAULT '0',
	amount            TEXT NOT NULL DEFAULT '0',
	filled            TEXT NOT NULL DEFAULT '0',
	remaining         TEXT NOT NULL DEFAULT '0',
	cost              TEXT NOT NULL DEFAULT '0',
	fee               TEXT NOT NULL DEFAULT '0',
	fee_currency      TEXT,
	timestamp         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders(symbol, status);
CREATE INDEX IF NOT EXISTS idx_orders_trade_id ON orders(trade_id);

CREATE TABLE IF NOT EXISTS strategy_states (
	name       TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	payload    BLOB NOT NULL,
	checksum   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS balance_snapshots (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	exchange  TEXT NOT NULL,
	currency  TEXT NOT NULL,
	total     TEXT NOT NULL,
	free      TEXT NOT NULL,
	used      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_balance_snapshots_currency_ts ON balance_snapshots(currency, timestamp);

CREATE TABLE IF NOT EXISTS equity_points (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	equity    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_equity_points_timestamp ON equity_points(timestamp);

CREATE TABLE IF NOT EXISTS ohlcv_cache (
	exchange  TEXT NOT NULL,
	symbol    TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	open      TEXT NOT NULL,
	high      TEXT NOT NULL,
	low       TEXT NOT NULL,
	close     TEXT NOT NULL,
	volume    TEXT NOT NULL,
	PRIMARY KEY (exchange, symbol, timeframe, timestamp)
);

CREATE TABLE IF NOT EXISTS alert_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  INTEGER NOT NULL,
	alert_type TEXT NOT NULL,
	channel    TEXT NOT NULL,
	message    TEXT NOT NULL,
	metadata   BLOB,
	delivered  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_logs_timestamp ON alert_logs(timestamp);
`
