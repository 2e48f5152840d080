// Package store is the SQLite-backed persistence layer (spec section 6,
// C6): orders, trade cycles, strategy snapshots, balance/equity history,
// the on-disk OHLCV tier, and the alert log. Grounded on the teacher's
// SQLiteStore (market_maker/internal/engine/simple/store_sqlite.go): plain
// database/sql over mattn/go-sqlite3, WAL journaling, and a checksum on
// every snapshot write.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/opensqt/gridbot/internal/core"
)

// SQLiteStore implements core.IPersistence.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (if necessary) and migrates the database at path, enabling
// WAL mode for crash recovery the way the teacher's engine does.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 serializes writers; avoid SQLITE_BUSY churn

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (s *SQLiteStore) UpsertOrder(ctx context.Context, o core.Order, tradeID int64) error {
	var tradeIDArg interface{}
	if tradeID > 0 {
		tradeIDArg = tradeID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (exchange_order_id, client_order_id, trade_id, symbol, side, type, status, price, amount, filled, remaining, cost, fee, fee_currency, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(exchange_order_id) DO UPDATE SET
			client_order_id=excluded.client_order_id,
			trade_id=COALESCE(excluded.trade_id, orders.trade_id),
			status=excluded.status,
			price=excluded.price,
			filled=excluded.filled,
			remaining=excluded.remaining,
			cost=excluded.cost,
			fee=excluded.fee,
			fee_currency=excluded.fee_currency,
			timestamp=excluded.timestamp
	`,
		o.ExchangeOrderID, o.ClientOrderID, tradeIDArg, o.Symbol, string(o.Side), string(o.Type), string(o.Status),
		o.Price.String(), o.Amount.String(), o.Filled.String(), o.Remaining.String(), o.Cost.String(),
		o.Fee.String(), o.FeeCurrency, o.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

func (s *SQLiteStore) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT exchange_order_id, client_order_id, symbol, side, type, status, price, amount, filled, remaining, cost, fee, fee_currency, timestamp
		FROM orders WHERE symbol = ? AND status = 'open' ORDER BY timestamp ASC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	var out []core.Order
	for rows.Next() {
		var o core.Order
		var side, typ, status, price, amount, filled, remaining, cost, fee string
		var ts int64
		var feeCurrency sql.NullString
		if err := rows.Scan(&o.ExchangeOrderID, &o.ClientOrderID, &o.Symbol, &side, &typ, &status, &price, &amount, &filled, &remaining, &cost, &fee, &feeCurrency, &ts); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side, o.Type, o.Status = core.OrderSide(side), core.OrderType(typ), core.OrderStatus(status)
		o.Price, o.Amount, o.Filled, o.Remaining, o.Cost, o.Fee = dec(price), dec(amount), dec(filled), dec(remaining), dec(cost), dec(fee)
		o.FeeCurrency = feeCurrency.String
		o.Timestamp = time.UnixMilli(ts)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ClosedOrders returns persisted orders for symbol whose status is
// terminal (closed, canceled, or expired) — used by the reconciler to
// detect the "persisted closed, exchange still open" discrepancy (spec
// section 4.14 step 3).
func (s *SQLiteStore) ClosedOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT exchange_order_id, client_order_id, symbol, side, type, status, price, amount, filled, remaining, cost, fee, fee_currency, timestamp
		FROM orders WHERE symbol = ? AND status != 'open' ORDER BY timestamp ASC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query closed orders: %w", err)
	}
	defer rows.Close()

	var out []core.Order
	for rows.Next() {
		var o core.Order
		var side, typ, status, price, amount, filled, remaining, cost, fee string
		var ts int64
		var feeCurrency sql.NullString
		if err := rows.Scan(&o.ExchangeOrderID, &o.ClientOrderID, &o.Symbol, &side, &typ, &status, &price, &amount, &filled, &remaining, &cost, &fee, &feeCurrency, &ts); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side, o.Type, o.Status = core.OrderSide(side), core.OrderType(typ), core.OrderStatus(status)
		o.Price, o.Amount, o.Filled, o.Remaining, o.Cost, o.Fee = dec(price), dec(amount), dec(filled), dec(remaining), dec(cost), dec(fee)
		o.FeeCurrency = feeCurrency.String
		o.Timestamp = time.UnixMilli(ts)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateTradeCycle(ctx context.Context, tc core.TradeCycle) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_cycles (exchange, symbol, strategy, is_open, side, open_rate, amount, open_date, stop_loss, take_profit)
		VALUES (?,?,?,1,?,?,?,?,?,?)
	`, tc.Exchange, tc.Symbol, tc.Strategy, string(tc.Side), tc.OpenRate.String(), tc.Amount.String(), tc.OpenDate.UnixMilli(), tc.StopLoss.String(), tc.TakeProfit.String())
	if err != nil {
		return 0, fmt.Errorf("create trade cycle: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) CloseTradeCycle(ctx context.Context, id int64, closeRate decimal.Decimal, closeDate time.Time, profit, profitPct, fee decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trade_cycles SET is_open = 0, close_rate = ?, close_date = ?, profit = ?, profit_pct = ?, fee = fee + ?
		WHERE id = ? AND is_open = 1
	`, closeRate.String(), closeDate.UnixMilli(), profit.String(), profitPct.String(), fee.String(), id)
	if err != nil {
		return fmt.Errorf("close trade cycle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("close trade cycle %d: no open cycle with that id", id)
	}
	return nil
}

func (s *SQLiteStore) scanTradeCycles(rows *sql.Rows) ([]core.TradeCycle, error) {
	var out []core.TradeCycle
	for rows.Next() {
		var tc core.TradeCycle
		var isOpen int
		var side, openRate, amount, closeRate, stopLoss, takeProfit, profit, profitPct, fee string
		var openDate int64
		var closeDate sql.NullInt64
		if err := rows.Scan(&tc.ID, &tc.Exchange, &tc.Symbol, &tc.Strategy, &isOpen, &side, &openRate, &amount, &openDate, &closeRate, &closeDate, &stopLoss, &takeProfit, &profit, &profitPct, &fee); err != nil {
			return nil, fmt.Errorf("scan trade cycle: %w", err)
		}
		tc.IsOpen = isOpen == 1
		tc.Side = core.OrderSide(side)
		tc.OpenRate, tc.Amount, tc.CloseRate = dec(openRate), dec(amount), dec(closeRate)
		tc.StopLoss, tc.TakeProfit, tc.Profit, tc.ProfitPct, tc.Fee = dec(stopLoss), dec(takeProfit), dec(profit), dec(profitPct), dec(fee)
		tc.OpenDate = time.UnixMilli(openDate)
		if closeDate.Valid {
			tc.CloseDate = time.UnixMilli(closeDate.Int64)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

const tradeCycleColumns = `id, exchange, symbol, strategy, is_open, side, open_rate, amount, open_date, close_rate, close_date, stop_loss, take_profit, profit, profit_pct, fee`

func (s *SQLiteStore) OpenTradeCycles(ctx context.Context, strategy, symbol string) ([]core.TradeCycle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tradeCycleColumns+` FROM trade_cycles WHERE strategy = ? AND symbol = ? AND is_open = 1 ORDER BY open_date ASC`, strategy, symbol)
	if err != nil {
		return nil, fmt.Errorf("query open trade cycles: %w", err)
	}
	defer rows.Close()
	return s.scanTradeCycles(rows)
}

func (s *SQLiteStore) TradeHistory(ctx context.Context, symbol string, since, until time.Time, limit int) ([]core.TradeCycle, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tradeCycleColumns+` FROM trade_cycles
		WHERE symbol = ? AND open_date >= ? AND open_date <= ? AND is_open = 0
		ORDER BY close_date DESC LIMIT ?
	`, symbol, since.UnixMilli(), until.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query trade history: %w", err)
	}
	defer rows.Close()
	return s.scanTradeCycles(rows)
}

func (s *SQLiteStore) SaveStrategySnapshot(ctx context.Context, snap core.StrategySnapshot) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	checksum := sha256.Sum256(snap.Payload)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO strategy_states (name, version, payload, checksum, updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET version=excluded.version, payload=excluded.payload, checksum=excluded.checksum, updated_at=excluded.updated_at
	`, snap.Name, snap.Version, snap.Payload, checksum[:], time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save strategy snapshot: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadStrategySnapshot(ctx context.Context, name string) (core.StrategySnapshot, bool, error) {
	var snap core.StrategySnapshot
	var checksum []byte
	err := s.db.QueryRowContext(ctx, `SELECT name, version, payload, checksum FROM strategy_states WHERE name = ?`, name).
		Scan(&snap.Name, &snap.Version, &snap.Payload, &checksum)
	if err == sql.ErrNoRows {
		return core.StrategySnapshot{}, false, nil
	}
	if err != nil {
		return core.StrategySnapshot{}, false, fmt.Errorf("load strategy snapshot: %w", err)
	}
	computed := sha256.Sum256(snap.Payload)
	if len(checksum) != len(computed) || string(checksum) != string(computed[:]) {
		return core.StrategySnapshot{}, false, fmt.Errorf("strategy snapshot %q: checksum mismatch, data may be corrupted", name)
	}
	return snap, true, nil
}

func (s *SQLiteStore) AppendBalanceSnapshot(ctx context.Context, b core.BalanceSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balance_snapshots (timestamp, exchange, currency, total, free, used) VALUES (?,?,?,?,?,?)
	`, b.Timestamp.UnixMilli(), b.Exchange, b.Currency, b.Total.String(), b.Free.String(), b.Used.String())
	if err != nil {
		return fmt.Errorf("append balance snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendEquityPoint(ctx context.Context, e core.EquityPoint) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO equity_points (timestamp, equity) VALUES (?,?)`, e.Timestamp.UnixMilli(), e.Equity.String())
	if err != nil {
		return fmt.Errorf("append equity point: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EquityHistory(ctx context.Context, since time.Time) ([]core.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, equity FROM equity_points WHERE timestamp >= ? ORDER BY timestamp ASC`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query equity history: %w", err)
	}
	defer rows.Close()

	var out []core.EquityPoint
	for rows.Next() {
		var ts int64
		var equity string
		if err := rows.Scan(&ts, &equity); err != nil {
			return nil, fmt.Errorf("scan equity point: %w", err)
		}
		out = append(out, core.EquityPoint{Timestamp: time.UnixMilli(ts), Equity: dec(equity)})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutOHLCV(ctx context.Context, exchange, symbol, timeframe string, candles []core.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ohlcv tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ohlcv_cache (exchange, symbol, timeframe, timestamp, open, high, low, close, volume) VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(exchange, symbol, timeframe, timestamp) DO UPDATE SET open=excluded.open, high=excluded.high, low=excluded.low, close=excluded.close, volume=excluded.volume
	`)
	if err != nil {
		return fmt.Errorf("prepare ohlcv insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, exchange, symbol, timeframe, c.Timestamp.UnixMilli(), c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String()); err != nil {
			return fmt.Errorf("put ohlcv candle: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetOHLCV(ctx context.Context, exchange, symbol, timeframe string, start, end time.Time) ([]core.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume FROM ohlcv_cache
		WHERE exchange = ? AND symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, exchange, symbol, timeframe, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query ohlcv: %w", err)
	}
	defer rows.Close()

	var out []core.Candle
	for rows.Next() {
		var ts int64
		var o, h, l, c, v string
		if err := rows.Scan(&ts, &o, &h, &l, &c, &v); err != nil {
			return nil, fmt.Errorf("scan ohlcv candle: %w", err)
		}
		out = append(out, core.Candle{Timestamp: time.UnixMilli(ts), Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c), Volume: dec(v)})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendAlertLog(ctx context.Context, alertType, channel, message string, metadataJSON []byte, delivered bool) error {
	deliveredInt := 0
	if delivered {
		deliveredInt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_logs (timestamp, alert_type, channel, message, metadata, delivered) VALUES (?,?,?,?,?,?)
	`, time.Now().UnixMilli(), alertType, channel, message, metadataJSON, deliveredInt)
	if err != nil {
		return fmt.Errorf("append alert log: %w", err)
	}
	return nil
}

var _ core.IPersistence = (*SQLiteStore)(nil)
