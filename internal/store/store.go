// Package store persists the mirror engine's event log in SQLite.
//
// Three tables, all keyed by account so one database file serves every
// configured account:
//
//   - fills:         source fills as appended by the monitor feed, each
//     carrying a processing status and failure detail
//   - orders:        source limit-order lifecycle events
//   - mirror_orders: audit trail of orders this engine placed on the
//     destination venue
//
// Log ids are assigned by SQLite on insert; event ordering is
// (timestamp, id) so same-millisecond fills replay in arrival order.
// The database is opened in WAL mode with a single connection; SQLite
// serializes writers anyway and one connection avoids SQLITE_BUSY churn.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hl-mirror/pkg/types"
)

// Store wraps the SQLite event log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the event log at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping event log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	account        TEXT NOT NULL,
	tx_hash        TEXT NOT NULL DEFAULT '',
	timestamp      INTEGER NOT NULL,
	coin           TEXT NOT NULL,
	side           TEXT NOT NULL,
	size           REAL NOT NULL,
	price          REAL NOT NULL,
	direction      TEXT NOT NULL DEFAULT '',
	start_position REAL NOT NULL DEFAULT 0,
	closed_pnl     REAL NOT NULL DEFAULT 0,
	oid            INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'pending',
	detail         TEXT NOT NULL DEFAULT '',
	updated_at     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_fills_pending ON fills (account, status, timestamp, id);
CREATE INDEX IF NOT EXISTS idx_fills_tx ON fills (account, tx_hash);

CREATE TABLE IF NOT EXISTS orders (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	account    TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	coin       TEXT NOT NULL,
	action     TEXT NOT NULL,
	side       TEXT NOT NULL,
	size       REAL NOT NULL DEFAULT 0,
	price      REAL NOT NULL DEFAULT 0,
	order_id   INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'pending',
	detail     TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_orders_pending ON orders (account, status, timestamp, id);

CREATE TABLE IF NOT EXISTS mirror_orders (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      INTEGER NOT NULL,
	account        TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	order_type     TEXT NOT NULL,
	trade_type     TEXT NOT NULL,
	size           REAL NOT NULL,
	price          REAL NOT NULL,
	venue_order_id TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT 'system'
);
CREATE INDEX IF NOT EXISTS idx_mirror_account ON mirror_orders (account, timestamp DESC);
`

// ————————————————————————————————————————————————————————————————————————
// Fills
// ————————————————————————————————————————————————————————————————————————

// InsertFill appends a source fill to the log as pending and returns the
// assigned log id. Transaction-level deduplication is the classifier's
// concern, not the log's; every observed fill is recorded.
func (s *Store) InsertFill(ctx context.Context, account string, f types.SourceFill) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fills
			(account, tx_hash, timestamp, coin, side, size, price,
			 direction, start_position, closed_pnl, oid, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		account, f.TxHash, f.Timestamp.UnixMilli(), f.Coin, f.Side, f.Size,
		f.Price, f.Direction, f.StartPosition, f.ClosedPnL, f.OID,
		time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert fill: %w", err)
	}
	return res.LastInsertId()
}

// PendingFills returns the account's unprocessed fills in event order
// (timestamp, then log id for same-millisecond fills).
func (s *Store) PendingFills(ctx context.Context, account string, limit int) ([]types.SourceFill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_hash, timestamp, coin, side, size, price,
		       direction, start_position, closed_pnl, oid
		FROM fills
		WHERE account = ? AND status = 'pending'
		ORDER BY timestamp, id
		LIMIT ?`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("pending fills: %w", err)
	}
	defer rows.Close()

	var out []types.SourceFill
	for rows.Next() {
		var f types.SourceFill
		var ts int64
		if err := rows.Scan(&f.ID, &f.TxHash, &ts, &f.Coin, &f.Side,
			&f.Size, &f.Price, &f.Direction, &f.StartPosition, &f.ClosedPnL, &f.OID); err != nil {
			return nil, err
		}
		f.Timestamp = time.UnixMilli(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateFillStatus marks one fill's processing outcome. detail carries
// the failure reason for failed fills, empty otherwise.
func (s *Store) UpdateFillStatus(ctx context.Context, account string, id int64, status types.ProcessStatus, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fills SET status = ?, detail = ?, updated_at = ?
		WHERE account = ? AND id = ?`,
		string(status), detail, time.Now().UnixMilli(), account, id)
	if err != nil {
		return fmt.Errorf("update fill %d: %w", id, err)
	}
	return nil
}

// ProcessedTxHashes returns the account's most recently processed
// transaction hashes, capped at limit. Loaded once at worker start to
// seed the in-memory dedup set.
func (s *Store) ProcessedTxHashes(ctx context.Context, account string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tx_hash FROM fills
		WHERE account = ? AND status = 'processed' AND tx_hash != '' AND tx_hash != ?
		ORDER BY timestamp DESC
		LIMIT ?`, account, types.SentinelTxHash, limit)
	if err != nil {
		return nil, fmt.Errorf("processed tx hashes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Source orders
// ————————————————————————————————————————————————————————————————————————

// InsertOrder appends a source limit-order event as pending and returns
// the assigned log id.
func (s *Store) InsertOrder(ctx context.Context, account string, o types.SourceOrder) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(account, timestamp, coin, action, side, size, price, order_id, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		account, o.Timestamp.UnixMilli(), o.Coin, string(o.Action), o.Side,
		o.Size, o.Price, o.OrderID, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return res.LastInsertId()
}

// PendingOrders returns the account's unprocessed order events in event
// order.
func (s *Store) PendingOrders(ctx context.Context, account string, limit int) ([]types.SourceOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, coin, action, side, size, price, order_id
		FROM orders
		WHERE account = ? AND status = 'pending'
		ORDER BY timestamp, id
		LIMIT ?`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("pending orders: %w", err)
	}
	defer rows.Close()

	var out []types.SourceOrder
	for rows.Next() {
		var o types.SourceOrder
		var ts int64
		var action string
		if err := rows.Scan(&o.ID, &ts, &o.Coin, &action, &o.Side,
			&o.Size, &o.Price, &o.OrderID); err != nil {
			return nil, err
		}
		o.Timestamp = time.UnixMilli(ts)
		o.Action = types.OrderAction(action)
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOrderStatus marks one order event's processing outcome.
func (s *Store) UpdateOrderStatus(ctx context.Context, account string, id int64, status types.ProcessStatus, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, detail = ?, updated_at = ?
		WHERE account = ? AND id = ?`,
		string(status), detail, time.Now().UnixMilli(), account, id)
	if err != nil {
		return fmt.Errorf("update order %d: %w", id, err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Mirror audit trail
// ————————————————————————————————————————————————————————————————————————

// InsertMirrorOrder appends one placed destination order to the audit
// trail and returns its id.
func (s *Store) InsertMirrorOrder(ctx context.Context, m types.MirrorOrder) (int64, error) {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	source := m.Source
	if source == "" {
		source = "system"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mirror_orders
			(timestamp, account, symbol, side, order_type, trade_type,
			 size, price, venue_order_id, status, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixMilli(), m.Account, m.Symbol, string(m.Side), m.OrderType,
		m.TradeType, m.Size, m.Price, m.VenueOrderID, m.Status, source)
	if err != nil {
		return 0, fmt.Errorf("insert mirror order: %w", err)
	}
	return res.LastInsertId()
}

// MirrorOrders returns the account's audit trail, newest first.
func (s *Store) MirrorOrders(ctx context.Context, account string, limit, offset int) ([]types.MirrorOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, account, symbol, side, order_type, trade_type,
		       size, price, venue_order_id, status, source
		FROM mirror_orders
		WHERE account = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, account, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("mirror orders: %w", err)
	}
	defer rows.Close()

	var out []types.MirrorOrder
	for rows.Next() {
		var m types.MirrorOrder
		var ts int64
		var side string
		if err := rows.Scan(&m.ID, &ts, &m.Account, &m.Symbol, &side, &m.OrderType,
			&m.TradeType, &m.Size, &m.Price, &m.VenueOrderID, &m.Status, &m.Source); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(ts)
		m.Side = types.Side(side)
		out = append(out, m)
	}
	return out, rows.Err()
}
