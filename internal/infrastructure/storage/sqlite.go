package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vitos/competition_agent/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			ts DATETIME NOT NULL,
			token TEXT NOT NULL,
			side TEXT NOT NULL,
			amount_usd REAL NOT NULL,
			price REAL NOT NULL,
			chain TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			reason TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token TEXT NOT NULL,
			chain TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			size_usd REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			reason TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	query := `INSERT INTO trades (id, ts, token, side, amount_usd, price, chain, status, reason)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		trade.ID, trade.Timestamp.UTC(), trade.Token, trade.Side, trade.AmountUSD,
		trade.Price, trade.Chain, trade.Status, trade.Reason)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return domain.ErrDuplicateTrade
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrDuplicateTrade
		}
		return err
	}
	return nil
}

const tradeColumns = `id, ts, token, side, amount_usd, price, chain, status, reason`

func scanTrade(row interface{ Scan(...any) error }) (*domain.Trade, error) {
	var t domain.Trade
	var ts time.Time
	if err := row.Scan(&t.ID, &ts, &t.Token, &t.Side, &t.AmountUSD, &t.Price, &t.Chain, &t.Status, &t.Reason); err != nil {
		return nil, err
	}
	t.Timestamp = ts.UTC()
	return &t, nil
}

func (s *SQLiteStore) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`
	return scanTrade(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) ListTradesInWindow(ctx context.Context, start, end time.Time) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE ts >= ? AND ts < ? ORDER BY ts ASC`
	rows, err := s.db.QueryContext(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (s *SQLiteStore) ListTradesByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? ORDER BY ts ASC`
	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY ts DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) UpdateTradeStatus(ctx context.Context, id string, status domain.TradeStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE trades SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trade %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) SavePositionHistory(ctx context.Context, history *domain.PositionHistory) error {
	query := `INSERT INTO position_history (token, chain, entry_price, exit_price, size_usd, realized_pnl, reason, opened_at, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		history.Token, history.Chain, history.EntryPrice, history.ExitPrice,
		history.SizeUSD, history.RealizedPnL, history.Reason,
		history.OpenedAt.UTC(), history.ClosedAt.UTC())
	return err
}

func (s *SQLiteStore) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	query := `SELECT id, token, chain, entry_price, exit_price, size_usd, realized_pnl, reason, opened_at, closed_at
			  FROM position_history ORDER BY closed_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		var openedAt, closedAt time.Time
		if err := rows.Scan(&h.ID, &h.Token, &h.Chain, &h.EntryPrice, &h.ExitPrice, &h.SizeUSD, &h.RealizedPnL, &h.Reason, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		h.OpenedAt = openedAt.UTC()
		h.ClosedAt = closedAt.UTC()
		history = append(history, &h)
	}
	return history, rows.Err()
}
