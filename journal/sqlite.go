package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(position_id, symbol, side, order_type, quantity, leverage, entry_price, exit_price, margin, open_time, close_time, realized_pnl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PositionID, t.Symbol, t.Side, t.OrderType, t.Quantity, t.Leverage,
		t.EntryPrice, t.ExitPrice, t.Margin, t.OpenTime.UTC(), t.CloseTime.UTC(),
		t.RealizedPnL, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, cash, margin_used, unrealized_pnl, equity, realized_pnl, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Cash, e.MarginUsed, e.UnrealizedPnL, e.Equity, e.RealizedPnL, e.OpenPositions,
	)
	return err
}

func (j *SQLite) RecordTransaction(tx Transaction) error {
	_, err := j.db.Exec(`
		INSERT INTO transactions
		(time, position_id, type, asset, amount, cash_before, cash_after, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.Time.UTC(), tx.PositionID, string(tx.Type), tx.Asset, tx.Amount,
		tx.CashBefore, tx.CashAfter, tx.Description,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
