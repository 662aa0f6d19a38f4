package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const tradeColumns = `position_id, symbol, side, order_type, quantity, leverage, entry_price, exit_price, margin, open_time, close_time, realized_pnl, reason`

type scanner interface {
	Scan(dest ...any) error
}

// Store is a journal that can be queried after the fact.
type Store interface {
	Journal
	GetTrade(positionID string) (TradeRecord, error)
	ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error)
	ListTransactions(positionID string) ([]Transaction, error)
}

func scanTrade(s scanner) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(
		&rec.PositionID,
		&rec.Symbol,
		&rec.Side,
		&rec.OrderType,
		&rec.Quantity,
		&rec.Leverage,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.Margin,
		&rec.OpenTime,
		&rec.CloseTime,
		&rec.RealizedPnL,
		&rec.Reason,
	)
	return rec, err
}

// GetTrade returns a single closed position by ID.
func (j *SQLite) GetTrade(positionID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE position_id = ?`, positionID)

	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("trade %q not found", positionID)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTransactions returns the cash movements of a position, oldest first.
// An empty positionID lists every transaction.
func (j *SQLite) ListTransactions(positionID string) ([]Transaction, error) {
	q := `SELECT time, position_id, type, asset, amount, cash_before, cash_after, description FROM transactions`
	var args []any
	if positionID != "" {
		q += ` WHERE position_id = ?`
		args = append(args, positionID)
	}
	q += ` ORDER BY id ASC`

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanTransaction(s scanner) (Transaction, error) {
	var tx Transaction
	var typ string
	err := s.Scan(
		&tx.Time,
		&tx.PositionID,
		&typ,
		&tx.Asset,
		&tx.Amount,
		&tx.CashBefore,
		&tx.CashAfter,
		&tx.Description,
	)
	tx.Type = TransactionType(typ)
	return tx, err
}
