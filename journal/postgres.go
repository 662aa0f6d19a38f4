package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema mirrors Schema with native NUMERIC and TIMESTAMPTZ columns.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS trades (
	position_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	order_type TEXT NOT NULL,
	quantity NUMERIC NOT NULL,
	leverage NUMERIC NOT NULL,
	entry_price NUMERIC NOT NULL,
	exit_price NUMERIC NOT NULL,
	margin NUMERIC NOT NULL,
	open_time TIMESTAMPTZ NOT NULL,
	close_time TIMESTAMPTZ NOT NULL,
	realized_pnl NUMERIC NOT NULL,
	reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	time TIMESTAMPTZ NOT NULL,
	cash NUMERIC NOT NULL,
	margin_used NUMERIC NOT NULL,
	unrealized_pnl NUMERIC NOT NULL,
	equity NUMERIC NOT NULL,
	realized_pnl NUMERIC NOT NULL,
	open_positions INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id BIGSERIAL PRIMARY KEY,
	time TIMESTAMPTZ NOT NULL,
	position_id TEXT NOT NULL,
	type TEXT NOT NULL,
	asset TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	cash_before NUMERIC NOT NULL,
	cash_after NUMERIC NOT NULL,
	description TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);
CREATE INDEX IF NOT EXISTS idx_transactions_position ON transactions(position_id);
`

// Postgres journals to a PostgreSQL database through a pgx pool.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgres connects to dsn, registers the decimal codec on every
// connection and applies PostgresSchema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool, timeout: 5 * time.Second}, nil
}

func (j *Postgres) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), j.timeout)
}

func (j *Postgres) RecordTrade(t TradeRecord) error {
	ctx, cancel := j.ctx()
	defer cancel()
	_, err := j.pool.Exec(ctx, `
		INSERT INTO trades
		(position_id, symbol, side, order_type, quantity, leverage, entry_price, exit_price, margin, open_time, close_time, realized_pnl, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.PositionID, t.Symbol, t.Side, t.OrderType, t.Quantity, t.Leverage,
		t.EntryPrice, t.ExitPrice, t.Margin, t.OpenTime.UTC(), t.CloseTime.UTC(),
		t.RealizedPnL, t.Reason,
	)
	return err
}

func (j *Postgres) RecordEquity(e EquitySnapshot) error {
	ctx, cancel := j.ctx()
	defer cancel()
	_, err := j.pool.Exec(ctx, `
		INSERT INTO equity
		(time, cash, margin_used, unrealized_pnl, equity, realized_pnl, open_positions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Time.UTC(), e.Cash, e.MarginUsed, e.UnrealizedPnL, e.Equity, e.RealizedPnL, e.OpenPositions,
	)
	return err
}

func (j *Postgres) RecordTransaction(tx Transaction) error {
	ctx, cancel := j.ctx()
	defer cancel()
	_, err := j.pool.Exec(ctx, `
		INSERT INTO transactions
		(time, position_id, type, asset, amount, cash_before, cash_after, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tx.Time.UTC(), tx.PositionID, string(tx.Type), tx.Asset, tx.Amount,
		tx.CashBefore, tx.CashAfter, tx.Description,
	)
	return err
}

func (j *Postgres) GetTrade(positionID string) (TradeRecord, error) {
	ctx, cancel := j.ctx()
	defer cancel()

	rec, err := scanTrade(j.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE position_id = $1`, positionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("trade %q not found", positionID)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

func (j *Postgres) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	ctx, cancel := j.ctx()
	defer cancel()

	rows, err := j.pool.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= $1 AND close_time < $2
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
	return out, rows.Err()
}

func (j *Postgres) ListTransactions(positionID string) ([]Transaction, error) {
	ctx, cancel := j.ctx()
	defer cancel()

	q := `SELECT time, position_id, type, asset, amount, cash_before, cash_after, description FROM transactions`
	var args []any
	if positionID != "" {
		q += ` WHERE position_id = $1`
		args = append(args, positionID)
	}
	q += ` ORDER BY id ASC`

	rows, err := j.pool.Query(ctx, q, args...)
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
	return out, rows.Err()
}

func (j *Postgres) Close() error {
	j.pool.Close()
	return nil
}
