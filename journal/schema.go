// journal/schema.go
package journal

// Amounts are stored as TEXT so decimals survive the round trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	position_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	order_type TEXT NOT NULL,
	quantity TEXT NOT NULL,
	leverage TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	margin TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pnl TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	cash TEXT NOT NULL,
	margin_used TEXT NOT NULL,
	unrealized_pnl TEXT NOT NULL,
	equity TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	open_positions INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	position_id TEXT NOT NULL,
	type TEXT NOT NULL,
	asset TEXT NOT NULL,
	amount TEXT NOT NULL,
	cash_before TEXT NOT NULL,
	cash_after TEXT NOT NULL,
	description TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);
CREATE INDEX IF NOT EXISTS idx_transactions_position ON transactions(position_id);
`
