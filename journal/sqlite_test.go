package journal

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

func sampleTrade(id string, closeT time.Time) TradeRecord {
	return TradeRecord{
		PositionID:  id,
		Symbol:      "ETHUSDT",
		Side:        "SHORT",
		OrderType:   "LIMIT",
		Quantity:    decimal.RequireFromString("0.25"),
		Leverage:    decimal.NewFromInt(5),
		EntryPrice:  decimal.NewFromInt(2000),
		ExitPrice:   decimal.RequireFromString("1900.5"),
		Margin:      decimal.NewFromInt(100),
		OpenTime:    closeT.Add(-time.Hour),
		CloseTime:   closeT,
		RealizedPnL: decimal.RequireFromString("24.875"),
		Reason:      "TAKE_PROFIT",
	}
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','equity','transactions')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["equity"])
	assert.True(t, found["transactions"])
}

func TestSQLiteTradeRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	closeT := time.Date(2025, 1, 2, 4, 5, 6, 0, time.UTC)
	rec := sampleTrade("P1", closeT)

	require.NoError(t, j.RecordTrade(rec))

	got, err := j.GetTrade("P1")
	require.NoError(t, err)

	assert.Equal(t, rec.PositionID, got.PositionID)
	assert.Equal(t, rec.Symbol, got.Symbol)
	assert.Equal(t, rec.Side, got.Side)
	assert.Equal(t, rec.OrderType, got.OrderType)
	assert.True(t, rec.Quantity.Equal(got.Quantity))
	assert.True(t, rec.Leverage.Equal(got.Leverage))
	assert.True(t, rec.EntryPrice.Equal(got.EntryPrice))
	assert.True(t, rec.ExitPrice.Equal(got.ExitPrice))
	assert.True(t, rec.Margin.Equal(got.Margin))
	assert.True(t, rec.RealizedPnL.Equal(got.RealizedPnL), "pnl %s", got.RealizedPnL)
	assert.True(t, got.OpenTime.Equal(rec.OpenTime))
	assert.True(t, got.CloseTime.Equal(rec.CloseTime))
	assert.Equal(t, rec.Reason, got.Reason)
}

func TestSQLiteGetTradeMissing(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	_, err := j.GetTrade("nope")
	assert.ErrorContains(t, err, "not found")
}

func TestSQLiteListTradesClosedBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordTrade(sampleTrade("before", day.Add(-time.Minute))))
	require.NoError(t, j.RecordTrade(sampleTrade("late", day.Add(20*time.Hour))))
	require.NoError(t, j.RecordTrade(sampleTrade("early", day.Add(2*time.Hour))))
	require.NoError(t, j.RecordTrade(sampleTrade("after", day.Add(24*time.Hour))))

	recs, err := j.ListTradesClosedBetween(day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "early", recs[0].PositionID)
	assert.Equal(t, "late", recs[1].PositionID)
}

func TestSQLiteTransactions(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

	require.NoError(t, j.RecordTransaction(Transaction{
		Time: at, PositionID: "P1", Type: MarginDeposit, Asset: "USDT",
		Amount: decimal.NewFromInt(-100), CashBefore: decimal.NewFromInt(1000), CashAfter: decimal.NewFromInt(900),
		Description: "open",
	}))
	require.NoError(t, j.RecordTransaction(Transaction{
		Time: at, PositionID: "P2", Type: MarginDeposit, Asset: "USDT",
		Amount: decimal.NewFromInt(-50), CashBefore: decimal.NewFromInt(900), CashAfter: decimal.NewFromInt(850),
		Description: "open",
	}))
	require.NoError(t, j.RecordTransaction(Transaction{
		Time: at.Add(time.Minute), PositionID: "P1", Type: MarginWithdraw, Asset: "USDT",
		Amount: decimal.NewFromInt(110), CashBefore: decimal.NewFromInt(850), CashAfter: decimal.NewFromInt(960),
		Description: "close",
	}))

	p1, err := j.ListTransactions("P1")
	require.NoError(t, err)
	require.Len(t, p1, 2)
	assert.Equal(t, MarginDeposit, p1[0].Type)
	assert.Equal(t, MarginWithdraw, p1[1].Type)
	assert.True(t, p1[1].CashAfter.Equal(decimal.NewFromInt(960)))

	all, err := j.ListTransactions("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteRecordEquity(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

	require.NoError(t, j.RecordEquity(EquitySnapshot{
		Time:          at,
		Cash:          decimal.RequireFromString("900.5"),
		MarginUsed:    decimal.NewFromInt(100),
		UnrealizedPnL: decimal.RequireFromString("-1.25"),
		Equity:        decimal.RequireFromString("999.25"),
		RealizedPnL:   decimal.RequireFromString("0.5"),
		OpenPositions: 1,
	}))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var (
		gotTime time.Time
		cash    string
		equity  string
		open    int
	)
	err = db.QueryRow(`SELECT time, cash, equity, open_positions FROM equity LIMIT 1`).Scan(&gotTime, &cash, &equity, &open)
	require.NoError(t, err)

	assert.True(t, gotTime.Equal(at))
	assert.Equal(t, "900.5", cash)
	assert.Equal(t, "999.25", equity)
	assert.Equal(t, 1, open)
}

func TestFormatTradeOrg(t *testing.T) {
	rec := sampleTrade("01JABCDEFGHJKMNPQRSTVWXYZ0", time.Date(2025, 1, 2, 4, 5, 6, 0, time.UTC))
	out := FormatTradeOrg(rec)

	assert.Contains(t, out, "** Position: ETHUSDT SHORT 5x (STVWXYZ0)\n")
	assert.Contains(t, out, ":POSITION_ID: 01JABCDEFGHJKMNPQRSTVWXYZ0\n")
	assert.Contains(t, out, ":REALIZED_PNL: 24.88\n")
	assert.Contains(t, out, ":REASON: TAKE_PROFIT\n")

	both := FormatTradesOrg([]TradeRecord{rec, rec})
	assert.Equal(t, 2, strings.Count(both, ":END:"))
}
