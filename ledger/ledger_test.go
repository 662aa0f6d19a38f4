package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/levsim/journal"
	"github.com/rustyeddy/levsim/margin"
	"github.com/rustyeddy/levsim/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJournal struct {
	mu     sync.Mutex
	trades []journal.TradeRecord
	equity []journal.EquitySnapshot
	txs    []journal.Transaction
}

func (j *testJournal) RecordTrade(rec journal.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, rec)
	return nil
}

func (j *testJournal) RecordEquity(rec journal.EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.equity = append(j.equity, rec)
	return nil
}

func (j *testJournal) RecordTransaction(rec journal.Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.txs = append(j.txs, rec)
	return nil
}

func (j *testJournal) Close() error { return nil }

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if len(msgAndArgs) == 0 {
		msgAndArgs = []any{"want %s got %s", want, got}
	}
	assert.True(t, d(want).Equal(got), msgAndArgs...)
}

func newLedger(t *testing.T, cash string, opts ...Option) (*Ledger, *testJournal) {
	t.Helper()
	var mu sync.Mutex
	tick := t0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	j := &testJournal{}
	opts = append([]Option{WithClock(clock)}, opts...)
	l := New(Account{ID: "acct-1", Currency: "USDT", Cash: d(cash)}, j, opts...)
	return l, j
}

func mark(t *testing.T, l *Ledger, symbol, price string) {
	t.Helper()
	require.NoError(t, l.MarkPrice(symbol, d(price), t0))
}

func limitQty(symbol string, side market.Side, price, qty, lev string) Intent {
	return Intent{
		Symbol:     symbol,
		Side:       side,
		OrderType:  market.Limit,
		LimitPrice: dp(price),
		Mode:       margin.QuantityMode,
		Amount:     d(qty),
		Leverage:   d(lev),
	}
}

func TestOpenLongQuantityMode(t *testing.T) {
	l, _ := newLedger(t, "100000")

	p, err := l.Open(limitQty("BTCUSDT", market.Long, "105000", "0.01", "10"))
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, market.Long, p.Side)
	assert.Equal(t, market.Limit, p.OrderType)
	assertDec(t, "105000", p.EntryPrice)
	assertDec(t, "0.01", p.Quantity)
	assertDec(t, "1050", p.Notional)
	assertDec(t, "105", p.Margin)
	assertDec(t, "94500", p.LiquidationPrice)

	assertDec(t, "99895", l.Account().Cash)
	assert.Len(t, l.Positions(), 1)
}

func TestOpenShortMarginModeAtMarket(t *testing.T) {
	l, _ := newLedger(t, "1000")
	mark(t, l, "ETHUSDT", "2000")

	p, err := l.Open(Intent{
		Symbol:    "ETHUSDT",
		Side:      market.Short,
		OrderType: market.Market,
		Mode:      margin.MarginMode,
		Amount:    d("100"),
		Leverage:  d("5"),
	})
	require.NoError(t, err)

	assertDec(t, "2000", p.EntryPrice)
	assertDec(t, "500", p.Notional)
	assertDec(t, "0.25", p.Quantity)
	assertDec(t, "100", p.Margin)
	assertDec(t, "2400", p.LiquidationPrice)
	assertDec(t, "900", l.Account().Cash)
}

func TestOpenInsufficientFunds(t *testing.T) {
	l, j := newLedger(t, "100")

	// margin = 150 * 1 / 1
	_, err := l.Open(limitQty("SOLUSDT", market.Long, "150", "1", "1"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	var ife *InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	assertDec(t, "150", ife.Required)
	assertDec(t, "100", ife.Available)

	assertDec(t, "100", l.Account().Cash)
	assert.Empty(t, l.Positions())
	assert.Empty(t, j.txs)
	assert.Empty(t, j.equity)
}

func TestOpenExactCashIsEnough(t *testing.T) {
	l, _ := newLedger(t, "150")

	_, err := l.Open(limitQty("SOLUSDT", market.Long, "150", "1", "1"))
	require.NoError(t, err)
	assertDec(t, "0", l.Account().Cash)
}

func TestOpenRejectsInvalidIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Intent
	}{
		{"missing symbol", limitQty("", market.Long, "100", "1", "2")},
		{"zero price", limitQty("BTCUSDT", market.Long, "0", "1", "2")},
		{"negative quantity", limitQty("BTCUSDT", market.Long, "100", "-1", "2")},
		{"leverage below one", limitQty("BTCUSDT", market.Long, "100", "1", "0.9")},
		{"leverage above max", limitQty("BTCUSDT", market.Long, "100", "1", "126")},
		{"limit without price", Intent{Symbol: "BTCUSDT", Side: market.Long, OrderType: market.Limit, Mode: margin.QuantityMode, Amount: d("1"), Leverage: d("2")}},
		{"market with limit price", Intent{Symbol: "BTCUSDT", Side: market.Long, OrderType: market.Market, LimitPrice: dp("100"), Mode: margin.QuantityMode, Amount: d("1"), Leverage: d("2")}},
		{"market without mark", Intent{Symbol: "SOLUSDT", Side: market.Long, OrderType: market.Market, Mode: margin.QuantityMode, Amount: d("1"), Leverage: d("2")}},
		{"unknown order type", Intent{Symbol: "BTCUSDT", Side: market.Long, OrderType: "STOP", Mode: margin.QuantityMode, Amount: d("1"), Leverage: d("2")}},
		{"unknown mode", Intent{Symbol: "BTCUSDT", Side: market.Long, OrderType: market.Limit, LimitPrice: dp("100"), Mode: "NOTIONAL", Amount: d("1"), Leverage: d("2")}},
		{"negative take profit", func() Intent {
			in := limitQty("BTCUSDT", market.Long, "100", "1", "2")
			in.TakeProfit = dp("-1")
			return in
		}()},
		{"zero stop loss", func() Intent {
			in := limitQty("BTCUSDT", market.Long, "100", "1", "2")
			in.StopLoss = dp("0")
			return in
		}()},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l, j := newLedger(t, "100000", WithMaxLeverage(d("125")))
			mark(t, l, "BTCUSDT", "100")

			_, err := l.Open(tt.in)
			assert.ErrorIs(t, err, ErrInvalidOrder)
			assertDec(t, "100000", l.Account().Cash)
			assert.Empty(t, l.Positions())
			assert.Empty(t, j.txs)
		})
	}
}

func TestMarketWithoutMarkNamesMissingPrice(t *testing.T) {
	l, _ := newLedger(t, "1000")
	_, err := l.Open(Intent{Symbol: "SOLUSDT", Side: market.Long, OrderType: market.Market, Mode: margin.QuantityMode, Amount: d("1"), Leverage: d("2")})
	assert.ErrorIs(t, err, ErrInvalidOrder)
	assert.ErrorIs(t, err, ErrNoMarkPrice)
}

type staticSource map[string]string

func (s staticSource) GetTick(_ context.Context, symbol string) (market.Tick, error) {
	price, ok := s[symbol]
	if !ok {
		return market.Tick{}, fmt.Errorf("%s: %w", symbol, market.ErrNoPrice)
	}
	return market.Tick{Symbol: symbol, Price: d(price), Time: t0}, nil
}

func TestMarketEntryFromPriceSource(t *testing.T) {
	l, _ := newLedger(t, "1000", WithPriceSource(staticSource{"SOLUSDT": "150", "BADUSDT": "0"}))

	p, err := l.Open(Intent{Symbol: "SOLUSDT", Side: market.Long, OrderType: market.Market, Mode: margin.QuantityMode, Amount: d("2"), Leverage: d("3")})
	require.NoError(t, err)
	assertDec(t, "150", p.EntryPrice)
	assertDec(t, "100", p.Margin)

	tick, err := l.GetTick(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assertDec(t, "150", tick.Price)

	s, err := l.Summary()
	require.NoError(t, err)
	assertDec(t, "0", s.TotalUnrealizedPnL)

	_, err = l.Open(Intent{Symbol: "ETHUSDT", Side: market.Long, OrderType: market.Market, Mode: margin.QuantityMode, Amount: d("1"), Leverage: d("1")})
	assert.ErrorIs(t, err, ErrNoMarkPrice)

	_, err = l.Open(Intent{Symbol: "BADUSDT", Side: market.Long, OrderType: market.Market, Mode: margin.QuantityMode, Amount: d("1"), Leverage: d("1")})
	assert.ErrorIs(t, err, ErrInvalidOrder)
	assert.ErrorIs(t, err, ErrInvalidMark)
	assert.Len(t, l.Positions(), 1)
}

func TestLedgerIsPriceSource(t *testing.T) {
	l, _ := newLedger(t, "1000")
	var src market.PriceSource = l

	_, err := src.GetTick(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, market.ErrNoPrice)

	mark(t, l, "BTCUSDT", "100000")
	tick, err := src.GetTick(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assertDec(t, "100000", tick.Price)
}

func TestParseCloseReason(t *testing.T) {
	for in, want := range map[string]CloseReason{
		"manual":      ReasonManual,
		"TAKE_PROFIT": ReasonTakeProfit,
		" stop_loss ": ReasonStopLoss,
		"Liquidation": ReasonLiquidation,
	} {
		got, err := ParseCloseReason(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseCloseReason("FOO")
	assert.ErrorContains(t, err, "unknown close reason")
	_, err = ParseCloseReason("")
	assert.Error(t, err)
}

func TestMarkUpdateAndCloseRealizesPnL(t *testing.T) {
	l, _ := newLedger(t, "1000")

	p, err := l.Open(limitQty("BTCUSDT", market.Long, "100", "1", "1"))
	require.NoError(t, err)
	assertDec(t, "100", p.Margin)
	assertDec(t, "900", l.Account().Cash)

	mark(t, l, "BTCUSDT", "110")

	s, err := l.Summary()
	require.NoError(t, err)
	assertDec(t, "10", s.TotalUnrealizedPnL)
	assertDec(t, "110", s.TotalNotionalValue)
	assertDec(t, "900", s.Cash, "unrealized pnl must not reach cash")

	res, err := l.Close(p.ID, d("110"))
	require.NoError(t, err)

	assertDec(t, "10", res.PnL)
	assertDec(t, "1010", res.CashAfter)
	assert.Equal(t, ReasonManual, res.Closed.Reason)
	assertDec(t, "110", res.Closed.ExitPrice)

	acct := l.Account()
	assertDec(t, "1010", acct.Cash)
	assertDec(t, "10", acct.RealizedPnL)
	assert.Empty(t, l.Positions())
}

func TestCloseShortAtProfitAndLoss(t *testing.T) {
	l, _ := newLedger(t, "1000")

	win, err := l.Open(limitQty("ETHUSDT", market.Short, "2000", "0.25", "5"))
	require.NoError(t, err)
	lose, err := l.Open(limitQty("ETHUSDT", market.Short, "2000", "0.25", "5"))
	require.NoError(t, err)
	assertDec(t, "800", l.Account().Cash)

	res, err := l.Close(win.ID, d("1900"))
	require.NoError(t, err)
	assertDec(t, "25", res.PnL)
	assertDec(t, "925", res.CashAfter)

	res, err = l.Close(lose.ID, d("2100"))
	require.NoError(t, err)
	assertDec(t, "-25", res.PnL)
	assertDec(t, "1000", res.CashAfter)
	assertDec(t, "0", l.Account().RealizedPnL)
}

func TestCloseLossBeyondMarginIsBookedInFull(t *testing.T) {
	l, _ := newLedger(t, "100")

	p, err := l.Open(limitQty("BTCUSDT", market.Long, "100", "1", "10"))
	require.NoError(t, err)
	assertDec(t, "10", p.Margin)

	res, err := l.Close(p.ID, d("50"))
	require.NoError(t, err)
	assertDec(t, "-50", res.PnL)
	assertDec(t, "50", res.CashAfter)
	assertDec(t, "-50", l.Account().RealizedPnL)
}

func TestCloseUnknownPosition(t *testing.T) {
	l, j := newLedger(t, "1000")
	p, err := l.Open(limitQty("BTCUSDT", market.Long, "100", "1", "2"))
	require.NoError(t, err)
	before := l.Account()
	txs := len(j.txs)

	_, err = l.Close("missing", d("100"))
	require.ErrorIs(t, err, ErrPositionNotFound)

	var pe *PositionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "missing", pe.ID)
	assert.Equal(t, "close", pe.Op)

	assert.Equal(t, before, l.Account())
	assert.Len(t, l.Positions(), 1)
	assert.Len(t, j.txs, txs)

	_, err = l.Close(p.ID, d("100"))
	require.NoError(t, err)
	after := l.Account()

	_, err = l.Close(p.ID, d("100"))
	assert.ErrorIs(t, err, ErrPositionNotFound, "second close must fail")
	assert.Equal(t, after, l.Account())
}

func TestCloseRejectsNonPositiveMark(t *testing.T) {
	l, _ := newLedger(t, "1000")
	p, err := l.Open(limitQty("BTCUSDT", market.Long, "100", "1", "2"))
	require.NoError(t, err)

	_, err = l.Close(p.ID, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidMark)
	assert.Len(t, l.Positions(), 1)
	assertDec(t, "950", l.Account().Cash)
}

func TestCloseAtMark(t *testing.T) {
	l, _ := newLedger(t, "1000")
	p, err := l.Open(limitQty("SOLUSDT", market.Long, "150", "2", "3"))
	require.NoError(t, err)

	_, err = l.CloseAtMark(p.ID, ReasonManual)
	assert.ErrorIs(t, err, ErrNoMarkPrice)

	mark(t, l, "SOLUSDT", "160")
	res, err := l.CloseAtMark(p.ID, ReasonTakeProfit)
	require.NoError(t, err)
	assertDec(t, "20", res.PnL)
	assert.Equal(t, ReasonTakeProfit, res.Closed.Reason)

	_, err = l.CloseAtMark(p.ID, ReasonManual)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestMarkPriceValidation(t *testing.T) {
	l, _ := newLedger(t, "1000")
	assert.ErrorIs(t, l.MarkPrice("BTCUSDT", decimal.Zero, t0), ErrInvalidMark)
	assert.ErrorIs(t, l.MarkPrice("BTCUSDT", d("-1"), t0), ErrInvalidMark)
	assert.Error(t, l.MarkPrice("", d("1"), t0))

	require.NoError(t, l.MarkPrice("BTCUSDT", d("101.5"), t0))
	tick, err := l.Prices().Get("BTCUSDT")
	require.NoError(t, err)
	assertDec(t, "101.5", tick.Price)
}

func TestMarkPriceDoesNotMutatePositions(t *testing.T) {
	l, _ := newLedger(t, "1000")
	p, err := l.Open(limitQty("BTCUSDT", market.Long, "100", "1", "2"))
	require.NoError(t, err)

	for _, px := range []string{"90", "120", "55.5"} {
		mark(t, l, "BTCUSDT", px)
	}

	got, err := l.Position(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assertDec(t, "50", got.LiquidationPrice, "liquidation price is fixed at open")
}

func TestPortfolioSummary(t *testing.T) {
	l, _ := newLedger(t, "100000")

	_, err := l.Open(limitQty("BTCUSDT", market.Long, "100000", "0.1", "10"))
	require.NoError(t, err)
	_, err = l.Open(limitQty("ETHUSDT", market.Short, "2000", "1", "4"))
	require.NoError(t, err)

	s, err := l.PortfolioSummary(map[string]decimal.Decimal{
		"BTCUSDT": d("101000"),
		"ETHUSDT": d("1950"),
	})
	require.NoError(t, err)

	assertDec(t, "12050", s.TotalNotionalValue) // 10100 + 1950
	assertDec(t, "150", s.TotalUnrealizedPnL)   // +100 long, +50 short
	assertDec(t, "1500", s.MarginUsed)          // 1000 + 500
	assertDec(t, "98500", s.Cash)
	assertDec(t, "100150", s.Equity)
	assert.Equal(t, 2, s.OpenPositions)

	_, err = l.PortfolioSummary(map[string]decimal.Decimal{"BTCUSDT": d("101000")})
	assert.ErrorIs(t, err, ErrNoMarkPrice)

	_, err = l.Summary()
	assert.ErrorIs(t, err, ErrNoMarkPrice, "no marks stored yet")
}

func TestEmptySummary(t *testing.T) {
	l, _ := newLedger(t, "250")
	s, err := l.Summary()
	require.NoError(t, err)
	assertDec(t, "0", s.TotalNotionalValue)
	assertDec(t, "0", s.TotalUnrealizedPnL)
	assertDec(t, "250", s.Equity)
}

func TestPositionsAreCopies(t *testing.T) {
	l, _ := newLedger(t, "1000")
	in := limitQty("BTCUSDT", market.Long, "100", "1", "2")
	in.TakeProfit = dp("120")
	p, err := l.Open(in)
	require.NoError(t, err)

	*in.TakeProfit = d("1")
	*p.TakeProfit = d("2")
	p.Margin = d("0")

	got, err := l.Position(p.ID)
	require.NoError(t, err)
	assertDec(t, "120", *got.TakeProfit)
	assertDec(t, "50", got.Margin)
}

func TestOpenPositionsFilterAndOrder(t *testing.T) {
	l, _ := newLedger(t, "100000")
	var ids []string
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		p, err := l.Open(limitQty(sym, market.Long, "100", "1", "2"))
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	btc := l.OpenPositions("BTCUSDT")
	require.Len(t, btc, 2)
	assert.Equal(t, ids[0], btc[0].ID)
	assert.Equal(t, ids[2], btc[1].ID)

	all := l.Positions()
	require.Len(t, all, 3)
	assert.Equal(t, ids, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestJournalRecords(t *testing.T) {
	l, j := newLedger(t, "1000")
	mark(t, l, "BTCUSDT", "100")

	p, err := l.Open(limitQty("BTCUSDT", market.Long, "100", "1", "1"))
	require.NoError(t, err)
	_, err = l.CloseWithReason(p.ID, d("90"), ReasonStopLoss)
	require.NoError(t, err)

	require.Len(t, j.txs, 2)
	open, closeTx := j.txs[0], j.txs[1]
	assert.Equal(t, journal.MarginDeposit, open.Type)
	assertDec(t, "-100", open.Amount)
	assertDec(t, "1000", open.CashBefore)
	assertDec(t, "900", open.CashAfter)
	assert.Equal(t, "USDT", open.Asset)

	assert.Equal(t, journal.MarginWithdraw, closeTx.Type)
	assertDec(t, "90", closeTx.Amount)
	assertDec(t, "990", closeTx.CashAfter)

	require.Len(t, j.trades, 1)
	tr := j.trades[0]
	assert.Equal(t, p.ID, tr.PositionID)
	assert.Equal(t, "STOP_LOSS", tr.Reason)
	assertDec(t, "-10", tr.RealizedPnL)
	assert.True(t, tr.CloseTime.After(tr.OpenTime))

	require.Len(t, j.equity, 2)
	assertDec(t, "1000", j.equity[0].Equity)
	assertDec(t, "100", j.equity[0].MarginUsed)
	assertDec(t, "990", j.equity[1].Equity)
	assert.Equal(t, 0, j.equity[1].OpenPositions)
}

type failingJournal struct{ journal.Nop }

func (failingJournal) RecordTransaction(journal.Transaction) error { return errors.New("disk full") }

func TestJournalFailureDoesNotUndoTransition(t *testing.T) {
	l := New(Account{Cash: d("1000")}, failingJournal{})
	p, err := l.Open(limitQty("BTCUSDT", market.Long, "100", "1", "2"))
	require.NoError(t, err)
	assert.Len(t, l.Positions(), 1)
	assertDec(t, "950", l.Account().Cash)

	_, err = l.Close(p.ID, d("100"))
	require.NoError(t, err)
	assertDec(t, "1000", l.Account().Cash)
}

// cash + margin of open positions must always equal the starting cash plus
// everything realized so far.
func TestConservationOverRandomSequence(t *testing.T) {
	const initial = "50000"
	l, _ := newLedger(t, initial)
	rng := rand.New(rand.NewSource(42))

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	prices := map[string]float64{"BTCUSDT": 100000, "ETHUSDT": 2500, "SOLUSDT": 150}
	for sym, px := range prices {
		mark(t, l, sym, fmt.Sprintf("%.2f", px))
	}

	for step := 0; step < 500; step++ {
		sym := symbols[rng.Intn(len(symbols))]
		prices[sym] *= 1 + (rng.Float64()-0.5)*0.04
		mark(t, l, sym, fmt.Sprintf("%.4f", prices[sym]))

		open := l.Positions()
		if len(open) == 0 || rng.Intn(3) > 0 {
			side := market.Long
			if rng.Intn(2) == 0 {
				side = market.Short
			}
			in := Intent{
				Symbol:    sym,
				Side:      side,
				OrderType: market.Market,
				Mode:      margin.MarginMode,
				Amount:    decimal.NewFromFloat(1 + rng.Float64()*500).Round(2),
				Leverage:  decimal.NewFromInt(int64(1 + rng.Intn(20))),
			}
			if rng.Intn(2) == 0 {
				in.Mode = margin.QuantityMode
				in.Amount = decimal.NewFromFloat(rng.Float64() * 0.5).Round(5).Add(d("0.00001"))
			}
			_, err := l.Open(in)
			if err != nil {
				require.ErrorIs(t, err, ErrInsufficientFunds)
			}
		} else {
			p := open[rng.Intn(len(open))]
			tick, err := l.Prices().Get(p.Symbol)
			require.NoError(t, err)
			_, err = l.Close(p.ID, tick.Price)
			require.NoError(t, err)
		}

		acct := l.Account()
		marginUsed := decimal.Zero
		for _, p := range l.Positions() {
			marginUsed = marginUsed.Add(p.Margin)
		}
		lhs := acct.Cash.Add(marginUsed)
		rhs := d(initial).Add(acct.RealizedPnL)
		require.True(t, lhs.Equal(rhs), "step %d: cash+margin %s != initial+realized %s", step, lhs, rhs)

		s, err := l.Summary()
		require.NoError(t, err)
		require.True(t, s.Equity.Equal(rhs.Add(s.TotalUnrealizedPnL)), "step %d: equity drift", step)
	}
}

func TestConcurrentOpensNeverOverdraw(t *testing.T) {
	l, _ := newLedger(t, "1000")
	mark(t, l, "BTCUSDT", "100000")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Open(Intent{
				Symbol:    "BTCUSDT",
				Side:      market.Long,
				OrderType: market.Market,
				Mode:      margin.MarginMode,
				Amount:    d("50"),
				Leverage:  d("10"),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			if errors.Is(err, ErrInsufficientFunds) {
				fail++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, ok)
	assert.Equal(t, 80, fail)
	assertDec(t, "0", l.Account().Cash)
	assert.Len(t, l.Positions(), 20)
}

func TestConcurrentClosesAndMarks(t *testing.T) {
	l, _ := newLedger(t, "100000")
	mark(t, l, "BTCUSDT", "100")
	mark(t, l, "ETHUSDT", "100")

	var ids []string
	for i := 0; i < 50; i++ {
		p, err := l.Open(limitQty("BTCUSDT", market.Long, "100", "1", "5"))
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	var wg sync.WaitGroup
	var closedMu sync.Mutex
	closed := 0
	for _, pid := range ids {
		for k := 0; k < 2; k++ {
			wg.Add(1)
			go func(pid string) {
				defer wg.Done()
				if _, err := l.Close(pid, d("101")); err == nil {
					closedMu.Lock()
					closed++
					closedMu.Unlock()
				}
			}(pid)
		}
	}
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = l.MarkPrice(sym, decimal.NewFromInt(int64(100+i)), t0)
				_, _ = l.Summary()
			}
		}(sym)
	}
	wg.Wait()

	assert.Equal(t, 50, closed, "each position closes exactly once")
	acct := l.Account()
	assertDec(t, "100050", acct.Cash)
	assertDec(t, "50", acct.RealizedPnL)
}

func TestCloseAll(t *testing.T) {
	l, _ := newLedger(t, "10000")
	_, err := l.Open(limitQty("BTCUSDT", market.Long, "100", "1", "2"))
	require.NoError(t, err)
	_, err = l.Open(limitQty("ETHUSDT", market.Short, "50", "2", "2"))
	require.NoError(t, err)

	mark(t, l, "BTCUSDT", "120")
	_, err = l.CloseAll(ReasonManual)
	require.ErrorIs(t, err, ErrNoMarkPrice)
	assert.Len(t, l.Positions(), 2, "nothing closes when a mark is missing")

	mark(t, l, "ETHUSDT", "40")
	results, err := l.CloseAll(ReasonManual)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assertDec(t, "20", results[0].PnL)
	assertDec(t, "20", results[1].PnL)
	assert.Empty(t, l.Positions())
	assertDec(t, "10040", l.Account().Cash)

	results, err = l.CloseAll(ReasonManual)
	require.NoError(t, err)
	assert.Empty(t, results)
}
