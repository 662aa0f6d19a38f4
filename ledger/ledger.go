// Package ledger owns the open positions and cash balance of one simulated
// account and applies open / mark / close transitions to them.
//
// Every read-check-write on the account runs under a single mutex so the
// cash check in Open and the margin/PnL fold in Close can never interleave.
// Mark prices live in a separate per-symbol store that may be written
// concurrently. Journal writes happen after the lock is released.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/levsim/internal/id"
	"github.com/rustyeddy/levsim/journal"
	"github.com/rustyeddy/levsim/margin"
	"github.com/rustyeddy/levsim/market"
	"github.com/shopspring/decimal"
)

type Ledger struct {
	mu        sync.Mutex
	acct      Account
	positions map[string]*Position
	marks     *market.TickStore
	prices    market.PriceSource
	journal   journal.Journal

	log         *slog.Logger
	now         func() time.Time
	newID       func(time.Time) string
	maxLeverage decimal.Decimal
}

type Option func(*Ledger)

// WithLogger sets the logger used for transition and journal messages.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithClock replaces time.Now for open and close timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDFunc replaces the ULID generator.
func WithIDFunc(fn func(time.Time) string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// WithPriceSource resolves MARKET entries through src instead of the stored
// marks. The tick src returns is stored as the symbol's mark.
func WithPriceSource(src market.PriceSource) Option {
	return func(l *Ledger) { l.prices = src }
}

// WithMaxLeverage rejects intents above max. Zero disables the limit.
func WithMaxLeverage(max decimal.Decimal) Option {
	return func(l *Ledger) { l.maxLeverage = max }
}

// New creates a ledger holding acct. A nil journal discards records.
func New(acct Account, j journal.Journal, opts ...Option) *Ledger {
	if j == nil {
		j = journal.Nop{}
	}
	l := &Ledger{
		acct:      acct,
		positions: make(map[string]*Position),
		marks:     market.NewTickStore(),
		journal:   j,
		log:       slog.Default(),
		now:       time.Now,
		newID:     id.NewAt,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.prices == nil {
		l.prices = l
	}
	return l
}

// Prices exposes the mark store.
func (l *Ledger) Prices() *market.TickStore { return l.marks }

var _ market.PriceSource = (*Ledger)(nil)

// GetTick returns the latest mark for symbol.
func (l *Ledger) GetTick(ctx context.Context, symbol string) (market.Tick, error) {
	return l.marks.Get(symbol)
}

// MarkPrice records the latest mark for symbol. Positions are not touched;
// unrealized PnL is always derived from the stored marks on demand.
func (l *Ledger) MarkPrice(symbol string, price decimal.Decimal, at time.Time) error {
	if symbol == "" {
		return fmt.Errorf("mark price: symbol is required")
	}
	if !price.IsPositive() {
		return fmt.Errorf("mark price %s %s: %w", symbol, price, ErrInvalidMark)
	}
	l.marks.Set(market.Tick{Symbol: symbol, Price: price, Time: at})
	return nil
}

// UnrealizedPnL is (mark - entry) * quantity, negated for shorts.
func UnrealizedPnL(p Position, mark decimal.Decimal) decimal.Decimal {
	return p.UnrealizedPnL(mark)
}

// Open sizes the intent, reserves its margin from cash and records the new
// position. A rejected intent leaves the ledger untouched.
func (l *Ledger) Open(in Intent) (Position, error) {
	base, err := l.basePrice(in)
	if err != nil {
		return Position{}, err
	}

	size, err := margin.Calculate(margin.Request{
		Side:      in.Side,
		BasePrice: base,
		Mode:      in.Mode,
		Amount:    in.Amount,
		Leverage:  in.Leverage,
	})
	if err != nil {
		return Position{}, err
	}
	if err := l.checkLimits(in); err != nil {
		return Position{}, err
	}

	now := l.now()

	l.mu.Lock()

	if l.acct.Cash.LessThan(size.Margin) {
		avail := l.acct.Cash
		l.mu.Unlock()
		return Position{}, &InsufficientFundsError{Required: size.Margin, Available: avail}
	}

	p := &Position{
		ID:               l.newID(now),
		Symbol:           in.Symbol,
		Side:             in.Side,
		OrderType:        in.OrderType,
		Quantity:         size.Quantity,
		EntryPrice:       base,
		Leverage:         in.Leverage,
		Notional:         size.Notional,
		Margin:           size.Margin,
		LiquidationPrice: size.LiquidationPrice,
		TakeProfit:       copyDec(in.TakeProfit),
		StopLoss:         copyDec(in.StopLoss),
		OpenTime:         now,
	}

	before := l.acct.Cash
	l.acct.Cash = before.Sub(p.Margin)
	l.positions[p.ID] = p

	out := p.clone()
	rec := records{
		tx: &journal.Transaction{
			Time:       now,
			PositionID: p.ID,
			Type:       journal.MarginDeposit,
			Asset:      l.acct.Currency,
			Amount:     p.Margin.Neg(),
			CashBefore: before,
			CashAfter:  l.acct.Cash,
			Description: fmt.Sprintf("open %s %s %s @ %s with %sx leverage",
				p.Side, p.Quantity, p.Symbol, p.EntryPrice, p.Leverage),
		},
		equity: l.equityLocked(now),
	}

	l.mu.Unlock()

	l.record(rec)
	l.log.Info("position opened",
		slog.String("id", out.ID),
		slog.String("symbol", out.Symbol),
		slog.String("side", string(out.Side)),
		slog.String("quantity", out.Quantity.String()),
		slog.String("entry", out.EntryPrice.String()),
		slog.String("leverage", out.Leverage.String()),
		slog.String("margin", out.Margin.String()),
		slog.String("liquidation", out.LiquidationPrice.String()),
	)
	return out, nil
}

// basePrice resolves the entry price: the limit price for LIMIT orders, the
// latest stored mark for MARKET orders.
func (l *Ledger) basePrice(in Intent) (decimal.Decimal, error) {
	if strings.TrimSpace(in.Symbol) == "" {
		return decimal.Zero, margin.Invalid("symbol", "is required")
	}

	switch in.OrderType {
	case market.Limit:
		if in.LimitPrice == nil {
			return decimal.Zero, margin.Invalid("limitPrice", "is required for LIMIT orders")
		}
		return *in.LimitPrice, nil
	case market.Market:
		if in.LimitPrice != nil {
			return decimal.Zero, margin.Invalid("limitPrice", "is not allowed on MARKET orders")
		}
		t, err := l.prices.GetTick(context.Background(), in.Symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %w", ErrInvalidOrder, in.Symbol, ErrNoMarkPrice)
		}
		if !t.Price.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: %s %s: %w", ErrInvalidOrder, in.Symbol, t.Price, ErrInvalidMark)
		}
		if self, ok := l.prices.(*Ledger); !ok || self != l {
			t.Symbol = in.Symbol
			l.marks.Set(t)
		}
		return t.Price, nil
	default:
		return decimal.Zero, margin.Invalid("orderType", "must be MARKET or LIMIT, got %q", in.OrderType)
	}
}

func (l *Ledger) checkLimits(in Intent) error {
	if l.maxLeverage.IsPositive() && in.Leverage.GreaterThan(l.maxLeverage) {
		return margin.Invalid("leverage", "%s exceeds maximum %s", in.Leverage, l.maxLeverage)
	}
	if in.TakeProfit != nil && !in.TakeProfit.IsPositive() {
		return margin.Invalid("takeProfit", "must be positive, got %s", *in.TakeProfit)
	}
	if in.StopLoss != nil && !in.StopLoss.IsPositive() {
		return margin.Invalid("stopLoss", "must be positive, got %s", *in.StopLoss)
	}
	return nil
}

// Close closes a position at mark on the caller's request.
func (l *Ledger) Close(positionID string, mark decimal.Decimal) (CloseResult, error) {
	return l.CloseWithReason(positionID, mark, ReasonManual)
}

// CloseAtMark closes a position at the latest stored mark of its symbol.
func (l *Ledger) CloseAtMark(positionID string, reason CloseReason) (CloseResult, error) {
	l.mu.Lock()
	p, ok := l.positions[positionID]
	var symbol string
	if ok {
		symbol = p.Symbol
	}
	l.mu.Unlock()

	if !ok {
		return CloseResult{}, &PositionError{ID: positionID, Op: "close", Err: ErrPositionNotFound}
	}
	t, err := l.marks.Get(symbol)
	if err != nil {
		return CloseResult{}, &PositionError{ID: positionID, Op: "close", Err: fmt.Errorf("%s: %w", symbol, ErrNoMarkPrice)}
	}
	return l.CloseWithReason(positionID, t.Price, reason)
}

// CloseWithReason books the PnL at mark, returns margin plus PnL to cash and
// removes the position. Unknown ids fail with ErrPositionNotFound and change
// nothing.
func (l *Ledger) CloseWithReason(positionID string, mark decimal.Decimal, reason CloseReason) (CloseResult, error) {
	if reason == "" {
		reason = ReasonManual
	}
	now := l.now()

	l.mu.Lock()

	p, ok := l.positions[positionID]
	if !ok {
		l.mu.Unlock()
		return CloseResult{}, &PositionError{ID: positionID, Op: "close", Err: ErrPositionNotFound}
	}
	if !mark.IsPositive() {
		l.mu.Unlock()
		return CloseResult{}, &PositionError{ID: positionID, Op: "close", Err: ErrInvalidMark}
	}

	pnl := p.UnrealizedPnL(mark)
	before := l.acct.Cash
	credit := p.Margin.Add(pnl)

	l.acct.Cash = before.Add(credit)
	l.acct.RealizedPnL = l.acct.RealizedPnL.Add(pnl)
	delete(l.positions, positionID)

	closed := ClosedPosition{
		Position:    p.clone(),
		ExitPrice:   mark,
		CloseTime:   now,
		RealizedPnL: pnl,
		Reason:      reason,
	}
	res := CloseResult{PnL: pnl, CashAfter: l.acct.Cash, Closed: closed}

	rec := records{
		trade: &journal.TradeRecord{
			PositionID:  p.ID,
			Symbol:      p.Symbol,
			Side:        string(p.Side),
			OrderType:   string(p.OrderType),
			Quantity:    p.Quantity,
			Leverage:    p.Leverage,
			EntryPrice:  p.EntryPrice,
			ExitPrice:   mark,
			Margin:      p.Margin,
			OpenTime:    p.OpenTime,
			CloseTime:   now,
			RealizedPnL: pnl,
			Reason:      string(reason),
		},
		tx: &journal.Transaction{
			Time:        now,
			PositionID:  p.ID,
			Type:        journal.MarginWithdraw,
			Asset:       l.acct.Currency,
			Amount:      credit,
			CashBefore:  before,
			CashAfter:   l.acct.Cash,
			Description: fmt.Sprintf("close %s %s @ %s (%s): pnl %s", p.Side, p.Symbol, mark, reason, pnl),
		},
		equity: l.equityLocked(now),
	}

	l.mu.Unlock()

	l.record(rec)
	l.log.Info("position closed",
		slog.String("id", positionID),
		slog.String("symbol", closed.Symbol),
		slog.String("reason", string(reason)),
		slog.String("exit", mark.String()),
		slog.String("pnl", pnl.String()),
		slog.String("cash", res.CashAfter.String()),
	)
	return res, nil
}

// CloseAll closes every open position at the stored mark of its symbol.
// Nothing is closed when any of those symbols has no mark yet.
func (l *Ledger) CloseAll(reason CloseReason) ([]CloseResult, error) {
	open := l.Positions()
	marks := l.marks.Snapshot()
	for _, p := range open {
		if _, ok := marks[p.Symbol]; !ok {
			return nil, fmt.Errorf("close all: %s: %w", p.Symbol, ErrNoMarkPrice)
		}
	}

	out := make([]CloseResult, 0, len(open))
	for _, p := range open {
		res, err := l.CloseWithReason(p.ID, marks[p.Symbol], reason)
		if errors.Is(err, ErrPositionNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Account returns a snapshot of the cash side.
func (l *Ledger) Account() Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acct
}

// Position returns one open position.
func (l *Ledger) Position(positionID string) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[positionID]
	if !ok {
		return Position{}, &PositionError{ID: positionID, Op: "get", Err: ErrPositionNotFound}
	}
	return p.clone(), nil
}

// Positions returns every open position in open order.
func (l *Ledger) Positions() []Position {
	return l.OpenPositions("")
}

// OpenPositions returns the open positions of symbol, or all of them when
// symbol is empty, in open order.
func (l *Ledger) OpenPositions(symbol string) []Position {
	l.mu.Lock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p.clone())
		}
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].OpenTime.Before(out[j].OpenTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type records struct {
	trade  *journal.TradeRecord
	tx     *journal.Transaction
	equity journal.EquitySnapshot
}

// record writes to the journal outside the lock. The transition it describes
// has already happened, so failures are logged rather than returned.
func (l *Ledger) record(r records) {
	if r.trade != nil {
		if err := l.journal.RecordTrade(*r.trade); err != nil {
			l.log.Error("journal trade", slog.String("id", r.trade.PositionID), slog.Any("err", err))
		}
	}
	if r.tx != nil {
		if err := l.journal.RecordTransaction(*r.tx); err != nil {
			l.log.Error("journal transaction", slog.String("id", r.tx.PositionID), slog.Any("err", err))
		}
	}
	if err := l.journal.RecordEquity(r.equity); err != nil {
		l.log.Error("journal equity", slog.Any("err", err))
	}
}
