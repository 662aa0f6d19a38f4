// Package watcher closes positions whose take-profit, stop-loss or
// liquidation level is crossed by an incoming mark price.
//
// It sits outside the ledger and issues ordinary close calls, so a position
// closed by hand a moment earlier is simply skipped.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/levsim/ledger"
	"github.com/rustyeddy/levsim/market"
	"github.com/shopspring/decimal"
)

// Book is the part of the ledger the watcher drives.
type Book interface {
	MarkPrice(symbol string, price decimal.Decimal, at time.Time) error
	OpenPositions(symbol string) []ledger.Position
	CloseWithReason(positionID string, mark decimal.Decimal, reason ledger.CloseReason) (ledger.CloseResult, error)
}

// ClosedListener is notified after the watcher closes a position.
type ClosedListener interface {
	OnPositionClosed(res ledger.CloseResult)
}

type Watcher struct {
	book        Book
	liquidation bool
	log         *slog.Logger
	listeners   []ClosedListener
}

type Option func(*Watcher)

// WithLiquidation also closes positions whose mark crosses the estimated
// liquidation price.
func WithLiquidation(on bool) Option {
	return func(w *Watcher) { w.liquidation = on }
}

func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// WithListener adds a listener; listeners run in the order added.
func WithListener(l ClosedListener) Option {
	return func(w *Watcher) { w.listeners = append(w.listeners, l) }
}

func New(book Book, opts ...Option) *Watcher {
	w := &Watcher{book: book, log: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnTick stores the mark and closes every position of the tick's symbol
// whose trigger fires at that price.
func (w *Watcher) OnTick(ctx context.Context, tick market.Tick) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.book.MarkPrice(tick.Symbol, tick.Price, tick.Time); err != nil {
		return err
	}

	var errs []error
	for _, p := range w.book.OpenPositions(tick.Symbol) {
		reason, ok := Trigger(p, tick.Price, w.liquidation)
		if !ok {
			continue
		}

		res, err := w.book.CloseWithReason(p.ID, tick.Price, reason)
		if errors.Is(err, ledger.ErrPositionNotFound) {
			w.log.Debug("trigger skipped, position already closed",
				slog.String("id", p.ID), slog.String("reason", string(reason)))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("watcher %s: %w", reason, err))
			continue
		}

		w.log.Info("trigger fired",
			slog.String("id", p.ID),
			slog.String("symbol", p.Symbol),
			slog.String("reason", string(reason)),
			slog.String("mark", tick.Price.String()),
			slog.String("pnl", res.PnL.String()),
		)
		for _, l := range w.listeners {
			l.OnPositionClosed(res)
		}
	}
	return errors.Join(errs...)
}

// Trigger reports which close condition, if any, mark satisfies for p.
//
// Adverse exits win over take-profit. When both the stop-loss and the
// liquidation level are crossed by the same tick, the one nearer to entry
// is reported since the price passed it first.
func Trigger(p ledger.Position, mark decimal.Decimal, liquidation bool) (ledger.CloseReason, bool) {
	sl := hitStopLoss(p, mark)
	liq := liquidation && hitLiquidation(p, mark)

	switch {
	case sl && liq:
		if nearerEntry(p, *p.StopLoss, p.LiquidationPrice) {
			return ledger.ReasonStopLoss, true
		}
		return ledger.ReasonLiquidation, true
	case sl:
		return ledger.ReasonStopLoss, true
	case liq:
		return ledger.ReasonLiquidation, true
	case hitTakeProfit(p, mark):
		return ledger.ReasonTakeProfit, true
	}
	return "", false
}

func hitStopLoss(p ledger.Position, mark decimal.Decimal) bool {
	if p.StopLoss == nil {
		return false
	}
	if p.Side == market.Long {
		return mark.LessThanOrEqual(*p.StopLoss)
	}
	return mark.GreaterThanOrEqual(*p.StopLoss)
}

func hitTakeProfit(p ledger.Position, mark decimal.Decimal) bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Side == market.Long {
		return mark.GreaterThanOrEqual(*p.TakeProfit)
	}
	return mark.LessThanOrEqual(*p.TakeProfit)
}

// hitLiquidation ignores a zero liquidation price (1x longs).
func hitLiquidation(p ledger.Position, mark decimal.Decimal) bool {
	if !p.LiquidationPrice.IsPositive() {
		return false
	}
	if p.Side == market.Long {
		return mark.LessThanOrEqual(p.LiquidationPrice)
	}
	return mark.GreaterThanOrEqual(p.LiquidationPrice)
}

func nearerEntry(p ledger.Position, a, b decimal.Decimal) bool {
	if p.Side == market.Long {
		return a.GreaterThanOrEqual(b)
	}
	return a.LessThanOrEqual(b)
}
