package cmd

import (
	"fmt"
	"io"

	"github.com/rustyeddy/levsim/ledger"
)

func printPosition(w io.Writer, verb string, p ledger.Position) {
	fmt.Fprintf(w, "%s %s %s %s qty=%s @ %s %sx margin=%s liq=%s",
		verb, shortID(p.ID), p.Symbol, p.Side, p.Quantity, p.EntryPrice.StringFixed(2),
		p.Leverage, p.Margin.StringFixed(2), p.LiquidationPrice.StringFixed(2))
	if p.TakeProfit != nil {
		fmt.Fprintf(w, " tp=%s", p.TakeProfit.StringFixed(2))
	}
	if p.StopLoss != nil {
		fmt.Fprintf(w, " sl=%s", p.StopLoss.StringFixed(2))
	}
	fmt.Fprintln(w)
}

func printClose(w io.Writer, res ledger.CloseResult) {
	c := res.Closed
	fmt.Fprintf(w, "Closed %s %s %s @ %s [%s] pnl=%s cash=%s\n",
		shortID(c.ID), c.Symbol, c.Side, c.ExitPrice.StringFixed(2), c.Reason,
		res.PnL.StringFixed(2), res.CashAfter.StringFixed(2))
}

func printOpenBook(w io.Writer, l *ledger.Ledger) {
	marks := l.Prices().Snapshot()
	for _, p := range l.Positions() {
		mark, ok := marks[p.Symbol]
		if !ok {
			fmt.Fprintf(w, "  %s %s %s qty=%s (no mark)\n", shortID(p.ID), p.Symbol, p.Side, p.Quantity)
			continue
		}
		fmt.Fprintf(w, "  %s %s %s qty=%s mark=%s upnl=%s (%s%%)\n",
			shortID(p.ID), p.Symbol, p.Side, p.Quantity, mark.StringFixed(2),
			p.UnrealizedPnL(mark).StringFixed(2), p.PnLPercent(mark).StringFixed(2))
	}
}

func printSummary(w io.Writer, s ledger.Summary) {
	fmt.Fprintf(w, "  Open Positions: %d\n", s.OpenPositions)
	fmt.Fprintf(w, "  Notional: %s\n", s.TotalNotionalValue.StringFixed(2))
	fmt.Fprintf(w, "  Margin Used: %s\n", s.MarginUsed.StringFixed(2))
	fmt.Fprintf(w, "  Unrealized PnL: %s\n", s.TotalUnrealizedPnL.StringFixed(2))
	fmt.Fprintf(w, "  Realized PnL: %s\n", s.RealizedPnL.StringFixed(2))
	fmt.Fprintf(w, "  Cash: %s\n", s.Cash.StringFixed(2))
	fmt.Fprintf(w, "  Equity: %s\n", s.Equity.StringFixed(2))
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
