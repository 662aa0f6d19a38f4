package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatTradeOrg renders a TradeRecord as an Org-mode block. Structured facts
// go in the PROPERTIES drawer; the headings below are for notes.
func FormatTradeOrg(t TradeRecord) string {
	heading := fmt.Sprintf("** Position: %s %s %sx (%s)", t.Symbol, t.Side, t.Leverage, shortID(t.PositionID))

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":POSITION_ID: %s\n", t.PositionID))
	b.WriteString(fmt.Sprintf(":SYMBOL: %s\n", t.Symbol))
	b.WriteString(fmt.Sprintf(":SIDE: %s\n", t.Side))
	b.WriteString(fmt.Sprintf(":ORDER_TYPE: %s\n", t.OrderType))
	b.WriteString(fmt.Sprintf(":QUANTITY: %s\n", t.Quantity))
	b.WriteString(fmt.Sprintf(":LEVERAGE: %s\n", t.Leverage))
	b.WriteString(fmt.Sprintf(":MARGIN: %s\n", t.Margin.StringFixed(2)))
	b.WriteString(fmt.Sprintf(":ENTRY_PRICE: %s\n", t.EntryPrice))
	b.WriteString(fmt.Sprintf(":EXIT_PRICE: %s\n", t.ExitPrice))
	b.WriteString(fmt.Sprintf(":OPEN_TIME: %s\n", t.OpenTime.UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf(":CLOSE_TIME: %s\n", t.CloseTime.UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf(":REALIZED_PNL: %s\n", t.RealizedPnL.StringFixed(2)))
	b.WriteString(fmt.Sprintf(":REASON: %s\n", t.Reason))
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
