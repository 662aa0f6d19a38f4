package journal

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"
)

var tradeSheetHeader = []string{
	"PositionID", "Side", "OrderType", "Quantity", "Leverage", "EntryPrice",
	"ExitPrice", "Margin", "RealizedPnL", "Reason", "OpenTime", "CloseTime",
}

// ExportXLSX writes trades to an Excel workbook: a "PnLs" sheet with the
// realized total per symbol, then one sheet per symbol listing its trades.
func ExportXLSX(path string, trades []TradeRecord) error {
	file := xlsx.NewFile()

	pnlSheet, err := file.AddSheet("PnLs")
	if err != nil {
		return fmt.Errorf("add pnls sheet: %w", err)
	}
	header := pnlSheet.AddRow()
	header.AddCell().SetString("Symbol")
	header.AddCell().SetString("Trades")
	header.AddCell().SetString("TotalPnL")

	pnl := make(map[string]decimal.Decimal)
	count := make(map[string]int)

	for _, t := range trades {
		sheet, ok := file.Sheet[t.Symbol]
		if !ok {
			sheet, err = file.AddSheet(t.Symbol)
			if err != nil {
				return fmt.Errorf("add sheet %s: %w", t.Symbol, err)
			}
			row := sheet.AddRow()
			for _, h := range tradeSheetHeader {
				row.AddCell().SetString(h)
			}
		}

		row := sheet.AddRow()
		row.AddCell().SetString(t.PositionID)
		row.AddCell().SetString(t.Side)
		row.AddCell().SetString(t.OrderType)
		row.AddCell().SetFloat(t.Quantity.InexactFloat64())
		row.AddCell().SetFloat(t.Leverage.InexactFloat64())
		row.AddCell().SetFloat(t.EntryPrice.InexactFloat64())
		row.AddCell().SetFloat(t.ExitPrice.InexactFloat64())
		row.AddCell().SetFloat(t.Margin.InexactFloat64())
		row.AddCell().SetFloat(t.RealizedPnL.InexactFloat64())
		row.AddCell().SetString(t.Reason)
		row.AddCell().SetString(t.OpenTime.UTC().Format(time.RFC3339))
		row.AddCell().SetString(t.CloseTime.UTC().Format(time.RFC3339))

		pnl[t.Symbol] = pnl[t.Symbol].Add(t.RealizedPnL)
		count[t.Symbol]++
	}

	symbols := make([]string, 0, len(pnl))
	for sym := range pnl {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		row := pnlSheet.AddRow()
		row.AddCell().SetString(sym)
		row.AddCell().SetInt(count[sym])
		row.AddCell().SetFloat(pnl[sym].InexactFloat64())
	}

	if err := file.Save(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
