// journal/csv.go
package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"strconv"
	"time"
)

var (
	tradeHeader       = []string{"position_id", "symbol", "side", "order_type", "quantity", "leverage", "entry_price", "exit_price", "margin", "open_time", "close_time", "realized_pnl", "reason"}
	equityHeader      = []string{"time", "cash", "margin_used", "unrealized_pnl", "equity", "realized_pnl", "open_positions"}
	transactionHeader = []string{"time", "position_id", "type", "asset", "amount", "cash_before", "cash_after", "description"}
)

type csvFile struct {
	f *os.File
	w *csv.Writer
}

func createCSV(path string, header []string) (*csvFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c := &csvFile{f: f, w: csv.NewWriter(f)}
	if err := c.write(header); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *csvFile) write(row []string) error {
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvFile) close() error {
	c.w.Flush()
	return errors.Join(c.w.Error(), c.f.Close())
}

// CSVJournal writes trades, equity snapshots and cash transactions to three files.
type CSVJournal struct {
	trades, equity, txs *csvFile
}

func NewCSV(tradesPath, equityPath, transactionsPath string) (*CSVJournal, error) {
	tf, err := createCSV(tradesPath, tradeHeader)
	if err != nil {
		return nil, err
	}
	ef, err := createCSV(equityPath, equityHeader)
	if err != nil {
		tf.close()
		return nil, err
	}
	xf, err := createCSV(transactionsPath, transactionHeader)
	if err != nil {
		tf.close()
		ef.close()
		return nil, err
	}
	return &CSVJournal{trades: tf, equity: ef, txs: xf}, nil
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	return j.trades.write([]string{
		t.PositionID,
		t.Symbol,
		t.Side,
		t.OrderType,
		t.Quantity.String(),
		t.Leverage.String(),
		t.EntryPrice.String(),
		t.ExitPrice.String(),
		t.Margin.String(),
		ts(t.OpenTime),
		ts(t.CloseTime),
		t.RealizedPnL.String(),
		t.Reason,
	})
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	return j.equity.write([]string{
		ts(e.Time),
		e.Cash.String(),
		e.MarginUsed.String(),
		e.UnrealizedPnL.String(),
		e.Equity.String(),
		e.RealizedPnL.String(),
		strconv.Itoa(e.OpenPositions),
	})
}

func (j *CSVJournal) RecordTransaction(tx Transaction) error {
	return j.txs.write([]string{
		ts(tx.Time),
		tx.PositionID,
		string(tx.Type),
		tx.Asset,
		tx.Amount.String(),
		tx.CashBefore.String(),
		tx.CashAfter.String(),
		tx.Description,
	})
}

func (j *CSVJournal) Close() error {
	return errors.Join(j.trades.close(), j.equity.close(), j.txs.close())
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
