// journal/journal.go
package journal

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is a closed position.
type TradeRecord struct {
	PositionID  string
	Symbol      string
	Side        string
	OrderType   string
	Quantity    decimal.Decimal
	Leverage    decimal.Decimal
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Margin      decimal.Decimal
	OpenTime    time.Time
	CloseTime   time.Time
	RealizedPnL decimal.Decimal
	Reason      string
}

// EquitySnapshot is the account state after a ledger transition.
type EquitySnapshot struct {
	Time          time.Time
	Cash          decimal.Decimal
	MarginUsed    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Equity        decimal.Decimal
	RealizedPnL   decimal.Decimal
	OpenPositions int
}

type TransactionType string

const (
	// MarginDeposit moves cash into a position's margin at open.
	MarginDeposit TransactionType = "MARGIN_DEPOSIT"
	// MarginWithdraw returns margin plus PnL to cash at close.
	MarginWithdraw TransactionType = "MARGIN_WITHDRAW"
)

// Transaction is one movement of the cash balance.
type Transaction struct {
	Time        time.Time
	PositionID  string
	Type        TransactionType
	Asset       string
	Amount      decimal.Decimal // signed, negative leaves cash
	CashBefore  decimal.Decimal
	CashAfter   decimal.Decimal
	Description string
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	RecordTransaction(Transaction) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error       { return nil }
func (Nop) RecordEquity(EquitySnapshot) error   { return nil }
func (Nop) RecordTransaction(Transaction) error { return nil }
func (Nop) Close() error                        { return nil }
