package ledger

import "github.com/shopspring/decimal"

// Account is the cash side of the ledger. Cash is what is free to post as
// margin; reserved margin is not part of it.
type Account struct {
	ID          string          `json:"id"`
	Currency    string          `json:"currency"`
	Cash        decimal.Decimal `json:"cash"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}
