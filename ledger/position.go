package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/levsim/margin"
	"github.com/rustyeddy/levsim/market"
	"github.com/shopspring/decimal"
)

// Intent is an order request as it arrives from the presentation layer.
type Intent struct {
	Symbol     string
	Side       market.Side
	OrderType  market.OrderType
	LimitPrice *decimal.Decimal // LIMIT only
	Mode       margin.Mode
	Amount     decimal.Decimal // quantity or margin, per Mode
	Leverage   decimal.Decimal
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
}

// Position is an open leveraged position. Values handed out by the ledger
// are copies; changing them does not affect the ledger.
type Position struct {
	ID               string           `json:"id"`
	Symbol           string           `json:"symbol"`
	Side             market.Side      `json:"side"`
	OrderType        market.OrderType `json:"orderType"`
	Quantity         decimal.Decimal  `json:"quantity"`
	EntryPrice       decimal.Decimal  `json:"entryPrice"`
	Leverage         decimal.Decimal  `json:"leverage"`
	Notional         decimal.Decimal  `json:"notional"`
	Margin           decimal.Decimal  `json:"margin"`
	LiquidationPrice decimal.Decimal  `json:"liquidationPrice"`
	TakeProfit       *decimal.Decimal `json:"takeProfit,omitempty"`
	StopLoss         *decimal.Decimal `json:"stopLoss,omitempty"`
	OpenTime         time.Time        `json:"openTime"`
}

// UnrealizedPnL values the position at mark.
func (p Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	return margin.UnrealizedPnL(p.Side, p.EntryPrice, p.Quantity, mark)
}

// PnLPercent is UnrealizedPnL as a percentage of posted margin.
func (p Position) PnLPercent(mark decimal.Decimal) decimal.Decimal {
	return margin.PnLPercent(p.UnrealizedPnL(mark), p.Margin)
}

// MarketValue is quantity * mark.
func (p Position) MarketValue(mark decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(mark)
}

func (p Position) clone() Position {
	p.TakeProfit = copyDec(p.TakeProfit)
	p.StopLoss = copyDec(p.StopLoss)
	return p
}

func copyDec(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

type CloseReason string

const (
	ReasonManual      CloseReason = "MANUAL"
	ReasonTakeProfit  CloseReason = "TAKE_PROFIT"
	ReasonStopLoss    CloseReason = "STOP_LOSS"
	ReasonLiquidation CloseReason = "LIQUIDATION"
)

// ParseCloseReason accepts a close reason in any case.
func ParseCloseReason(s string) (CloseReason, error) {
	switch r := CloseReason(strings.ToUpper(strings.TrimSpace(s))); r {
	case ReasonManual, ReasonTakeProfit, ReasonStopLoss, ReasonLiquidation:
		return r, nil
	default:
		return "", fmt.Errorf("unknown close reason %q", s)
	}
}

// ClosedPosition is a position after close, with its realized result.
type ClosedPosition struct {
	Position
	ExitPrice   decimal.Decimal `json:"exitPrice"`
	CloseTime   time.Time       `json:"closeTime"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	Reason      CloseReason     `json:"reason"`
}

// CloseResult is what Close hands back to the caller.
type CloseResult struct {
	PnL       decimal.Decimal `json:"pnl"`
	CashAfter decimal.Decimal `json:"cashAfter"`
	Closed    ClosedPosition  `json:"closed"`
}
