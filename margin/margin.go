// Package margin sizes leveraged orders.
//
// Everything here is pure: given a side, a resolved base price, an amount in
// one of two input modes and a leverage, Calculate returns the quantity,
// notional, margin and the estimated liquidation price of the position that
// would be opened. Where the base price comes from (limit price or current
// mark) is the caller's business.
package margin

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/levsim/market"
	"github.com/shopspring/decimal"
)

// ErrInvalidOrder is the sentinel behind every sizing rejection.
var ErrInvalidOrder = errors.New("invalid order")

// ValidationError names the offending field of a rejected order.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidOrder }

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Mode says how Request.Amount is expressed.
type Mode string

const (
	// QuantityMode: Amount is base-asset units.
	QuantityMode Mode = "QUANTITY"
	// MarginMode: Amount is quote-asset capital to commit.
	MarginMode Mode = "MARGIN"
)

// Request is a raw order intent with its base price already resolved.
type Request struct {
	Side      market.Side
	BasePrice decimal.Decimal
	Mode      Mode
	Amount    decimal.Decimal
	Leverage  decimal.Decimal
}

// Sizing is the concrete position a Request turns into.
type Sizing struct {
	Quantity         decimal.Decimal `json:"quantity"`
	Notional         decimal.Decimal `json:"notional"`
	Margin           decimal.Decimal `json:"margin"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
}

var one = decimal.NewFromInt(1)

// Calculate validates req and sizes it. No partial result is returned on error.
func Calculate(req Request) (Sizing, error) {
	if err := validate(req); err != nil {
		return Sizing{}, err
	}

	var s Sizing
	switch req.Mode {
	case QuantityMode:
		s.Quantity = req.Amount
		s.Notional = req.Amount.Mul(req.BasePrice)
		s.Margin = s.Notional.Div(req.Leverage)
	case MarginMode:
		s.Margin = req.Amount
		s.Notional = req.Amount.Mul(req.Leverage)
		s.Quantity = s.Notional.Div(req.BasePrice)
	}

	if !s.Quantity.IsPositive() || !s.Margin.IsPositive() {
		// only reachable when a division underflows the working precision
		return Sizing{}, Invalid("amount", "is too small to size")
	}

	s.LiquidationPrice = LiquidationPrice(req.Side, req.BasePrice, req.Leverage)
	return s, nil
}

func validate(req Request) error {
	if !req.Side.Valid() {
		return Invalid("side", "must be LONG or SHORT, got %q", req.Side)
	}
	if !req.BasePrice.IsPositive() {
		return Invalid("price", "must be positive, got %s", req.BasePrice)
	}
	if !req.Amount.IsPositive() {
		return Invalid("amount", "must be positive, got %s", req.Amount)
	}
	if req.Leverage.LessThan(one) {
		return Invalid("leverage", "must be at least 1, got %s", req.Leverage)
	}
	if req.Mode != QuantityMode && req.Mode != MarginMode {
		return Invalid("mode", "must be QUANTITY or MARGIN, got %q", req.Mode)
	}
	return nil
}

// LiquidationPrice estimates where the loss equals the posted margin:
//
//	LONG:  entry * (1 - 1/leverage)
//	SHORT: entry * (1 + 1/leverage)
//
// It is an approximation. Fees and maintenance-margin buffers are ignored,
// and it is fixed at open from the entry terms rather than tracked live.
func LiquidationPrice(side market.Side, entry, leverage decimal.Decimal) decimal.Decimal {
	ratio := one.Div(leverage)
	if side == market.Short {
		return entry.Mul(one.Add(ratio))
	}
	return entry.Mul(one.Sub(ratio))
}

// UnrealizedPnL is (mark - entry) * quantity, sign-flipped for shorts.
func UnrealizedPnL(side market.Side, entry, quantity, mark decimal.Decimal) decimal.Decimal {
	pnl := mark.Sub(entry).Mul(quantity)
	if side == market.Short {
		return pnl.Neg()
	}
	return pnl
}

// PnLPercent is the return on posted margin in percent. Zero margin gives zero.
func PnLPercent(pnl, margin decimal.Decimal) decimal.Decimal {
	if margin.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(margin).Mul(decimal.NewFromInt(100))
}
