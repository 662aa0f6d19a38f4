package ledger

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/levsim/margin"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidOrder covers non-positive price, amount or leverage and
	// malformed order-type / mode combinations.
	ErrInvalidOrder = margin.ErrInvalidOrder
	// ErrInsufficientFunds means cash cannot cover the margin of an open.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrPositionNotFound is returned for unknown or already closed ids.
	ErrPositionNotFound = errors.New("position not found")
	// ErrNoMarkPrice means an open position's symbol has no mark to value it.
	ErrNoMarkPrice = errors.New("no mark price")
	// ErrInvalidMark rejects non-positive mark prices.
	ErrInvalidMark = errors.New("mark price must be positive")
)

// InsufficientFundsError reports how short the account was.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s", e.Required, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// PositionError ties a failure to the position and operation it happened in.
type PositionError struct {
	ID  string
	Op  string
	Err error
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("%s position %q: %v", e.Op, e.ID, e.Err)
}

func (e *PositionError) Unwrap() error { return e.Err }
