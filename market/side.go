package market

import (
	"fmt"
	"strings"
)

// Side is the direction of a leveraged position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// ParseSide accepts LONG/SHORT and the order-ticket labels BUY/SELL.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return Long, nil
	case "SHORT", "SELL":
		return Short, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Valid reports whether s is LONG or SHORT.
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// Sign is +1 for longs and -1 for shorts.
func (s Side) Sign() int64 {
	if s == Short {
		return -1
	}
	return 1
}

// OrderLabel returns the BUY/SELL label shown on an order ticket.
func (s Side) OrderLabel() string {
	if s == Short {
		return "SELL"
	}
	return "BUY"
}

// OrderType is informational; it decides where the entry price comes from
// but never enters the PnL math.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MARKET", "":
		return Market, nil
	case "LIMIT":
		return Limit, nil
	default:
		return "", fmt.Errorf("unknown order type %q", s)
	}
}
