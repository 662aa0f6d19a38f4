package market

import "context"

// PriceSource resolves the current mark for a symbol.
type PriceSource interface {
	GetTick(ctx context.Context, symbol string) (Tick, error)
}
