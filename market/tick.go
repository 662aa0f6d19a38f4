package market

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNoPrice = errors.New("price not found")

// Tick is a mark price observation for one symbol.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}

// TickStore keeps the latest tick per symbol. Writers for different symbols
// may run concurrently.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.Symbol] = t
}

func (ts *TickStore) Get(symbol string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[symbol]
	if !ok {
		return Tick{}, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	return t, nil
}

// Snapshot copies the latest price of every symbol in one read section, so
// the returned map is a consistent cross-symbol view.
func (ts *TickStore) Snapshot() map[string]decimal.Decimal {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(ts.ticks))
	for sym, t := range ts.ticks {
		out[sym] = t.Price
	}
	return out
}
