// Package feed delivers mark prices to a Handler, either from a scripted
// list of steps or from a live exchange trade stream.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/levsim/market"
	"github.com/shopspring/decimal"
)

// Handler consumes ticks. The watcher is the usual implementation.
type Handler interface {
	OnTick(ctx context.Context, tick market.Tick) error
}

type HandlerFunc func(ctx context.Context, tick market.Tick) error

func (f HandlerFunc) OnTick(ctx context.Context, tick market.Tick) error { return f(ctx, tick) }

// Source runs until it is exhausted or ctx is cancelled.
type Source interface {
	Run(ctx context.Context, h Handler) error
}

// Step is one scripted price move.
type Step struct {
	Symbol string
	Price  decimal.Decimal
	Delay  time.Duration // wait before delivering
}

// Steps replays a fixed price path in order.
type Steps struct {
	Steps []Step
	Now   func() time.Time
}

func (s Steps) Run(ctx context.Context, h Handler) error {
	now := s.Now
	if now == nil {
		now = time.Now
	}

	for i, st := range s.Steps {
		if st.Delay > 0 {
			timer := time.NewTimer(st.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		tick := market.Tick{Symbol: st.Symbol, Price: st.Price, Time: now()}
		if err := h.OnTick(ctx, tick); err != nil {
			return fmt.Errorf("step %d %s @ %s: %w", i, st.Symbol, st.Price, err)
		}
	}
	return nil
}
