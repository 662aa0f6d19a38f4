// Package replay plays a CSV of mark prices through a tick handler and
// applies scripted ledger events along the way.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rustyeddy/levsim/feed"
	"github.com/rustyeddy/levsim/ledger"
	"github.com/rustyeddy/levsim/margin"
	"github.com/rustyeddy/levsim/market"
	"github.com/shopspring/decimal"
)

// Options controls how replay behaves.
type Options struct {
	// If true: deliver the tick first, then the event. MARKET opens then
	// fill at the row's price and CLOSE_ALL closes at it.
	TickThenEvent bool
}

// CSV replays a file. Supported layouts:
//
//  1. Basic ticks:
//     time,symbol,price
//
//  2. Ticks + events:
//     time,symbol,price,event,arg1,arg2,arg3,arg4,arg5
//
// Events (case-insensitive), always on the row's symbol:
//
//	OPEN:         arg1=side  arg2=quantity  arg3=leverage
//	OPEN_SLTP:    arg1=side  arg2=quantity  arg3=leverage  arg4=stopLoss  arg5=takeProfit
//	OPEN_MARGIN:  arg1=side  arg2=margin    arg3=leverage
//	CLOSE:        arg1=positionID or LAST
//	CLOSE_ALL:    arg1=reason (optional)
//
// Ticks go to h, which is normally the watcher so triggers fire during the
// replay. A nil h stores marks on the ledger directly.
func CSV(ctx context.Context, csvPath string, l *ledger.Ledger, h feed.Handler, opts Options) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return Read(ctx, f, l, h, opts)
}

// Read is CSV over any reader.
func Read(ctx context.Context, src io.Reader, l *ledger.Ledger, h feed.Handler, opts Options) error {
	if h == nil {
		h = feed.HandlerFunc(func(_ context.Context, t market.Tick) error {
			return l.MarkPrice(t.Symbol, t.Price, t.Time)
		})
	}
	p := &player{ledger: l, handler: h, opts: opts}

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	first, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	line := 1
	hasHeader := len(first) > 0 && strings.EqualFold(strings.TrimSpace(first[0]), "time")
	if !hasHeader {
		if err := p.row(ctx, first); err != nil {
			return fmt.Errorf("row %d: %w", line, err)
		}
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(row) == 0 {
			continue
		}
		if err := p.row(ctx, row); err != nil {
			return fmt.Errorf("row %d: %w", line, err)
		}
	}
}

type player struct {
	ledger  *ledger.Ledger
	handler feed.Handler
	opts    Options
	last    string // most recently opened position
}

func (p *player) row(ctx context.Context, row []string) error {
	if len(row) < 3 {
		return fmt.Errorf("bad row (need at least 3 cols time,symbol,price): %v", row)
	}

	at, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
	if err != nil {
		return fmt.Errorf("bad time %q: %w", row[0], err)
	}
	symbol := strings.TrimSpace(row[1])
	price, err := decimal.NewFromString(strings.TrimSpace(row[2]))
	if err != nil {
		return fmt.Errorf("bad price %q: %w", row[2], err)
	}
	tick := market.Tick{Symbol: symbol, Price: price, Time: at}

	event := ""
	var args []string
	if len(row) >= 4 {
		event = strings.TrimSpace(row[3])
	}
	if len(row) >= 5 {
		args = row[4:]
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
	}

	if p.opts.TickThenEvent {
		if err := p.handler.OnTick(ctx, tick); err != nil {
			return err
		}
		if event != "" {
			return p.event(symbol, event, args)
		}
		return nil
	}

	if event != "" {
		if err := p.event(symbol, event, args); err != nil {
			return err
		}
	}
	return p.handler.OnTick(ctx, tick)
}

func (p *player) event(symbol, event string, args []string) error {
	switch strings.ToUpper(event) {
	case "OPEN":
		in, err := parseOpen(symbol, margin.QuantityMode, args, false)
		if err != nil {
			return fmt.Errorf("OPEN: %w", err)
		}
		return p.open(in)

	case "OPEN_SLTP":
		in, err := parseOpen(symbol, margin.QuantityMode, args, true)
		if err != nil {
			return fmt.Errorf("OPEN_SLTP: %w", err)
		}
		return p.open(in)

	case "OPEN_MARGIN":
		in, err := parseOpen(symbol, margin.MarginMode, args, false)
		if err != nil {
			return fmt.Errorf("OPEN_MARGIN: %w", err)
		}
		return p.open(in)

	case "CLOSE":
		if len(args) < 1 || args[0] == "" {
			return fmt.Errorf("CLOSE: missing positionID")
		}
		positionID := args[0]
		if strings.EqualFold(positionID, "LAST") {
			positionID = p.last
		}
		_, err := p.ledger.CloseAtMark(positionID, ledger.ReasonManual)
		return err

	case "CLOSE_ALL":
		reason := ledger.ReasonManual
		if len(args) >= 1 && args[0] != "" {
			r, err := ledger.ParseCloseReason(args[0])
			if err != nil {
				return fmt.Errorf("CLOSE_ALL: %w", err)
			}
			reason = r
		}
		_, err := p.ledger.CloseAll(reason)
		return err

	default:
		return fmt.Errorf("unknown event %q", event)
	}
}

func (p *player) open(in ledger.Intent) error {
	pos, err := p.ledger.Open(in)
	if err != nil {
		return err
	}
	p.last = pos.ID
	return nil
}

func parseOpen(symbol string, mode margin.Mode, args []string, sltp bool) (ledger.Intent, error) {
	need := 3
	if sltp {
		need = 5
	}
	if len(args) < need {
		if sltp {
			return ledger.Intent{}, fmt.Errorf("need arg1=side arg2=quantity arg3=leverage arg4=stopLoss arg5=takeProfit")
		}
		return ledger.Intent{}, fmt.Errorf("need arg1=side arg2=amount arg3=leverage")
	}

	side, err := market.ParseSide(args[0])
	if err != nil {
		return ledger.Intent{}, err
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return ledger.Intent{}, fmt.Errorf("bad amount %q: %w", args[1], err)
	}
	lev, err := decimal.NewFromString(args[2])
	if err != nil {
		return ledger.Intent{}, fmt.Errorf("bad leverage %q: %w", args[2], err)
	}

	in := ledger.Intent{
		Symbol:    symbol,
		Side:      side,
		OrderType: market.Market,
		Mode:      mode,
		Amount:    amount,
		Leverage:  lev,
	}
	if !sltp {
		return in, nil
	}

	sl, err := decimal.NewFromString(args[3])
	if err != nil {
		return ledger.Intent{}, fmt.Errorf("bad stopLoss %q: %w", args[3], err)
	}
	tp, err := decimal.NewFromString(args[4])
	if err != nil {
		return ledger.Intent{}, fmt.Errorf("bad takeProfit %q: %w", args[4], err)
	}
	in.StopLoss = &sl
	in.TakeProfit = &tp
	return in, nil
}
