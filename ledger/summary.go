package ledger

import (
	"fmt"
	"time"

	"github.com/rustyeddy/levsim/journal"
	"github.com/shopspring/decimal"
)

// Summary aggregates the open book at a set of marks.
type Summary struct {
	TotalNotionalValue decimal.Decimal `json:"totalNotionalValue"`
	TotalUnrealizedPnL decimal.Decimal `json:"totalUnrealizedPnl"`
	MarginUsed         decimal.Decimal `json:"marginUsed"`
	Cash               decimal.Decimal `json:"cash"`
	RealizedPnL        decimal.Decimal `json:"realizedPnl"`
	Equity             decimal.Decimal `json:"equity"` // cash + margin used + unrealized
	OpenPositions      int             `json:"openPositions"`
}

// PortfolioSummary values every open position at marks[position.Symbol].
// A symbol with no mark fails with ErrNoMarkPrice.
func (l *Ledger) PortfolioSummary(marks map[string]decimal.Decimal) (Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summaryLocked(marks)
}

// Summary is PortfolioSummary over the stored marks, taken as one
// consistent snapshot across symbols.
func (l *Ledger) Summary() (Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summaryLocked(l.marks.Snapshot())
}

func (l *Ledger) summaryLocked(marks map[string]decimal.Decimal) (Summary, error) {
	s := Summary{
		Cash:          l.acct.Cash,
		RealizedPnL:   l.acct.RealizedPnL,
		OpenPositions: len(l.positions),
	}
	for _, p := range l.positions {
		mark, ok := marks[p.Symbol]
		if !ok {
			return Summary{}, fmt.Errorf("summary: %s: %w", p.Symbol, ErrNoMarkPrice)
		}
		s.TotalNotionalValue = s.TotalNotionalValue.Add(p.MarketValue(mark))
		s.TotalUnrealizedPnL = s.TotalUnrealizedPnL.Add(p.UnrealizedPnL(mark))
		s.MarginUsed = s.MarginUsed.Add(p.Margin)
	}
	s.Equity = s.Cash.Add(s.MarginUsed).Add(s.TotalUnrealizedPnL)
	return s, nil
}

// equityLocked builds the journal snapshot. Positions whose symbol has no
// mark yet are valued at entry.
func (l *Ledger) equityLocked(at time.Time) journal.EquitySnapshot {
	marks := l.marks.Snapshot()
	snap := journal.EquitySnapshot{
		Time:          at,
		Cash:          l.acct.Cash,
		RealizedPnL:   l.acct.RealizedPnL,
		OpenPositions: len(l.positions),
	}
	for _, p := range l.positions {
		mark, ok := marks[p.Symbol]
		if !ok {
			mark = p.EntryPrice
		}
		snap.MarginUsed = snap.MarginUsed.Add(p.Margin)
		snap.UnrealizedPnL = snap.UnrealizedPnL.Add(p.UnrealizedPnL(mark))
	}
	snap.Equity = snap.Cash.Add(snap.MarginUsed).Add(snap.UnrealizedPnL)
	return snap
}
