package sim

import (
	"math"

	"github.com/rustyeddy/tradereplay/trade"
)

// Account is a point-in-time view of the engine's money.
type Account struct {
	InitialBalance float64
	Balance        float64
	Equity         float64
	MarginUsed     float64
	OpenTrades     int
	ClosedTrades   int
}

// Stats summarizes closed trades. A win is a trade with positive
// realized P&L; everything else counts as a loss.
type Stats struct {
	Closed      int
	Wins        int
	Losses      int
	GrossProfit float64
	GrossLoss   float64 // positive magnitude
}

// WinRate is wins as a percentage of closed trades, 0 with none.
func (s Stats) WinRate() float64 {
	if s.Closed == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Closed) * 100
}

// ProfitFactor is gross profit over gross loss: +Inf for profit with no
// loss and 1 when both are zero.
func (s Stats) ProfitFactor() float64 {
	if s.GrossLoss == 0 {
		if s.GrossProfit > 0 {
			return math.Inf(1)
		}
		return 1
	}
	return s.GrossProfit / s.GrossLoss
}

func (s Stats) NetPnL() float64 {
	return s.GrossProfit - s.GrossLoss
}

func (e *Engine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

func (e *Engine) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equity
}

func (e *Engine) InitialBalance() float64 {
	return e.cfg.InitialBalance
}

// MarginUsed is the summed size of open trades.
func (e *Engine) MarginUsed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marginUsedLocked()
}

func (e *Engine) marginUsedLocked() float64 {
	var used float64
	for _, t := range e.trades {
		if t.IsOpen() {
			used += t.Size
		}
	}
	return used
}

// LastPrice returns the most recent price passed to Update.
func (e *Engine) LastPrice() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastPrice, e.hasPrice
}

func (e *Engine) Account() Account {
	e.mu.Lock()
	defer e.mu.Unlock()

	open := e.openCountLocked()
	return Account{
		InitialBalance: e.cfg.InitialBalance,
		Balance:        e.balance,
		Equity:         e.equity,
		MarginUsed:     e.marginUsedLocked(),
		OpenTrades:     open,
		ClosedTrades:   len(e.trades) - open,
	}
}

// Trades returns snapshots of every trade in creation order.
func (e *Engine) Trades() []trade.Trade {
	return e.collect(func(*trade.Trade) bool { return true })
}

func (e *Engine) OpenTrades() []trade.Trade {
	return e.collect(func(t *trade.Trade) bool { return t.IsOpen() })
}

func (e *Engine) ClosedTrades() []trade.Trade {
	return e.collect(func(t *trade.Trade) bool { return !t.IsOpen() })
}

// Trade looks up any trade, open or closed, by id.
func (e *Engine) Trade(id int64) (trade.Trade, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.trades {
		if t.ID == id {
			return t.Snapshot(), true
		}
	}
	return trade.Trade{}, false
}

func (e *Engine) collect(keep func(*trade.Trade) bool) []trade.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]trade.Trade, 0, len(e.trades))
	for _, t := range e.trades {
		if keep(t) {
			out = append(out, t.Snapshot())
		}
	}
	return out
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var s Stats
	for _, t := range e.trades {
		pl, ok := t.Realized()
		if !ok {
			continue
		}
		s.Closed++
		if pl > 0 {
			s.Wins++
			s.GrossProfit += pl
		} else {
			s.Losses++
			s.GrossLoss -= pl
		}
	}
	return s
}

func (e *Engine) WinRate() float64 {
	return e.Stats().WinRate()
}

func (e *Engine) ProfitFactor() float64 {
	return e.Stats().ProfitFactor()
}
