// Package journal persists what a replay did: closed trades, equity
// samples and one summary row per run.
package journal

import (
	"time"

	"github.com/rustyeddy/tradereplay/trade"
)

// Reason says why a trade closed.
type Reason string

const (
	ReasonStopLoss   Reason = "StopLoss"
	ReasonTakeProfit Reason = "TakeProfit"
	ReasonManual     Reason = "Manual"
)

type TradeRecord struct {
	RunID      string
	TradeID    int64
	Instrument string
	Direction  trade.Direction
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	StopLoss   float64
	TakeProfit float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Status     trade.Status
	Reason     Reason
}

// ReasonFor infers the close reason from a closed trade. The engine marks
// manual closes Stopped as well, so a Stopped trade that did not exit at
// its stop level was closed by hand.
func ReasonFor(t trade.Trade) Reason {
	switch {
	case t.Status == trade.Taken:
		return ReasonTakeProfit
	case t.Status == trade.Stopped && t.ExitPrice == t.StopLoss:
		return ReasonStopLoss
	}
	return ReasonManual
}

// NewTradeRecord converts a closed trade.
func NewTradeRecord(runID, instrument string, t trade.Trade) TradeRecord {
	pnl, _ := t.Realized()
	return TradeRecord{
		RunID:      runID,
		TradeID:    t.ID,
		Instrument: instrument,
		Direction:  t.Direction,
		Size:       t.Size,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		StopLoss:   t.StopLoss,
		TakeProfit: t.TakeProfit,
		OpenTime:   t.EntryTime,
		CloseTime:  t.ExitTime,
		RealizedPL: pnl,
		Status:     t.Status,
		Reason:     ReasonFor(t),
	}
}

type EquitySnapshot struct {
	RunID      string
	Time       time.Time
	Balance    float64
	Equity     float64
	MarginUsed float64
	OpenTrades int
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// RunJournal is a journal that also keeps run summaries.
type RunJournal interface {
	Journal
	RecordRun(RunRecord) error
}
