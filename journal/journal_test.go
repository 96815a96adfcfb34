package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/tradereplay/trade"
)

func closedTrade(status trade.Status, exit float64) trade.Trade {
	pnl := exit - 100
	return trade.Trade{
		ID:          7,
		Direction:   trade.Long,
		EntryPrice:  100,
		StopLoss:    99,
		TakeProfit:  102,
		Size:        1,
		EntryTime:   time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
		ExitTime:    time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		ExitPrice:   exit,
		Status:      status,
		RealizedPnL: &pnl,
	}
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, ReasonTakeProfit, ReasonFor(closedTrade(trade.Taken, 102)))
	assert.Equal(t, ReasonStopLoss, ReasonFor(closedTrade(trade.Stopped, 99)))
	assert.Equal(t, ReasonManual, ReasonFor(closedTrade(trade.Stopped, 100.4)))
}

func TestNewTradeRecord(t *testing.T) {
	rec := NewTradeRecord("run-1", "EUR_USD", closedTrade(trade.Taken, 102))

	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, int64(7), rec.TradeID)
	assert.Equal(t, "EUR_USD", rec.Instrument)
	assert.Equal(t, trade.Long, rec.Direction)
	assert.Equal(t, 2.0, rec.RealizedPL)
	assert.Equal(t, trade.Taken, rec.Status)
	assert.Equal(t, ReasonTakeProfit, rec.Reason)
	assert.Equal(t, time.Hour, rec.CloseTime.Sub(rec.OpenTime))
}
