// Package trade holds the position record shared by the engine, its events
// and the journal.
package trade

import (
	"fmt"
	"strings"
	"time"
)

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// ParseDirection accepts long/short and the buy/sell aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func (d Direction) Valid() bool {
	return d == Long || d == Short
}

type Status string

const (
	Open Status = "open"
	// Stopped covers stop-loss exits and every manual close.
	Stopped Status = "stopped"
	Taken   Status = "taken"
)

// Trade is one position's full lifecycle record.
type Trade struct {
	ID        int64     `json:"id"`
	Direction Direction `json:"direction"`

	EntryPrice float64 `json:"entryPrice"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
	Size       float64 `json:"size"`

	EntryTime time.Time `json:"entryTime"`
	ExitTime  time.Time `json:"exitTime"`
	ExitPrice float64   `json:"exitPrice,omitempty"`

	Status        Status   `json:"status"`
	UnrealizedPnL float64  `json:"unrealizedPnL"`
	RealizedPnL   *float64 `json:"realizedPnL,omitempty"` // nil while open
}

func (t *Trade) IsOpen() bool {
	return t.Status == Open
}

// PnLAt is the profit of the position if it were closed at price.
func (t *Trade) PnLAt(price float64) float64 {
	if t.Direction == Short {
		return (t.EntryPrice - price) * t.Size
	}
	return (price - t.EntryPrice) * t.Size
}

func (t *Trade) HitStopLoss(price float64) bool {
	if t.Direction == Short {
		return price >= t.StopLoss
	}
	return price <= t.StopLoss
}

func (t *Trade) HitTakeProfit(price float64) bool {
	if t.Direction == Short {
		return price <= t.TakeProfit
	}
	return price >= t.TakeProfit
}

// Realized returns the realized P&L and whether it has been set.
func (t *Trade) Realized() (float64, bool) {
	if t.RealizedPnL == nil {
		return 0, false
	}
	return *t.RealizedPnL, true
}

// Snapshot returns a copy that shares no memory with t.
func (t *Trade) Snapshot() Trade {
	c := *t
	if t.RealizedPnL != nil {
		v := *t.RealizedPnL
		c.RealizedPnL = &v
	}
	return c
}

func (t Trade) String() string {
	return fmt.Sprintf("#%d %s %.4f @ %.5f sl=%.5f tp=%.5f %s",
		t.ID, t.Direction, t.Size, t.EntryPrice, t.StopLoss, t.TakeProfit, t.Status)
}
