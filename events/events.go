// Package events carries trade lifecycle notifications from the engine to
// its observers.
package events

import (
	"time"

	"github.com/rustyeddy/tradereplay/trade"
)

type Kind string

const (
	TradeOpened Kind = "TRADE_OPENED"
	TradeClosed Kind = "TRADE_CLOSED"
	// PnLUpdated is part of the taxonomy but nothing publishes it.
	PnLUpdated Kind = "PNL_UPDATED"
)

// Event is the record handed to every subscriber.
type Event struct {
	Kind      Kind        `json:"kind"`
	Trade     trade.Trade `json:"trade"`
	Timestamp int64       `json:"timestamp"` // milliseconds since epoch
}

// New stamps an event with t.
func New(kind Kind, tr trade.Trade, t time.Time) Event {
	return Event{Kind: kind, Trade: tr, Timestamp: t.UnixMilli()}
}

func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Subscriber observes events. A returned error is logged by the bus and
// never reaches the publisher.
type Subscriber interface {
	Notify(Event) error
}

// SubscriberFunc adapts a function to Subscriber. Functions are not
// comparable, so remove a SubscriberFunc with the Handle from Subscribe.
type SubscriberFunc func(Event) error

func (f SubscriberFunc) Notify(e Event) error {
	return f(e)
}
