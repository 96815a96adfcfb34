// Package sim is the virtual account: it validates and sizes orders, marks
// open trades to the latest price, closes them on stop-loss/take-profit and
// keeps balance and equity consistent.
package sim

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rustyeddy/tradereplay/events"
	"github.com/rustyeddy/tradereplay/trade"
)

// Engine owns one account. All exported methods are safe for concurrent
// use; a single mutex covers trades, balance, equity and the id counter.
//
// Events are queued under the mutex in the order the state changed and
// delivered after it is released, so subscribers may call back into the
// engine. One goroutine delivers at a time. A call that changes state
// while another goroutine is delivering, or from inside a subscriber,
// leaves its events to that delivery and returns; subscribers therefore
// always see TRADE_OPENED before the same trade's TRADE_CLOSED.
type Engine struct {
	mu sync.Mutex

	pending    []events.Event
	delivering bool

	cfg     Config
	balance float64
	equity  float64
	trades  []*trade.Trade
	nextID  int64

	lastPrice float64
	hasPrice  bool

	bus *events.Bus
	now func() time.Time
	log log.FieldLogger
}

type Option func(*Engine)

// WithClock sets the time source for entry/exit times and event stamps.
// A replay session passes the current sample's time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l log.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithBus publishes on an existing bus instead of a private one.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg: cfg,
		now: time.Now,
		log: log.WithField("component", "sim"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = events.NewBus(events.WithLogger(e.log))
	}

	e.resetLocked()
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Bus() *events.Bus { return e.bus }

func (e *Engine) Subscribe(s events.Subscriber) events.Handle {
	return e.bus.Subscribe(s)
}

func (e *Engine) Unsubscribe(s events.Subscriber) bool {
	return e.bus.Unsubscribe(s)
}

// Update marks every open trade to price and closes those whose
// stop-loss or take-profit was crossed. The stop-loss is checked first,
// so a gap through both levels closes as stopped. Exits fill at the
// level itself, not at price. It returns the trades closed by this call.
//
// Non-finite or non-positive prices are ignored.
func (e *Engine) Update(price float64) []trade.Trade {
	if !positive(price) {
		e.log.WithField("price", price).Debug("ignoring invalid price")
		return nil
	}

	e.mu.Lock()

	e.lastPrice = price
	e.hasPrice = true
	now := e.now()

	var closed []trade.Trade
	var evs []events.Event
	for _, t := range e.trades {
		if !t.IsOpen() {
			continue
		}

		t.UnrealizedPnL = t.PnLAt(price)

		switch {
		case t.HitStopLoss(price):
			evs = append(evs, e.closeLocked(t, t.StopLoss, trade.Stopped, now))
		case t.HitTakeProfit(price):
			evs = append(evs, e.closeLocked(t, t.TakeProfit, trade.Taken, now))
		default:
			continue
		}
		closed = append(closed, t.Snapshot())
	}

	e.revalueLocked()
	e.pending = append(e.pending, evs...)
	e.mu.Unlock()

	e.deliver()
	return closed
}

// CloseTrade closes the open trade id at exitPrice, or at the last
// observed price when exitPrice is nil. The status is always Stopped.
func (e *Engine) CloseTrade(id int64, exitPrice *float64) (trade.Trade, error) {
	if exitPrice != nil && !positive(*exitPrice) {
		return trade.Trade{}, ErrInvalidPrice
	}

	e.mu.Lock()

	t := e.findOpenLocked(id)
	if t == nil {
		e.mu.Unlock()
		return trade.Trade{}, ErrTradeNotFound
	}

	px := e.marketPriceLocked(t)
	if exitPrice != nil {
		px = *exitPrice
	}

	ev := e.closeLocked(t, px, trade.Stopped, e.now())
	e.revalueLocked()
	snap := t.Snapshot()
	e.pending = append(e.pending, ev)
	e.mu.Unlock()

	e.deliver()
	return snap, nil
}

// CloseAll closes every open trade at the last observed price.
func (e *Engine) CloseAll() []trade.Trade {
	e.mu.Lock()

	now := e.now()
	var closed []trade.Trade
	var evs []events.Event
	for _, t := range e.trades {
		if !t.IsOpen() {
			continue
		}
		evs = append(evs, e.closeLocked(t, e.marketPriceLocked(t), trade.Stopped, now))
		closed = append(closed, t.Snapshot())
	}
	e.revalueLocked()
	e.pending = append(e.pending, evs...)
	e.mu.Unlock()

	e.deliver()
	return closed
}

// Reset discards every trade and restores the initial balance. The id
// counter and last price start over; subscribers are kept. Since ids
// repeat after a reset, a journal recorder subscribed to the engine
// needs a new run id.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.balance = e.cfg.InitialBalance
	e.equity = e.cfg.InitialBalance
	e.trades = nil
	e.nextID = 0
	e.lastPrice = 0
	e.hasPrice = false
}

// closeLocked freezes the trade at px and books its P&L. The unrealized
// value keeps whatever the last mark computed.
func (e *Engine) closeLocked(t *trade.Trade, px float64, status trade.Status, at time.Time) events.Event {
	pl := t.PnLAt(px)

	t.ExitPrice = px
	t.ExitTime = at
	t.Status = status
	t.RealizedPnL = &pl

	e.balance += pl

	e.log.WithFields(log.Fields{
		"trade":  t.ID,
		"status": status,
		"exit":   px,
		"pl":     pl,
	}).Debug("trade closed")

	return events.New(events.TradeClosed, t.Snapshot(), at)
}

// revalueLocked recomputes equity from the balance and open marks.
func (e *Engine) revalueLocked() {
	equity := e.balance
	for _, t := range e.trades {
		if t.IsOpen() {
			equity += t.UnrealizedPnL
		}
	}
	e.equity = equity
}

func (e *Engine) marketPriceLocked(t *trade.Trade) float64 {
	if e.hasPrice {
		return e.lastPrice
	}
	return t.EntryPrice
}

func (e *Engine) findOpenLocked(id int64) *trade.Trade {
	for _, t := range e.trades {
		if t.ID == id && t.IsOpen() {
			return t
		}
	}
	return nil
}

// deliver drains the queue onto the bus unless another call is already
// draining it.
func (e *Engine) deliver() {
	e.mu.Lock()
	if e.delivering {
		e.mu.Unlock()
		return
	}
	e.delivering = true

	for len(e.pending) > 0 {
		ev := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		e.bus.Publish(ev)

		e.mu.Lock()
	}
	e.pending = nil
	e.delivering = false
	e.mu.Unlock()
}

func (e *Engine) openCountLocked() int {
	n := 0
	for _, t := range e.trades {
		if t.IsOpen() {
			n++
		}
	}
	return n
}
