package sim

import (
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradereplay/events"
	"github.com/rustyeddy/tradereplay/trade"
)

type eventLog struct {
	mu  sync.Mutex
	evs []events.Event
}

func (l *eventLog) Notify(e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, e)
	return nil
}

func (l *eventLog) kinds() []events.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Kind, len(l.evs))
	for i, e := range l.evs {
		out[i] = e.Kind
	}
	return out
}

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

// newEngine uses a small stop distance so 100.0/99.5 brackets are accepted.
func newEngine(t *testing.T, balance float64, mutate ...func(*Config)) (*Engine, *eventLog) {
	t.Helper()
	cfg := DefaultConfig(balance)
	cfg.MinSLDistance = 0.1
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewEngine(cfg, WithClock(func() time.Time { return t0 }), WithLogger(quietLogger()))
	require.NoError(t, err)

	l := &eventLog{}
	e.Subscribe(l)
	return e, l
}

func size(v float64) *float64 { return &v }

func openLong(t *testing.T, e *Engine, entry, sl, tp float64, sz *float64) trade.Trade {
	t.Helper()
	tr, err := e.PlaceOrder(OrderRequest{Direction: trade.Long, Entry: entry, StopLoss: sl, TakeProfit: tp, Size: sz})
	require.NoError(t, err)
	return tr
}

func openShort(t *testing.T, e *Engine, entry, sl, tp float64, sz *float64) trade.Trade {
	t.Helper()
	tr, err := e.PlaceOrder(OrderRequest{Direction: trade.Short, Entry: entry, StopLoss: sl, TakeProfit: tp, Size: sz})
	require.NoError(t, err)
	return tr
}

func assertEquityInvariant(t *testing.T, e *Engine) {
	t.Helper()
	sum := e.Balance()
	for _, tr := range e.OpenTrades() {
		sum += tr.UnrealizedPnL
	}
	assert.InDelta(t, sum, e.Equity(), 1e-9)
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	_, err := NewEngine(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial_balance")
}

func TestTakeProfitCloses(t *testing.T) {
	e, l := newEngine(t, 10000)

	tr := openLong(t, e, 100.0, 99.5, 101.0, size(0.1))
	assert.Equal(t, int64(1), tr.ID)
	assert.Equal(t, trade.Open, tr.Status)
	assert.Zero(t, tr.UnrealizedPnL)

	closed := e.Update(101.0)
	require.Len(t, closed, 1)

	got, ok := e.Trade(tr.ID)
	require.True(t, ok)
	assert.Equal(t, trade.Taken, got.Status)
	pl, ok := got.Realized()
	require.True(t, ok)
	assert.InDelta(t, 0.1, pl, 1e-9)
	assert.InDelta(t, 10000.1, e.Balance(), 1e-9)
	assert.InDelta(t, 10000.1, e.Equity(), 1e-9)
	assert.Equal(t, 101.0, got.ExitPrice)
	assert.Equal(t, t0, got.ExitTime)

	assert.Equal(t, []events.Kind{events.TradeOpened, events.TradeClosed}, l.kinds())
}

func TestStopLossCloses(t *testing.T) {
	e, _ := newEngine(t, 10000)

	tr := openLong(t, e, 100.0, 99.5, 101.0, size(0.1))
	e.Update(99.5)

	got, _ := e.Trade(tr.ID)
	assert.Equal(t, trade.Stopped, got.Status)
	pl, _ := got.Realized()
	assert.InDelta(t, -0.05, pl, 1e-9)
	assert.InDelta(t, 9999.95, e.Balance(), 1e-9)
}

func TestZeroStopDistanceRejected(t *testing.T) {
	e, l := newEngine(t, 10000)

	_, err := e.PlaceOrder(OrderRequest{Direction: trade.Long, Entry: 100, StopLoss: 100, TakeProfit: 101, Size: size(0.1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.ErrorIs(t, err, ErrInvalidLevels)

	assert.Empty(t, e.Trades())
	assert.Empty(t, l.kinds())
	assert.Equal(t, 10000.0, e.Equity())
}

func TestPositionLimitRejects(t *testing.T) {
	e, l := newEngine(t, 10000, func(c *Config) { c.MaxOpenPositions = 1 })

	openLong(t, e, 100, 99, 102, size(0.1))

	_, err := e.PlaceOrder(OrderRequest{Direction: trade.Short, Entry: 100, StopLoss: 101, TakeProfit: 98, Size: size(0.1)})
	assert.ErrorIs(t, err, ErrPositionLimit)
	assert.Len(t, e.Trades(), 1)
	assert.Len(t, l.kinds(), 1)

	// A slot frees up once the first trade closes.
	e.CloseAll()
	openShort(t, e, 100, 101, 98, size(0.1))
}

func TestGapThroughBothLevelsStops(t *testing.T) {
	tests := []struct {
		name  string
		open  func(*testing.T, *Engine) trade.Trade
		price float64
		exit  float64
	}{
		{
			name:  "long gaps far below the stop",
			open:  func(t *testing.T, e *Engine) trade.Trade { return openLong(t, e, 100, 99, 101, size(1)) },
			price: 50,
			exit:  99,
		},
		{
			name:  "short gaps far above the stop",
			open:  func(t *testing.T, e *Engine) trade.Trade { return openShort(t, e, 100, 101, 99, size(1)) },
			price: 150,
			exit:  101,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t, 10000)
			tr := tt.open(t, e)

			e.Update(tt.price)

			got, _ := e.Trade(tr.ID)
			assert.Equal(t, trade.Stopped, got.Status)
			assert.Equal(t, tt.exit, got.ExitPrice, "fills at the stop level, not the gap price")
			assert.InDelta(t, 10000-1.0, e.Balance(), 1e-9)
		})
	}
}

// Valid levels never let one price satisfy both triggers, so the levels
// are bent in place to pin the evaluation order.
func TestStopCheckedBeforeTakeProfit(t *testing.T) {
	e, l := newEngine(t, 10000)
	tr := openLong(t, e, 100, 99, 101, size(1))

	e.mu.Lock()
	e.trades[0].StopLoss = 100.5
	e.trades[0].TakeProfit = 99.5
	e.mu.Unlock()

	e.Update(100)

	got, _ := e.Trade(tr.ID)
	assert.Equal(t, trade.Stopped, got.Status)
	assert.Equal(t, 100.5, got.ExitPrice)
	assert.Equal(t, []events.Kind{events.TradeOpened, events.TradeClosed}, l.kinds())
}

func TestShortTakeProfit(t *testing.T) {
	e, _ := newEngine(t, 10000)
	tr := openShort(t, e, 100, 101, 98, size(2))

	e.Update(99)
	assert.InDelta(t, 2.0, e.Equity()-e.Balance(), 1e-9)
	assertEquityInvariant(t, e)

	e.Update(97.5)
	got, _ := e.Trade(tr.ID)
	assert.Equal(t, trade.Taken, got.Status)
	assert.Equal(t, 98.0, got.ExitPrice)
	pl, _ := got.Realized()
	assert.InDelta(t, 4.0, pl, 1e-9)
	assert.InDelta(t, 10004, e.Balance(), 1e-9)
}

func TestPlaceOrderValidation(t *testing.T) {
	nan := math.NaN()
	inf := math.Inf(1)

	tests := []struct {
		name string
		req  OrderRequest
		want error
	}{
		{"bad direction", OrderRequest{Direction: "up", Entry: 100, StopLoss: 99, TakeProfit: 101}, ErrInvalidDirection},
		{"zero entry", OrderRequest{Direction: trade.Long, Entry: 0, StopLoss: 99, TakeProfit: 101}, ErrInvalidPrice},
		{"negative sl", OrderRequest{Direction: trade.Long, Entry: 100, StopLoss: -1, TakeProfit: 101}, ErrInvalidPrice},
		{"nan tp", OrderRequest{Direction: trade.Long, Entry: 100, StopLoss: 99, TakeProfit: nan}, ErrInvalidPrice},
		{"inf entry", OrderRequest{Direction: trade.Short, Entry: inf, StopLoss: 99, TakeProfit: 101}, ErrInvalidPrice},
		{"long sl above entry", OrderRequest{Direction: trade.Long, Entry: 100, StopLoss: 101, TakeProfit: 102}, ErrInvalidLevels},
		{"long tp below entry", OrderRequest{Direction: trade.Long, Entry: 100, StopLoss: 99, TakeProfit: 99.5}, ErrInvalidLevels},
		{"short sl below entry", OrderRequest{Direction: trade.Short, Entry: 100, StopLoss: 99, TakeProfit: 98}, ErrInvalidLevels},
		{"short tp above entry", OrderRequest{Direction: trade.Short, Entry: 100, StopLoss: 101, TakeProfit: 100.5}, ErrInvalidLevels},
		{"stop too close", OrderRequest{Direction: trade.Long, Entry: 100, StopLoss: 99.95, TakeProfit: 101}, ErrStopTooClose},
		{"zero size", OrderRequest{Direction: trade.Long, Entry: 100, StopLoss: 99, TakeProfit: 101, Size: size(0)}, ErrInvalidSize},
		{"nan size", OrderRequest{Direction: trade.Long, Entry: 100, StopLoss: 99, TakeProfit: 101, Size: size(nan)}, ErrInvalidSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, l := newEngine(t, 10000)
			_, err := e.PlaceOrder(tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrOrderRejected)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, e.Trades())
			assert.Empty(t, l.kinds())
		})
	}
}

func TestRiskBasedSizing(t *testing.T) {
	// 10000 * 0.01 / 10 = 10, capped at the default lot of 0.1.
	e, _ := newEngine(t, 10000)
	tr := openLong(t, e, 100, 90, 120, nil)
	assert.InDelta(t, 0.1, tr.Size, 1e-12)

	// 10000 * 0.01 / 2000 = 0.05, below the cap.
	e2, _ := newEngine(t, 10000)
	tr = openLong(t, e2, 5000, 3000, 6000, nil)
	assert.InDelta(t, 0.05, tr.Size, 1e-12)
	assert.InDelta(t, 0.05, e2.RiskSize(5000, 3000), 1e-12)
}

func TestUpdateIsIdempotent(t *testing.T) {
	e, l := newEngine(t, 10000)
	openLong(t, e, 100, 99, 101, size(1))
	openShort(t, e, 100, 102, 98, size(1))

	e.Update(101)
	bal, eq := e.Balance(), e.Equity()
	trades := e.Trades()
	n := len(l.kinds())

	closed := e.Update(101)
	assert.Empty(t, closed)
	assert.Equal(t, bal, e.Balance())
	assert.Equal(t, eq, e.Equity())
	assert.Equal(t, trades, e.Trades())
	assert.Len(t, l.kinds(), n)
}

func TestRealizedSetOnce(t *testing.T) {
	e, _ := newEngine(t, 10000)
	tr := openLong(t, e, 100, 99, 101, size(1))

	e.Update(101)
	first, _ := e.Trade(tr.ID)
	pl1, _ := first.Realized()

	e.Update(50)
	e.Update(150)
	_, err := e.CloseTrade(tr.ID, nil)
	assert.ErrorIs(t, err, ErrTradeNotFound)
	e.CloseAll()

	later, _ := e.Trade(tr.ID)
	pl2, _ := later.Realized()
	assert.Equal(t, pl1, pl2)
	assert.Equal(t, first.UnrealizedPnL, later.UnrealizedPnL, "unrealized frozen at close")
}

func TestCloseTradeManual(t *testing.T) {
	e, l := newEngine(t, 10000)
	tr := openLong(t, e, 100, 90, 120, size(1))

	e.Update(105)
	before := e.Balance()

	closed, err := e.CloseTrade(tr.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, trade.Stopped, closed.Status, "manual closes report stopped")
	assert.Equal(t, 105.0, closed.ExitPrice)

	pl, _ := closed.Realized()
	assert.InDelta(t, 5.0, pl, 1e-9)
	assert.InDelta(t, before+pl, e.Balance(), 1e-9)
	assert.Equal(t, e.Balance(), e.Equity())

	require.Len(t, l.evs, 2)
	assert.Equal(t, events.TradeClosed, l.evs[1].Kind)
	assert.Equal(t, trade.Stopped, l.evs[1].Trade.Status)
}

func TestCloseTradeExplicitPrice(t *testing.T) {
	e, _ := newEngine(t, 10000)
	tr := openShort(t, e, 100, 110, 80, size(2))

	closed, err := e.CloseTrade(tr.ID, size(95))
	require.NoError(t, err)
	pl, _ := closed.Realized()
	assert.InDelta(t, 10.0, pl, 1e-9)
	assert.InDelta(t, 10010, e.Balance(), 1e-9)
}

func TestCloseTradeWithoutAnyPriceUsesEntry(t *testing.T) {
	e, _ := newEngine(t, 10000)
	tr := openLong(t, e, 100, 90, 120, size(1))

	closed, err := e.CloseTrade(tr.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, closed.ExitPrice)
	assert.Equal(t, 10000.0, e.Balance())
}

func TestCloseTradeErrors(t *testing.T) {
	e, l := newEngine(t, 10000)
	tr := openLong(t, e, 100, 90, 120, size(1))

	_, err := e.CloseTrade(42, nil)
	assert.ErrorIs(t, err, ErrTradeNotFound)

	_, err = e.CloseTrade(tr.ID, size(-1))
	assert.ErrorIs(t, err, ErrInvalidPrice)

	assert.Len(t, e.OpenTrades(), 1)
	assert.Len(t, l.kinds(), 1)
}

func TestCloseAll(t *testing.T) {
	e, l := newEngine(t, 10000)
	openLong(t, e, 100, 90, 120, size(1))
	openShort(t, e, 100, 110, 80, size(1))
	openLong(t, e, 100, 90, 120, size(2))

	e.Update(104)
	closed := e.CloseAll()
	require.Len(t, closed, 3)

	// +4 -4 +8
	assert.InDelta(t, 10008, e.Balance(), 1e-9)
	assert.Equal(t, e.Balance(), e.Equity())
	assert.Empty(t, e.OpenTrades())
	assert.Len(t, e.ClosedTrades(), 3)
	for _, tr := range closed {
		assert.Equal(t, trade.Stopped, tr.Status)
		assert.Equal(t, 104.0, tr.ExitPrice)
	}

	assert.Empty(t, e.CloseAll())
	assert.Len(t, l.kinds(), 6)
}

func TestEquityInvariantAcrossUpdates(t *testing.T) {
	e, _ := newEngine(t, 10000)
	openLong(t, e, 100, 95, 110, size(1))
	openShort(t, e, 100, 103, 90, size(0.5))
	openLong(t, e, 100, 98, 104, size(3))

	for _, p := range []float64{100.5, 99, 101.2, 97.9, 102.5, 104.1, 103, 96, 100} {
		e.Update(p)
		assertEquityInvariant(t, e)
	}
}

func TestBalanceChangesOnlyOnClose(t *testing.T) {
	e, l := newEngine(t, 10000)
	openLong(t, e, 100, 95, 110, size(1))

	for _, p := range []float64{101, 99, 105, 96} {
		e.Update(p)
		assert.Equal(t, 10000.0, e.Balance())
	}

	var before float64
	e.Subscribe(events.SubscriberFunc(func(ev events.Event) error {
		if ev.Kind == events.TradeClosed {
			pl, _ := ev.Trade.Realized()
			assert.InDelta(t, before+pl, e.Balance(), 1e-9)
		}
		return nil
	}))
	before = e.Balance()
	e.Update(111)
	assert.Len(t, l.kinds(), 2)
}

func TestSubscribersSeeFinishedState(t *testing.T) {
	e, _ := newEngine(t, 10000)
	openLong(t, e, 100, 99, 101, size(1))
	openLong(t, e, 100, 99, 102, size(1))

	var seen []float64
	e.Subscribe(events.SubscriberFunc(func(ev events.Event) error {
		if ev.Kind == events.TradeClosed {
			seen = append(seen, e.Equity())
		}
		return nil
	}))

	e.Update(101.5)

	// Trade 1 closes at 101 (+1); trade 2 is marked at +1.5.
	require.Len(t, seen, 1)
	assert.InDelta(t, 10002.5, seen[0], 1e-9)
}

func TestFaultySubscriberDoesNotBreakEngine(t *testing.T) {
	e, l := newEngine(t, 10000)
	e.Subscribe(events.SubscriberFunc(func(events.Event) error { panic("renderer crashed") }))
	e.Subscribe(events.SubscriberFunc(func(events.Event) error { return errors.New("nope") }))

	tr := openLong(t, e, 100, 99, 101, size(1))
	e.Update(101)

	got, _ := e.Trade(tr.ID)
	assert.Equal(t, trade.Taken, got.Status)
	assert.Len(t, l.kinds(), 2)
}

func TestSubscriberMayPlaceOrders(t *testing.T) {
	e, _ := newEngine(t, 10000)
	e.Subscribe(events.SubscriberFunc(func(ev events.Event) error {
		if ev.Kind == events.TradeClosed && len(e.Trades()) < 2 {
			_, err := e.PlaceOrder(OrderRequest{Direction: trade.Long, Entry: 101, StopLoss: 100, TakeProfit: 103, Size: size(1)})
			return err
		}
		return nil
	}))

	openLong(t, e, 100, 99, 101, size(1))
	e.Update(101)

	open := e.OpenTrades()
	require.Len(t, open, 1)
	assert.Equal(t, int64(2), open[0].ID)
}

func TestEventsKeepOrderAcrossGoroutines(t *testing.T) {
	e, _ := newEngine(t, 10000)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.Subscribe(events.SubscriberFunc(func(ev events.Event) error {
		if ev.Kind == events.TradeOpened {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	}))
	second := &eventLog{}
	e.Subscribe(second)

	placed := make(chan error, 1)
	go func() {
		_, err := e.PlaceOrder(OrderRequest{Direction: trade.Long, Entry: 100, StopLoss: 99.5, TakeProfit: 101, Size: size(1)})
		placed <- err
	}()

	<-entered
	closed := e.Update(99)
	require.Len(t, closed, 1, "state changes while the open is still being delivered")
	close(release)
	require.NoError(t, <-placed)

	assert.Equal(t, []events.Kind{events.TradeOpened, events.TradeClosed}, second.kinds())
}

func TestNestedOrderEventsFollowCurrentEvent(t *testing.T) {
	e, l := newEngine(t, 10000)
	e.Subscribe(events.SubscriberFunc(func(ev events.Event) error {
		if ev.Kind == events.TradeClosed && ev.Trade.ID == 1 {
			_, err := e.PlaceOrder(OrderRequest{Direction: trade.Long, Entry: 101, StopLoss: 100, TakeProfit: 103, Size: size(1)})
			return err
		}
		return nil
	}))
	late := &eventLog{}
	e.Subscribe(late)

	openLong(t, e, 100, 99, 101, size(1))
	e.Update(101)

	want := []events.Kind{events.TradeOpened, events.TradeClosed, events.TradeOpened}
	assert.Equal(t, want, l.kinds())
	assert.Equal(t, want, late.kinds(), "every subscriber sees the close before the nested open")
}

func TestStats(t *testing.T) {
	e, _ := newEngine(t, 10000)
	assert.Equal(t, 0.0, e.WinRate())
	assert.Equal(t, 1.0, e.ProfitFactor())

	openLong(t, e, 100, 99, 102, size(1))
	e.Update(102) // +2
	assert.Equal(t, 100.0, e.WinRate())
	assert.True(t, math.IsInf(e.ProfitFactor(), 1))

	openLong(t, e, 100, 99, 102, size(1))
	e.Update(99) // -1
	openLong(t, e, 100, 99, 102, size(1))
	e.Update(102) // +2

	s := e.Stats()
	assert.Equal(t, 3, s.Closed)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 200.0/3, e.WinRate(), 1e-9)
	assert.InDelta(t, 4.0, e.ProfitFactor(), 1e-9)
	assert.InDelta(t, 3.0, s.NetPnL(), 1e-9)
}

func TestAccountSnapshot(t *testing.T) {
	e, _ := newEngine(t, 10000)
	openLong(t, e, 100, 99, 102, size(0.25))
	openShort(t, e, 100, 103, 98, size(0.5))
	openLong(t, e, 100, 99, 102, size(1))
	e.Update(102)

	acct := e.Account()
	assert.Equal(t, 10000.0, acct.InitialBalance)
	assert.Equal(t, 1, acct.OpenTrades)
	assert.Equal(t, 2, acct.ClosedTrades)
	assert.InDelta(t, 0.5, acct.MarginUsed, 1e-12)
	assert.InDelta(t, 0.5, e.MarginUsed(), 1e-12)

	p, ok := e.LastPrice()
	assert.True(t, ok)
	assert.Equal(t, 102.0, p)
}

func TestUpdateIgnoresInvalidPrices(t *testing.T) {
	e, l := newEngine(t, 10000)
	openLong(t, e, 100, 99, 101, size(1))

	for _, p := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		assert.Nil(t, e.Update(p))
	}
	_, ok := e.LastPrice()
	assert.False(t, ok)
	assert.Len(t, e.OpenTrades(), 1)
	assert.Len(t, l.kinds(), 1)
}

func TestReset(t *testing.T) {
	e, l := newEngine(t, 10000)
	openLong(t, e, 100, 99, 101, size(1))
	e.Update(101)
	openLong(t, e, 100, 99, 101, size(1))

	e.Reset()
	assert.Empty(t, e.Trades())
	assert.Equal(t, 10000.0, e.Balance())
	assert.Equal(t, 10000.0, e.Equity())
	_, ok := e.LastPrice()
	assert.False(t, ok)

	tr := openLong(t, e, 100, 99, 101, size(1))
	assert.Equal(t, int64(1), tr.ID, "id counter restarts")
	assert.Len(t, l.kinds(), 4, "subscribers survive reset")
}

func TestSnapshotsAreCopies(t *testing.T) {
	e, _ := newEngine(t, 10000)
	openLong(t, e, 100, 99, 101, size(1))

	trades := e.Trades()
	trades[0].Status = trade.Taken
	trades[0].Size = 99

	got := e.OpenTrades()
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Size)
}

func TestConcurrentAccess(t *testing.T) {
	e, _ := newEngine(t, 10000, func(c *Config) { c.MaxOpenPositions = 1000 })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = e.PlaceOrder(OrderRequest{Direction: trade.Long, Entry: 100, StopLoss: 99, TakeProfit: 101, Size: size(0.1)})
				e.Update(100 + float64((i+j)%3-1)*0.5)
				_ = e.Equity()
				_ = e.WinRate()
			}
		}(i)
	}
	wg.Wait()

	assertEquityInvariant(t, e)
	ids := map[int64]bool{}
	for _, tr := range e.Trades() {
		assert.False(t, ids[tr.ID], "duplicate id %d", tr.ID)
		ids[tr.ID] = true
	}
	assert.Len(t, ids, 400)
}
