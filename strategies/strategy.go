// Package strategies holds the trading rules a replay session runs on
// every tick.
package strategies

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rustyeddy/tradereplay/pricing"
	"github.com/rustyeddy/tradereplay/sim"
	"github.com/rustyeddy/tradereplay/trade"
)

// Broker is the order surface a strategy trades through. *sim.Engine
// satisfies it.
type Broker interface {
	PlaceOrder(req sim.OrderRequest) (trade.Trade, error)
	CloseTrade(id int64, exitPrice *float64) (trade.Trade, error)
	CloseAll() []trade.Trade
	OpenTrades() []trade.Trade
	Trade(id int64) (trade.Trade, bool)
}

// Tick is one replayed sample: its position in the series and its candle.
type Tick struct {
	Index  int
	Candle pricing.Candle
}

// Strategy is called once per tick, after the engine has seen the
// tick's price.
type Strategy interface {
	OnTick(ctx context.Context, b Broker, tick Tick) error
}

// Resetter is implemented by strategies that carry state across ticks.
// Sessions call Reset when the replay starts over.
type Resetter interface {
	Reset()
}

// Params configures the built-in strategies. Prices are absolute
// distances in quote units, not pips.
type Params struct {
	Direction    string   `json:"direction,omitempty" yaml:"direction,omitempty"`
	StopDistance float64  `json:"stop_distance,omitempty" yaml:"stop_distance,omitempty"`
	TakeDistance float64  `json:"take_distance,omitempty" yaml:"take_distance,omitempty"`
	Every        int      `json:"every,omitempty" yaml:"every,omitempty"`
	Size         *float64 `json:"size,omitempty" yaml:"size,omitempty"`

	Fast      int     `json:"fast,omitempty" yaml:"fast,omitempty"`
	Slow      int     `json:"slow,omitempty" yaml:"slow,omitempty"`
	ATRPeriod int     `json:"atr_period,omitempty" yaml:"atr_period,omitempty"`
	ATRMult   float64 `json:"atr_mult,omitempty" yaml:"atr_mult,omitempty"`
	RR        float64 `json:"risk_reward,omitempty" yaml:"risk_reward,omitempty"`

	ScriptFile string `json:"script_file,omitempty" yaml:"script_file,omitempty"`
}

// Factory builds a strategy from params.
type Factory func(p Params) (Strategy, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

func init() {
	Register("noop", func(Params) (Strategy, error) { return NoopStrategy{}, nil })
	Register("bracket", func(p Params) (Strategy, error) { return NewBracket(p) })
	Register("ema-cross", func(p Params) (Strategy, error) { return NewEMACross(p) })
	Register("script", func(p Params) (Strategy, error) {
		if p.ScriptFile == "" {
			return nil, fmt.Errorf("script strategy needs script_file")
		}
		return LoadScript(p.ScriptFile)
	})
}

// Register adds or replaces a named strategy factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[normalize(name)] = f
}

// Names lists the registered strategies, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ByName builds the named strategy. "none" is an alias for "noop" and
// "emacross" for "ema-cross".
func ByName(name string, p Params) (Strategy, error) {
	f, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return f(p)
}

// Has reports whether name, or one of its aliases, is registered.
func Has(name string) bool {
	_, ok := lookup(name)
	return ok
}

func lookup(name string) (Factory, bool) {
	key := normalize(name)
	switch key {
	case "", "none":
		key = "noop"
	case "emacross":
		key = "ema-cross"
	}

	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[key]
	return f, ok
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// bracketAround places the stop on the losing side of price and the
// take on the winning side.
func bracketAround(dir trade.Direction, price, stop, take float64, size *float64) sim.OrderRequest {
	req := sim.OrderRequest{Direction: dir, Entry: price, Size: size}
	if dir == trade.Long {
		req.StopLoss = price - stop
		req.TakeProfit = price + take
	} else {
		req.StopLoss = price + stop
		req.TakeProfit = price - take
	}
	return req
}
