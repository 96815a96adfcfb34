package strategies

import (
	"context"
	"fmt"
	"strings"

	"github.com/rustyeddy/tradereplay/trade"
)

// Bracket opens a fixed-distance bracket order whenever the account is
// flat, waiting at least Every ticks between entries. Direction may be
// long, short or alternate.
type Bracket struct {
	Stop  float64
	Take  float64
	Every int
	Size  *float64

	alternate bool
	first     trade.Direction
	next      trade.Direction
	lastEntry int
	entered   bool
}

func NewBracket(p Params) (*Bracket, error) {
	if p.StopDistance <= 0 || p.TakeDistance <= 0 {
		return nil, fmt.Errorf("bracket: stop_distance and take_distance must be positive")
	}

	b := &Bracket{
		Stop:  p.StopDistance,
		Take:  p.TakeDistance,
		Every: max(p.Every, 1),
		Size:  p.Size,
		first: trade.Long,
	}

	switch d := strings.ToLower(strings.TrimSpace(p.Direction)); d {
	case "", "long", "buy":
	case "alternate":
		b.alternate = true
	default:
		dir, err := trade.ParseDirection(d)
		if err != nil {
			return nil, fmt.Errorf("bracket: %w", err)
		}
		b.first = dir
	}
	b.next = b.first
	return b, nil
}

func (s *Bracket) OnTick(_ context.Context, b Broker, tick Tick) error {
	if len(b.OpenTrades()) > 0 {
		return nil
	}
	if s.entered && tick.Index-s.lastEntry < s.Every {
		return nil
	}

	req := bracketAround(s.next, tick.Candle.Close, s.Stop, s.Take, s.Size)
	if _, err := b.PlaceOrder(req); err != nil {
		return fmt.Errorf("bracket at tick %d: %w", tick.Index, err)
	}

	s.entered = true
	s.lastEntry = tick.Index
	if s.alternate {
		s.next = opposite(s.next)
	}
	return nil
}

func (s *Bracket) Reset() {
	s.entered = false
	s.lastEntry = 0
	s.next = s.first
}

func opposite(d trade.Direction) trade.Direction {
	if d == trade.Long {
		return trade.Short
	}
	return trade.Long
}
