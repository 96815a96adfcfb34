package strategies

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/tradereplay/indicators"
	"github.com/rustyeddy/tradereplay/sim"
	"github.com/rustyeddy/tradereplay/trade"
)

// EMACross trades a fast/slow EMA crossover.
//   - Enters only on a cross.
//   - Reverses on the opposite cross (close then open).
//   - Stops sit ATRMult ATRs away, or StopDistance while the ATR warms
//     up; the take is RR times the stop distance.
type EMACross struct {
	StopDistance float64
	ATRMult      float64
	RR           float64
	Size         *float64

	fast *indicators.ExponentialMA
	slow *indicators.ExponentialMA
	atr  *indicators.ATR

	lastDiff     float64
	haveLastDiff bool

	openID  int64
	openDir trade.Direction
}

func NewEMACross(p Params) (*EMACross, error) {
	if p.Fast == 0 {
		p.Fast = 10
	}
	if p.Slow == 0 {
		p.Slow = 30
	}
	if p.Fast < 1 || p.Fast >= p.Slow {
		return nil, fmt.Errorf("ema-cross: need 0 < fast < slow, got %d/%d", p.Fast, p.Slow)
	}
	if p.StopDistance <= 0 && p.ATRMult <= 0 {
		return nil, fmt.Errorf("ema-cross: need stop_distance or atr_mult")
	}
	if p.RR <= 0 {
		p.RR = 2.0
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = 14
	}

	return &EMACross{
		StopDistance: p.StopDistance,
		ATRMult:      p.ATRMult,
		RR:           p.RR,
		Size:         p.Size,
		fast:         indicators.NewEMA(p.Fast),
		slow:         indicators.NewEMA(p.Slow),
		atr:          indicators.NewATR(p.ATRPeriod),
	}, nil
}

func (s *EMACross) OnTick(_ context.Context, b Broker, tick Tick) error {
	s.fast.Update(tick.Candle)
	s.slow.Update(tick.Candle)
	s.atr.Update(tick.Candle)

	if !s.fast.Ready() || !s.slow.Ready() {
		return nil
	}

	diff := s.fast.Value() - s.slow.Value()
	if !s.haveLastDiff {
		s.lastDiff = diff
		s.haveLastDiff = true
		return nil
	}

	bullCross := diff > 0 && s.lastDiff <= 0
	bearCross := diff < 0 && s.lastDiff >= 0
	s.lastDiff = diff

	switch {
	case bullCross:
		return s.onSignal(b, tick, trade.Long)
	case bearCross:
		return s.onSignal(b, tick, trade.Short)
	}
	return nil
}

func (s *EMACross) onSignal(b Broker, tick Tick, dir trade.Direction) error {
	s.syncOpenState(b)

	if s.openID != 0 {
		if s.openDir == dir {
			return nil
		}
		if _, err := b.CloseTrade(s.openID, nil); err != nil && !errors.Is(err, sim.ErrTradeNotFound) {
			return err
		}
		s.openID = 0
	}

	dist := s.stopDistance()
	if dist <= 0 {
		return nil
	}

	req := bracketAround(dir, tick.Candle.Close, dist, dist*s.RR, s.Size)
	t, err := b.PlaceOrder(req)
	if err != nil {
		return fmt.Errorf("ema-cross at tick %d: %w", tick.Index, err)
	}
	s.openID = t.ID
	s.openDir = dir
	return nil
}

// syncOpenState forgets a trade the engine already closed at its stop
// or take.
func (s *EMACross) syncOpenState(b Broker) {
	if s.openID == 0 {
		return
	}
	if t, ok := b.Trade(s.openID); !ok || !t.IsOpen() {
		s.openID = 0
	}
}

func (s *EMACross) stopDistance() float64 {
	if s.ATRMult > 0 && s.atr.Ready() {
		return s.atr.Value() * s.ATRMult
	}
	return s.StopDistance
}

func (s *EMACross) Reset() {
	s.fast.Reset()
	s.slow.Reset()
	s.atr.Reset()
	s.lastDiff = 0
	s.haveLastDiff = false
	s.openID = 0
}
