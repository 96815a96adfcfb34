// Package session wires a candle series, a replay clock, the simulated
// account and a strategy into one replay.
//
// Every time the clock lands on an index the session:
//  1. pushes that candle's close into the engine
//  2. runs the strategy on the tick
//  3. hands the tick and the account to each observer
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rustyeddy/tradereplay/pricing"
	"github.com/rustyeddy/tradereplay/replay"
	"github.com/rustyeddy/tradereplay/sim"
	"github.com/rustyeddy/tradereplay/strategies"
)

var ErrEmptySeries = errors.New("session: series has no candles")

// Observer sees every tick after the engine and strategy have handled it.
type Observer func(tick strategies.Tick, acct sim.Account)

type settings struct {
	strategy   strategies.Strategy
	observers  []Observer
	closeAtEnd bool
	clockOpts  []replay.Option
	engineOpts []sim.Option
	log        log.FieldLogger
}

type Option func(*settings)

func WithStrategy(s strategies.Strategy) Option {
	return func(o *settings) { o.strategy = s }
}

func WithObserver(fn Observer) Option {
	return func(o *settings) { o.observers = append(o.observers, fn) }
}

// WithCloseAtEnd closes every open trade once Run or FastForward reaches
// the last candle.
func WithCloseAtEnd(on bool) Option {
	return func(o *settings) { o.closeAtEnd = on }
}

func WithSpeed(d time.Duration) Option {
	return WithReplayOptions(replay.WithSpeed(d))
}

func WithReplayOptions(opts ...replay.Option) Option {
	return func(o *settings) { o.clockOpts = append(o.clockOpts, opts...) }
}

func WithEngineOptions(opts ...sim.Option) Option {
	return func(o *settings) { o.engineOpts = append(o.engineOpts, opts...) }
}

func WithLogger(l log.FieldLogger) Option {
	return func(o *settings) { o.log = l }
}

type Session struct {
	// tickMu serializes tick handling between the clock goroutine and
	// callers that step or seek. Observers and strategies must not step
	// or seek the session themselves.
	tickMu sync.Mutex

	mu      sync.Mutex
	series  *pricing.Series
	cur     time.Time
	started bool
	ctx     context.Context

	engine *sim.Engine
	clock  *replay.Clock

	strategy   strategies.Strategy
	observers  []Observer
	closeAtEnd bool
	log        log.FieldLogger
}

// New builds a paused session at the first candle. The engine stamps
// trades and events with the time of the candle being replayed.
func New(series *pricing.Series, cfg sim.Config, opts ...Option) (*Session, error) {
	if series.Len() == 0 {
		return nil, ErrEmptySeries
	}

	o := settings{
		strategy: strategies.NoopStrategy{},
		log:      log.WithField("component", "session"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		series:     series,
		cur:        series.Start(),
		ctx:        context.Background(),
		strategy:   o.strategy,
		observers:  o.observers,
		closeAtEnd: o.closeAtEnd,
		log:        o.log.WithField("instrument", series.Instrument),
	}

	engineOpts := append([]sim.Option{sim.WithClock(s.Now)}, o.engineOpts...)
	eng, err := sim.NewEngine(cfg, engineOpts...)
	if err != nil {
		return nil, err
	}
	s.engine = eng

	clockOpts := append([]replay.Option{replay.WithLogger(s.log)}, o.clockOpts...)
	s.clock = replay.NewClock(series.Len(), s.onTick, clockOpts...)
	return s, nil
}

func (s *Session) Engine() *sim.Engine  { return s.engine }
func (s *Session) Clock() *replay.Clock { return s.clock }

func (s *Session) Series() *pricing.Series {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.series
}

// Now is the time of the candle most recently replayed.
func (s *Session) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// start replays index 0 once, since the clock begins there without
// firing.
func (s *Session) start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.onTick(s.clock.Index())
}

func (s *Session) onTick(idx int) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	// A tick that waited behind a seek or a reset is stale.
	if s.clock.Index() != idx {
		return
	}

	s.mu.Lock()
	c, ok := s.series.At(idx)
	if ok {
		s.cur = c.Time
	}
	ctx := s.ctx
	s.mu.Unlock()
	if !ok {
		return
	}

	s.engine.Update(c.Close)

	tick := strategies.Tick{Index: idx, Candle: c}
	if err := s.strategy.OnTick(ctx, s.engine, tick); err != nil {
		s.log.WithFields(log.Fields{
			"index": idx,
			"time":  c.Time,
		}).WithError(err).Warn("strategy error")
	}

	if len(s.observers) == 0 {
		return
	}
	acct := s.engine.Account()
	for _, fn := range s.observers {
		fn(tick, acct)
	}
}

// Play starts paced playback from the current index.
func (s *Session) Play() bool {
	s.start()
	return s.clock.Play()
}

func (s *Session) Pause() bool {
	return s.clock.Pause()
}

func (s *Session) Step(dir int) bool {
	s.start()
	return s.clock.Step(dir)
}

func (s *Session) Seek(index int) bool {
	s.start()
	return s.clock.Seek(index)
}

// Run plays at the clock's pace until the last candle or until ctx is
// done, in which case playback is paused and ctx's error returned.
func (s *Session) Run(ctx context.Context) error {
	s.setContext(ctx)
	s.start()
	s.clock.Play()

	select {
	case <-s.clock.Done():
	case <-ctx.Done():
		s.clock.Pause()
		<-s.clock.Done()
		return ctx.Err()
	}

	s.finish()
	return nil
}

// FastForward replays every remaining candle without pacing.
func (s *Session) FastForward(ctx context.Context) error {
	s.setContext(ctx)
	s.clock.Pause()
	s.start()

	for !s.clock.AtEnd() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.clock.Step(replay.Forward)
	}

	s.finish()
	return nil
}

func (s *Session) finish() {
	if !s.closeAtEnd || !s.clock.AtEnd() {
		return
	}
	if closed := s.engine.CloseAll(); len(closed) > 0 {
		s.log.WithField("trades", len(closed)).Info("closed open trades at end of replay")
	}
}

// ReplaceSeries swaps in new data. With reset the account, strategy and
// clock start over as in Reset; otherwise the clock keeps its index,
// clamped to the new length.
func (s *Session) ReplaceSeries(series *pricing.Series, reset bool) error {
	if series.Len() == 0 {
		return ErrEmptySeries
	}
	if reset {
		s.restart(series)
		return nil
	}

	s.mu.Lock()
	s.series = series
	s.mu.Unlock()
	s.clock.SetLength(series.Len(), false)
	return nil
}

// Reset rewinds to the first candle with a fresh account. It stops
// playback and waits for a tick in progress to finish first, so nothing
// from the old replay lands on the new account. It must not be called
// from a strategy or observer.
func (s *Session) Reset() {
	s.restart(nil)
}

// restart rewinds onto series, or onto the current series when nil.
func (s *Session) restart(series *pricing.Series) {
	s.clock.Pause()
	<-s.clock.Done()

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	if series != nil {
		s.series = series
	}
	s.started = false
	s.cur = s.series.Start()
	n := s.series.Len()
	s.mu.Unlock()

	s.clock.SetLength(n, true)
	s.resetState()
}

func (s *Session) resetState() {
	s.engine.Reset()
	if r, ok := s.strategy.(strategies.Resetter); ok {
		r.Reset()
	}
}

func (s *Session) setContext(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
}
