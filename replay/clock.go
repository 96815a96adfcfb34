// Package replay drives a tick index across a fixed-length data sequence
// at a chosen pace.
package replay

import (
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	MinSpeed     = 10 * time.Millisecond
	DefaultSpeed = 250 * time.Millisecond
	DefaultFrame = 16 * time.Millisecond
)

const (
	Backward = -1
	Forward  = 1
)

// TickFunc receives the new index each time it changes.
type TickFunc func(index int)

// run is one play session of the loop goroutine.
type run struct {
	stop chan struct{}
	done chan struct{}
}

// Clock walks an index over [0, length-1]. It starts paused. While
// playing, a loop wakes once per frame and advances one index whenever
// at least Speed has elapsed since the previous advance. Reaching the
// last index pauses the clock. Out-of-range requests are clamped.
//
// The tick callback runs without the clock's lock held, so it may call
// Pause, Seek or Step.
type Clock struct {
	mu sync.Mutex

	length  int
	index   int
	speed   time.Duration
	playing bool
	last    time.Time
	run     *run

	onTick TickFunc
	frame  time.Duration
	now    func() time.Time
	log    log.FieldLogger
}

type Option func(*Clock)

func WithSpeed(d time.Duration) Option {
	return func(c *Clock) { c.speed = floorSpeed(d) }
}

// WithFrame sets how often the playing loop wakes up. A speed shorter
// than the frame wakes the loop at the speed instead.
func WithFrame(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.frame = d
		}
	}
}

// WithNow replaces the monotonic time source.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

func WithLogger(l log.FieldLogger) Option {
	return func(c *Clock) { c.log = l }
}

func NewClock(length int, onTick TickFunc, opts ...Option) *Clock {
	c := &Clock{
		length: max(length, 0),
		speed:  DefaultSpeed,
		onTick: onTick,
		frame:  DefaultFrame,
		now:    time.Now,
		log:    log.WithField("component", "replay"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Play starts the loop. It reports false, and does nothing, when already
// playing or when there is nothing left to replay.
func (c *Clock) Play() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.playing || c.index >= c.length-1 {
		return false
	}

	r := &run{stop: make(chan struct{}), done: make(chan struct{})}
	c.run = r
	c.playing = true
	c.last = c.now()

	go c.loop(r, c.wakeLocked())
	return true
}

// wakeLocked is the loop's wake interval: the frame, or the speed when
// that is shorter, so a fast speed is not rounded up to whole frames.
func (c *Clock) wakeLocked() time.Duration {
	return min(c.frame, c.speed)
}

// Pause stops the loop. It reports false when already paused.
func (c *Clock) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseLocked()
}

func (c *Clock) pauseLocked() bool {
	if !c.playing {
		return false
	}
	c.playing = false
	close(c.run.stop)
	return true
}

// Done is closed when the current (or last) play session has stopped,
// whether by Pause or by reaching the end.
func (c *Clock) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.run.done
}

func (c *Clock) loop(r *run, frame time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if !c.advance(r, c.now()) {
				return
			}
		}
	}
}

// advance is one frame of the loop. It reports whether the loop should
// keep running.
func (c *Clock) advance(r *run, now time.Time) bool {
	c.mu.Lock()

	if c.run != r || !c.playing {
		c.mu.Unlock()
		return false
	}
	if c.index >= c.length-1 {
		c.pauseLocked()
		c.mu.Unlock()
		return false
	}
	if now.Sub(c.last) < c.speed {
		c.mu.Unlock()
		return true
	}

	c.index++
	c.last = now
	idx := c.index
	if c.index >= c.length-1 {
		c.pauseLocked()
	}
	more := c.playing
	c.mu.Unlock()

	c.fire(idx)
	return more
}

// Step moves one index in the direction of dir's sign.
func (c *Clock) Step(dir int) bool {
	switch {
	case dir > 0:
		dir = Forward
	case dir < 0:
		dir = Backward
	default:
		return false
	}

	c.mu.Lock()
	target := c.index + dir
	c.mu.Unlock()
	return c.Seek(target)
}

// Seek moves to index, clamped into range, and reports whether the
// index changed.
func (c *Clock) Seek(index int) bool {
	c.mu.Lock()
	idx, changed := c.seekLocked(index)
	c.mu.Unlock()

	if changed {
		c.fire(idx)
	}
	return changed
}

func (c *Clock) seekLocked(index int) (int, bool) {
	index = clamp(index, 0, c.length-1)
	if index == c.index {
		return index, false
	}
	c.index = index
	return index, true
}

// SetSpeed sets the time between advances, floored at MinSpeed. While
// playing the loop keeps the wake interval it started with, so a new
// speed below the frame takes full effect from the next Play.
func (c *Clock) SetSpeed(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = floorSpeed(d)
}

func (c *Clock) Speed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetProgress seeks to the index nearest fraction of the way through.
func (c *Clock) SetProgress(fraction float64) bool {
	if math.IsNaN(fraction) {
		return false
	}
	fraction = math.Max(0, math.Min(1, fraction))

	c.mu.Lock()
	n := c.length
	c.mu.Unlock()
	if n == 0 {
		return false
	}
	return c.Seek(int(math.Round(fraction * float64(n-1))))
}

// Progress is index/(length-1), or 0 when length <= 1.
func (c *Clock) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.length <= 1 {
		return 0
	}
	return float64(c.index) / float64(c.length-1)
}

// SetLength swaps in a data sequence of a new length. With reset the
// clock pauses and returns to index 0 without firing; otherwise an
// index past the new end is clamped through Seek.
func (c *Clock) SetLength(n int, reset bool) {
	c.mu.Lock()
	c.length = max(n, 0)
	if reset {
		c.pauseLocked()
		c.index = 0
		c.mu.Unlock()
		return
	}
	idx, changed := c.seekLocked(c.index)
	c.mu.Unlock()

	if changed {
		c.fire(idx)
	}
}

func (c *Clock) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

func (c *Clock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// AtEnd reports whether the index sits on the last sample.
func (c *Clock) AtEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index >= c.length-1
}

func (c *Clock) fire(idx int) {
	if c.onTick == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("index", idx).Errorf("tick callback panic: %v", r)
		}
	}()
	c.onTick(idx)
}

func floorSpeed(d time.Duration) time.Duration {
	if d < MinSpeed {
		return MinSpeed
	}
	return d
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}
