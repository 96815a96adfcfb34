package replay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ticks struct {
	mu  sync.Mutex
	got []int
}

func (t *ticks) on(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.got = append(t.got, i)
}

func (t *ticks) list() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.got...)
}

// fakeTime is a hand-cranked monotonic clock.
type fakeTime struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeTime) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeTime) add(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
	return f.t
}

// manualClock never wakes on its own; tests drive frames through crank.
func manualClock(n int, speed time.Duration) (*Clock, *ticks, *fakeTime) {
	tk := &ticks{}
	ft := &fakeTime{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewClock(n, tk.on, WithSpeed(speed), WithFrame(time.Hour), WithNow(ft.now))
	return c, tk, ft
}

func crank(c *Clock, at time.Time) bool {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	return c.advance(r, at)
}

func TestSeekClamps(t *testing.T) {
	c, tk, _ := manualClock(100, MinSpeed)

	assert.False(t, c.Seek(-5), "already at 0")
	assert.Equal(t, 0, c.Index())

	assert.True(t, c.Seek(1000))
	assert.Equal(t, 99, c.Index())

	assert.True(t, c.Seek(-5))
	assert.Equal(t, 0, c.Index())

	assert.Equal(t, []int{99, 0}, tk.list())
}

func TestStep(t *testing.T) {
	c, tk, _ := manualClock(3, MinSpeed)

	assert.False(t, c.Step(Backward))
	assert.True(t, c.Step(Forward))
	assert.True(t, c.Step(5), "any positive value steps one")
	assert.False(t, c.Step(Forward), "clamped at the end")
	assert.False(t, c.Step(0))
	assert.True(t, c.Step(-3))

	assert.Equal(t, 1, c.Index())
	assert.Equal(t, []int{1, 2, 1}, tk.list())
}

func TestSpeedFloor(t *testing.T) {
	c, _, _ := manualClock(10, time.Millisecond)
	assert.Equal(t, MinSpeed, c.Speed())

	c.SetSpeed(0)
	assert.Equal(t, MinSpeed, c.Speed())

	c.SetSpeed(time.Second)
	assert.Equal(t, time.Second, c.Speed())
}

func TestWakeIntervalFollowsFastSpeed(t *testing.T) {
	tests := []struct {
		speed, frame, want time.Duration
	}{
		{MinSpeed, DefaultFrame, MinSpeed},
		{DefaultSpeed, DefaultFrame, DefaultFrame},
		{time.Second, time.Millisecond, time.Millisecond},
	}
	for _, tt := range tests {
		c := NewClock(5, nil, WithSpeed(tt.speed), WithFrame(tt.frame))
		assert.Equal(t, tt.want, c.wakeLocked(), "speed %v frame %v", tt.speed, tt.frame)
	}
}

func TestProgress(t *testing.T) {
	c, _, _ := manualClock(11, MinSpeed)
	assert.Equal(t, 0.0, c.Progress())

	assert.True(t, c.SetProgress(0.5))
	assert.Equal(t, 5, c.Index())
	assert.InDelta(t, 0.5, c.Progress(), 1e-12)

	assert.True(t, c.SetProgress(7))
	assert.Equal(t, 10, c.Index())
	assert.Equal(t, 1.0, c.Progress())

	assert.True(t, c.SetProgress(-1))
	assert.Equal(t, 0, c.Index())

	one, _, _ := manualClock(1, MinSpeed)
	assert.Equal(t, 0.0, one.Progress())
	assert.False(t, one.SetProgress(1))

	empty, _, _ := manualClock(0, MinSpeed)
	assert.Equal(t, 0.0, empty.Progress())
	assert.False(t, empty.SetProgress(0.3))
}

func TestPlayAdvancesOnElapsed(t *testing.T) {
	c, tk, ft := manualClock(4, 100*time.Millisecond)

	require.True(t, c.Play())
	assert.False(t, c.Play(), "already playing")
	assert.True(t, c.Playing())

	assert.True(t, crank(c, ft.add(50*time.Millisecond)))
	assert.Empty(t, tk.list(), "not enough time elapsed")

	assert.True(t, crank(c, ft.add(50*time.Millisecond)))
	assert.Equal(t, []int{1}, tk.list())

	// Baseline resets on each advance.
	assert.True(t, crank(c, ft.add(99*time.Millisecond)))
	assert.Equal(t, []int{1}, tk.list())

	assert.True(t, crank(c, ft.add(time.Millisecond)))
	assert.False(t, crank(c, ft.add(time.Second)), "reached the end")

	assert.Equal(t, []int{1, 2, 3}, tk.list())
	assert.False(t, c.Playing(), "auto-paused at the last index")
	assert.True(t, c.AtEnd())

	assert.False(t, crank(c, ft.add(time.Second)))
	assert.Equal(t, []int{1, 2, 3}, tk.list(), "no wraparound")
}

func TestPlayAtEndIsNoop(t *testing.T) {
	c, _, _ := manualClock(5, MinSpeed)
	c.Seek(4)
	assert.False(t, c.Play())
	assert.False(t, c.Playing())

	empty, _, _ := manualClock(0, MinSpeed)
	assert.False(t, empty.Play())
}

func TestPauseCancelsContinuation(t *testing.T) {
	c, tk, ft := manualClock(10, MinSpeed)

	require.True(t, c.Play())
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()

	assert.True(t, c.Pause())
	assert.False(t, c.Pause())

	assert.False(t, c.advance(r, ft.add(time.Hour)))
	assert.Empty(t, tk.list())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after pause")
	}
}

func TestStaleRunCannotAdvance(t *testing.T) {
	c, tk, ft := manualClock(10, MinSpeed)

	require.True(t, c.Play())
	c.mu.Lock()
	old := c.run
	c.mu.Unlock()

	c.Pause()
	require.True(t, c.Play())

	assert.False(t, c.advance(old, ft.add(time.Hour)))
	assert.True(t, crank(c, ft.add(time.Hour)))
	assert.Equal(t, []int{1}, tk.list())
	c.Pause()
}

func TestCallbackMayPause(t *testing.T) {
	tk := &ticks{}
	ft := &fakeTime{t: time.Unix(0, 0)}
	var c *Clock
	c = NewClock(10, func(i int) {
		tk.on(i)
		if i == 2 {
			c.Pause()
		}
	}, WithSpeed(MinSpeed), WithFrame(time.Hour), WithNow(ft.now))

	require.True(t, c.Play())
	assert.True(t, crank(c, ft.add(time.Second)))
	assert.True(t, crank(c, ft.add(time.Second)))
	assert.False(t, crank(c, ft.add(time.Second)))

	assert.Equal(t, []int{1, 2}, tk.list())
	assert.False(t, c.Playing())
}

func TestCallbackPanicIsContained(t *testing.T) {
	c := NewClock(3, func(int) { panic("bad renderer") })
	assert.NotPanics(t, func() { c.Seek(2) })
	assert.Equal(t, 2, c.Index())
}

func TestSetLengthClamps(t *testing.T) {
	c, tk, _ := manualClock(100, MinSpeed)
	c.Seek(80)

	c.SetLength(50, false)
	assert.Equal(t, 50, c.Len())
	assert.Equal(t, 49, c.Index())

	c.SetLength(200, false)
	assert.Equal(t, 49, c.Index(), "growing keeps the index")

	assert.Equal(t, []int{80, 49}, tk.list())
}

func TestSetLengthReset(t *testing.T) {
	c, tk, _ := manualClock(100, MinSpeed)
	c.Seek(30)
	require.True(t, c.Play())

	c.SetLength(20, true)
	assert.Equal(t, 0, c.Index())
	assert.False(t, c.Playing())
	assert.Equal(t, []int{30}, tk.list(), "reset does not fire")
}

func TestDoneBeforePlay(t *testing.T) {
	c, _, _ := manualClock(5, MinSpeed)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed before any play")
	}
}

func TestPlayRealTime(t *testing.T) {
	tk := &ticks{}
	c := NewClock(6, tk.on, WithSpeed(MinSpeed), WithFrame(time.Millisecond))

	require.True(t, c.Play())
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not finish")
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5}, tk.list())
	assert.False(t, c.Playing())
	assert.Equal(t, 5, c.Index())
}
