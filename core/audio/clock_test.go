package audio

import (
	"math"
	"sync"
	"testing"
	"time"
)

// testClock drives a ClockSource with a controllable wall clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSource(t *testing.T, durationMs float64) (*ClockSource, *testClock) {
	t.Helper()
	clk := newTestClock()
	// A long report interval keeps the report loop quiet during tests.
	s := NewClockSource(durationMs, time.Hour)
	s.mu.Lock()
	s.now = clk.Now
	s.mu.Unlock()
	t.Cleanup(s.Close)
	return s, clk
}

func TestClockSourceAdvancesWhilePlaying(t *testing.T) {
	s, clk := newTestSource(t, 300000)

	s.Play()
	clk.Advance(2 * time.Second)
	if got := s.PositionMs(); math.Abs(got-2000) > 1e-9 {
		t.Errorf("position = %v, want 2000", got)
	}

	s.Pause()
	clk.Advance(5 * time.Second)
	if got := s.PositionMs(); math.Abs(got-2000) > 1e-9 {
		t.Errorf("position after pause = %v, want 2000", got)
	}
}

func TestClockSourceRateScalesAdvance(t *testing.T) {
	s, clk := newTestSource(t, 300000)

	s.SetRate(0.5)
	s.Play()
	clk.Advance(4 * time.Second)
	if got := s.PositionMs(); math.Abs(got-2000) > 1e-9 {
		t.Errorf("position = %v, want 2000 at half rate", got)
	}
}

// Changing the rate mid-flight must rebase first: earlier progress is not
// retroactively rescaled.
func TestClockSourceSetRateRebases(t *testing.T) {
	s, clk := newTestSource(t, 300000)

	s.Play()
	clk.Advance(2 * time.Second) // 2000ms at rate 1.0
	s.SetRate(2.0)
	clk.Advance(1 * time.Second) // +2000ms at rate 2.0

	if got := s.PositionMs(); math.Abs(got-4000) > 1e-9 {
		t.Errorf("position = %v, want 4000", got)
	}
}

func TestClockSourceSeekClamps(t *testing.T) {
	s, _ := newTestSource(t, 10000)

	s.SeekMs(-50)
	if got := s.PositionMs(); got != 0 {
		t.Errorf("position = %v, want clamp at 0", got)
	}
	s.SeekMs(99999)
	if got := s.PositionMs(); got != 10000 {
		t.Errorf("position = %v, want clamp at duration", got)
	}
}

func TestClockSourcePositionClampedAtEnd(t *testing.T) {
	s, clk := newTestSource(t, 3000)

	s.Play()
	clk.Advance(10 * time.Second)
	if got := s.PositionMs(); got != 3000 {
		t.Errorf("position = %v, want clamp at 3000", got)
	}
}

func TestClockSourceIgnoresNonPositiveRate(t *testing.T) {
	s, clk := newTestSource(t, 300000)

	s.SetRate(0)
	s.SetRate(-2)
	s.Play()
	clk.Advance(time.Second)
	if got := s.PositionMs(); math.Abs(got-1000) > 1e-9 {
		t.Errorf("position = %v, want 1000 at unchanged rate", got)
	}
}

func TestClockSourceVolumeClamped(t *testing.T) {
	s, _ := newTestSource(t, 300000)

	s.SetVolume(150)
	if got := s.Volume(); got != 100 {
		t.Errorf("volume = %v, want 100", got)
	}
	s.SetVolume(-5)
	if got := s.Volume(); got != 0 {
		t.Errorf("volume = %v, want 0", got)
	}
}

func TestClockSourceCloseStopsReporting(t *testing.T) {
	clk := newTestClock()
	s := NewClockSource(300000, 5*time.Millisecond)
	s.mu.Lock()
	s.now = clk.Now
	s.mu.Unlock()

	var mu sync.Mutex
	reports := 0
	s.OnPositionUpdate(func(pos float64) {
		mu.Lock()
		reports++
		mu.Unlock()
	})

	s.Play()
	clk.Advance(time.Second)
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	seen := reports
	mu.Unlock()
	if seen == 0 {
		t.Fatal("no position reports before close")
	}

	s.Close()
	s.Close() // idempotent

	mu.Lock()
	after := reports
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	final := reports
	mu.Unlock()
	if final != after {
		t.Errorf("reports continued after close: %d -> %d", after, final)
	}
}
