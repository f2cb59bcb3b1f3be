// Package scheduler provides named interval timers polled from the
// control loop. All time comes from an injected clock so tests can
// fast-forward deterministically.
package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is an interval timer checked by polling. It is not safe for
// concurrent use; timers belong to the control goroutine.
type Timer struct {
	clock    clock.Clock
	interval time.Duration
	start    time.Time
	passed   int
}

// Start restarts the interval from now.
func (t *Timer) Start() {
	t.start = t.clock.Now()
}

// Reset clears the pass counter. The running interval is untouched.
func (t *Timer) Reset() {
	t.passed = 0
}

// SetInterval changes the interval and restarts the timer.
func (t *Timer) SetInterval(d time.Duration) {
	t.interval = d
	t.Start()
}

// Interval returns the configured interval.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

// Expired reports whether the interval has elapsed, without restarting.
func (t *Timer) Expired() bool {
	return t.clock.Since(t.start) >= t.interval
}

// Passed reports whether the interval has elapsed. When it has, the timer
// restarts and the pass counter is incremented.
func (t *Timer) Passed() bool {
	now := t.clock.Now()
	if now.Sub(t.start) < t.interval {
		return false
	}
	t.start = now
	t.passed++
	return true
}

// Count returns how many times Passed returned true since the last Reset.
func (t *Timer) Count() int {
	return t.passed
}

// Scheduler owns the named timers of one control loop.
type Scheduler struct {
	clock clock.Clock

	mu     sync.Mutex
	timers map[string]*Timer
}

// New returns a scheduler on clk; nil means the wall clock.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{clock: clk, timers: make(map[string]*Timer)}
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// Now is shorthand for Clock().Now().
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Timer returns the timer registered under name, creating and starting it
// with interval on first use. An existing timer keeps its interval.
func (s *Scheduler) Timer(name string, interval time.Duration) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		return t
	}
	t := &Timer{clock: s.clock, interval: interval}
	t.Start()
	s.timers[name] = t
	return t
}
