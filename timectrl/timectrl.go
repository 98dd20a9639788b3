package timectrl

import (
	"sync"
	"time"
)

// Clock supplies the current time for deadline arithmetic.
type Clock interface {
	Now() time.Time
}

// SimClock is a Clock that can also schedule a wake-up after d has elapsed
// on that clock.
type SimClock interface {
	Clock
	After(d time.Duration) <-chan time.Time
}

// WallClock reads the process clock. time.Now carries a monotonic reading,
// so deadlines computed from it are immune to wall-clock steps.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

func (WallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// TimeController drives simulation time and notifies registered listeners.
// It implements SimClock.
type TimeController struct {
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	mu          sync.RWMutex
	currentTime time.Time
	listeners   []func(time.Time)
	timers      timerSet
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime jumps simulation time to t and fires any timers now due. Listeners
// are not invoked.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
	tc.timers.fire(t)
}

// After returns a channel that receives the simulation time once it has
// advanced by at least d. A non-positive d fires immediately.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.timers.add(tc.currentTime, tc.currentTime.Add(d))
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Step advances simulation time by one Tick, fires due timers, and invokes
// the listeners synchronously.
func (tc *TimeController) Step() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	now := tc.currentTime
	tc.timers.fire(now)
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Start runs the controller for the specified duration in a separate goroutine.
// A non-positive duration runs until Stop is called via the returned cancel.
// The returned channel is closed when the controller finishes.
func (tc *TimeController) Start(duration time.Duration) (<-chan struct{}, func()) {
	done := make(chan struct{})
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	tc.mu.Lock()
	tc.currentTime = tc.StartTime
	tc.mu.Unlock()

	go func() {
		defer close(done)

		var ticks <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			ticks = ticker.C
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if ticks != nil {
				select {
				case <-stop:
					return
				case <-ticks:
				}
			} else {
				select {
				case <-stop:
					return
				default:
				}
			}
			tc.Step()
			elapsed += tc.Tick
		}
	}()
	return done, cancel
}

// ManualClock is a SimClock that only moves when told to. Tests use it to
// place lease deadlines exactly.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers timerSet
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers.add(c.now, c.now.Add(d))
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.timers.fire(c.now)
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed but pending timers
// only fire once t reaches their deadline.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	c.timers.fire(c.now)
}

type pendingTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// timerSet is guarded by its owner's mutex.
type timerSet struct {
	pending []pendingTimer
}

func (s *timerSet) add(now, deadline time.Time) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if !now.Before(deadline) {
		ch <- now
		return ch
	}
	s.pending = append(s.pending, pendingTimer{deadline: deadline, ch: ch})
	return ch
}

func (s *timerSet) fire(now time.Time) {
	kept := s.pending[:0]
	for _, t := range s.pending {
		if now.Before(t.deadline) {
			kept = append(kept, t)
			continue
		}
		t.ch <- now
	}
	s.pending = kept
}
