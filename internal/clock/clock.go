// Package clock abstracts wall time and delayed callbacks.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending delayed callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// call stopped the timer before it fired.
	Stop() bool
}

// Clock provides the current time and delayed execution.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	waiters []*fakeTimer
}

type fakeTimer struct {
	clock *Fake
	id    int
	when  time.Time
	f     func()
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock is advanced past d.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &fakeTimer{clock: c, id: c.nextID, when: c.now.Add(d), f: f}
	c.waiters = append(c.waiters, t)
	return t
}

// Advance moves time forward by d, running due callbacks in deadline order.
// Callbacks run without the clock lock held, so they may arm new timers;
// timers armed inside the advanced window fire in the same call.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		next := c.popDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.when.After(c.now) {
			c.now = next.when
		}
		c.mu.Unlock()
		next.f()
	}
}

// Pending returns the number of armed timers.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Fake) popDueLocked(target time.Time) *fakeTimer {
	if len(c.waiters) == 0 {
		return nil
	}
	sort.SliceStable(c.waiters, func(i, j int) bool {
		if c.waiters[i].when.Equal(c.waiters[j].when) {
			return c.waiters[i].id < c.waiters[j].id
		}
		return c.waiters[i].when.Before(c.waiters[j].when)
	})
	first := c.waiters[0]
	if first.when.After(target) {
		return nil
	}
	c.waiters = c.waiters[1:]
	return first
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, w := range t.clock.waiters {
		if w == t {
			t.clock.waiters = append(t.clock.waiters[:i], t.clock.waiters[i+1:]...)
			return true
		}
	}
	return false
}
