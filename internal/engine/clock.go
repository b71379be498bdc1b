package engine

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts time so deferred cascades are observable and testable.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc runs fn after d elapses and returns a cancel function.
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// RealClock implements Clock with the time package.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc schedules fn on a real timer.
func (RealClock) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// VirtualClock implements Clock for tests. Time only moves when Advance
// is called; due callbacks run synchronously on the advancing goroutine.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending []*virtualTimer
}

type virtualTimer struct {
	id       int
	fireAt   time.Time
	fn       func()
	canceled bool
}

// NewVirtualClock creates a VirtualClock starting at the given time.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now returns the virtual current time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers fn to run when the clock advances past d.
func (c *VirtualClock) AfterFunc(d time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	t := &virtualTimer{id: c.nextID, fireAt: c.now.Add(d), fn: fn}
	c.pending = append(c.pending, t)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		t.canceled = true
	}
}

// Advance moves the clock forward and runs every due callback in fire
// order. Callbacks may schedule further timers; those fire too if they
// fall within the advanced window.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.pending, func(i, j int) bool {
			return c.pending[i].fireAt.Before(c.pending[j].fireAt)
		})

		var due *virtualTimer
		for i, t := range c.pending {
			if t.canceled {
				continue
			}
			if !t.fireAt.After(target) {
				due = t
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				break
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if due.fireAt.After(c.now) {
			c.now = due.fireAt
		}
		c.mu.Unlock()

		due.fn()
	}
}

// PendingCount returns the number of timers that haven't fired or been
// canceled yet.
func (c *VirtualClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.canceled {
			n++
		}
	}
	return n
}
