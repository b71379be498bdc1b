package engine

import (
	"sync"
	"time"
)

// Deferred schedules the engine's delayed cascade actions (re-kickoffs,
// condo sweeps) through an injectable clock. Each deferred action re-reads
// fresh store state at fire time, so the delay only bounds staleness.
// Pending actions are tracked per scope so closing a goal can cancel them.
type Deferred struct {
	clock Clock

	mu      sync.Mutex
	settled *sync.Cond
	nextID  int
	pending map[int]*deferredEntry
	running int
}

type deferredEntry struct {
	scope  string
	cancel func()
}

// NewDeferred creates a scheduler over the given clock.
func NewDeferred(clock Clock) *Deferred {
	d := &Deferred{
		clock:   clock,
		pending: make(map[int]*deferredEntry),
	}
	d.settled = sync.NewCond(&d.mu)
	return d
}

// After schedules fn to run once delay elapses. The scope (typically a
// goal or condo ID) groups entries for cancellation.
func (d *Deferred) After(scope string, delay time.Duration, fn func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID

	cancel := d.clock.AfterFunc(delay, func() {
		d.mu.Lock()
		_, live := d.pending[id]
		delete(d.pending, id)
		if live {
			d.running++
		}
		d.mu.Unlock()
		// The lock is released before fn runs so deferred actions can
		// schedule follow-up actions of their own.
		if live {
			fn()
			d.mu.Lock()
			d.running--
			d.settled.Broadcast()
			d.mu.Unlock()
		}
	})

	d.pending[id] = &deferredEntry{scope: scope, cancel: cancel}
	d.mu.Unlock()
}

// CancelScope cancels every pending action for the given scope.
func (d *Deferred) CancelScope(scope string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, e := range d.pending {
		if e.scope == scope {
			e.cancel()
			delete(d.pending, id)
		}
	}
	d.settled.Broadcast()
}

// Wait blocks until every pending action has fired or been canceled,
// including follow-up actions the fired ones schedule. One-shot
// processes call this before exiting so a deferred re-kickoff or sweep
// is not lost with the process. With a virtual clock nothing fires on
// its own; advance the clock before waiting.
func (d *Deferred) Wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.pending) > 0 || d.running > 0 {
		d.settled.Wait()
	}
}

// PendingFor returns the number of pending actions for a scope.
func (d *Deferred) PendingFor(scope string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.pending {
		if e.scope == scope {
			n++
		}
	}
	return n
}
