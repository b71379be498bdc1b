package engine

import (
	"sync"
	"testing"
	"time"
)

func TestDeferredFiresAfterDelay(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	d := NewDeferred(clock)

	fired := 0
	d.After("g1", time.Second, func() { fired++ })

	clock.Advance(500 * time.Millisecond)
	if fired != 0 {
		t.Fatal("fired before the delay elapsed")
	}
	clock.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if d.PendingFor("g1") != 0 {
		t.Error("fired entry should no longer be pending")
	}
}

func TestDeferredCancelScope(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	d := NewDeferred(clock)

	fired := 0
	d.After("g1", time.Second, func() { fired++ })
	d.After("g1", 2*time.Second, func() { fired++ })
	d.After("g2", time.Second, func() { fired++ })

	d.CancelScope("g1")
	clock.Advance(5 * time.Second)

	if fired != 1 {
		t.Fatalf("fired = %d, want only the g2 entry", fired)
	}
	if d.PendingFor("g1") != 0 || d.PendingFor("g2") != 0 {
		t.Error("all entries should be resolved")
	}
}

func TestDeferredActionsCanReschedule(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	d := NewDeferred(clock)

	var order []int
	d.After("g1", time.Second, func() {
		order = append(order, 1)
		d.After("g1", time.Second, func() { order = append(order, 2) })
	})

	clock.Advance(3 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}

func TestVirtualClockFiresInOrder(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))

	var order []string
	clock.AfterFunc(2*time.Second, func() { order = append(order, "late") })
	clock.AfterFunc(time.Second, func() { order = append(order, "early") })

	clock.Advance(3 * time.Second)
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Fatalf("order = %v", order)
	}
	if clock.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", clock.PendingCount())
	}
}

func TestVirtualClockCancel(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))

	fired := false
	cancel := clock.AfterFunc(time.Second, func() { fired = true })
	cancel()

	clock.Advance(2 * time.Second)
	if fired {
		t.Error("canceled timer fired")
	}
}

func TestVirtualClockNowAdvances(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewVirtualClock(start)

	var at time.Time
	clock.AfterFunc(time.Second, func() { at = clock.Now() })
	clock.Advance(5 * time.Second)

	if !at.Equal(start.Add(time.Second)) {
		t.Errorf("callback saw Now()=%v, want fire time %v", at, start.Add(time.Second))
	}
	if !clock.Now().Equal(start.Add(5 * time.Second)) {
		t.Errorf("Now() = %v, want %v", clock.Now(), start.Add(5*time.Second))
	}
}

func TestDeferredWaitDrainsChainedActions(t *testing.T) {
	d := NewDeferred(RealClock{})

	var mu sync.Mutex
	var fired []string
	d.After("g1", time.Millisecond, func() {
		mu.Lock()
		fired = append(fired, "first")
		mu.Unlock()
		d.After("g1", time.Millisecond, func() {
			mu.Lock()
			fired = append(fired, "second")
			mu.Unlock()
		})
	})

	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 2 || fired[0] != "first" || fired[1] != "second" {
		t.Fatalf("fired = %v, want [first second]", fired)
	}
	if d.PendingFor("g1") != 0 {
		t.Error("nothing should remain pending after Wait")
	}
}

func TestDeferredWaitReturnsAfterCancel(t *testing.T) {
	d := NewDeferred(RealClock{})
	d.After("g1", time.Hour, func() { t.Error("canceled action fired") })
	d.CancelScope("g1")

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the scope was canceled")
	}
}
