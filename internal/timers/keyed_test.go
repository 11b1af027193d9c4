package timers

import (
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManualClockFiresInDeadlineOrder(t *testing.T) {
	c := NewManualClock(epoch)
	var order []int
	c.AfterFunc(30*time.Millisecond, func() { order = append(order, 3) })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, 1) })
	c.AfterFunc(20*time.Millisecond, func() { order = append(order, 2) })

	c.Advance(25 * time.Millisecond)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order after 25ms = %v", order)
	}
	c.Advance(5 * time.Millisecond)
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("order after 30ms = %v", order)
	}
	if !c.Now().Equal(epoch.Add(30 * time.Millisecond)) {
		t.Errorf("Now = %v", c.Now())
	}
}

func TestManualClockFiresTimersScheduledByCallbacks(t *testing.T) {
	c := NewManualClock(epoch)
	fired := 0
	c.AfterFunc(10*time.Millisecond, func() {
		fired++
		c.AfterFunc(10*time.Millisecond, func() { fired++ })
	})
	c.Advance(20 * time.Millisecond)
	if fired != 2 {
		t.Errorf("fired = %d, want 2", fired)
	}
}

func TestManualTimerStop(t *testing.T) {
	c := NewManualClock(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Error("Stop on pending timer should report true")
	}
	if tm.Stop() {
		t.Error("second Stop should report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestKeyedRescheduleKeepsOnlyLatest(t *testing.T) {
	c := NewManualClock(epoch)
	k := NewKeyed(c)

	var got []string
	for _, v := range []string{"a", "b", "c"} {
		v := v
		k.Schedule("7", 100*time.Millisecond, func() { got = append(got, v) })
		c.Advance(30 * time.Millisecond)
	}
	if len(got) != 0 {
		t.Fatalf("fired early: %v", got)
	}
	c.Advance(100 * time.Millisecond)
	if len(got) != 1 || got[0] != "c" {
		t.Errorf("got %v, want [c]", got)
	}
	if k.Pending("7") {
		t.Error("key should not be pending after firing")
	}
}

func TestKeyedIndependentKeys(t *testing.T) {
	c := NewManualClock(epoch)
	k := NewKeyed(c)
	var n atomic.Int32
	k.Schedule("a", 10*time.Millisecond, func() { n.Add(1) })
	k.Schedule("b", 10*time.Millisecond, func() { n.Add(1) })
	if k.Len() != 2 {
		t.Fatalf("Len = %d", k.Len())
	}
	c.Advance(10 * time.Millisecond)
	if n.Load() != 2 {
		t.Errorf("fired %d, want 2", n.Load())
	}
}

func TestKeyedCancel(t *testing.T) {
	c := NewManualClock(epoch)
	k := NewKeyed(c)
	fired := false
	k.Schedule("7", time.Second, func() { fired = true })
	if !k.Cancel("7") {
		t.Error("Cancel should report a pending timer")
	}
	if k.Cancel("7") {
		t.Error("second Cancel should report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("cancelled timer fired")
	}
}

func TestKeyedStaleFireIsIgnored(t *testing.T) {
	k := NewKeyed(NewManualClock(epoch))
	fired := false
	k.Schedule("7", time.Second, func() {})
	// a fire carrying an outdated generation must not run
	k.fire("7", 0, func() { fired = true })
	if fired {
		t.Error("stale generation ran")
	}
	if !k.Pending("7") {
		t.Error("stale fire removed the live entry")
	}
}

func TestKeyedStopAll(t *testing.T) {
	c := NewManualClock(epoch)
	k := NewKeyed(c)
	fired := 0
	k.Schedule("a", time.Second, func() { fired++ })
	k.Schedule("b", time.Second, func() { fired++ })
	k.StopAll()
	c.Advance(time.Minute)
	if fired != 0 || k.Len() != 0 || c.Pending() != 0 {
		t.Errorf("fired=%d len=%d pending=%d", fired, k.Len(), c.Pending())
	}
}
