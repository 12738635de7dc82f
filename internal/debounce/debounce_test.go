package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CoalescesTriggers(t *testing.T) {
	clock := NewFakeClock()
	var fired atomic.Int32
	var coalesced atomic.Int32

	d := New(time.Second, func() { fired.Add(1) },
		WithClock(clock),
		WithOnCoalesce(func() { coalesced.Add(1) }),
	)

	for i := 0; i < 5; i++ {
		d.Trigger()
		clock.Advance(200 * time.Millisecond)
	}
	if fired.Load() != 0 {
		t.Fatalf("fired %d times before the window elapsed", fired.Load())
	}
	if clock.Pending() != 1 {
		t.Errorf("pending timers = %d, want 1", clock.Pending())
	}

	clock.Advance(time.Second)
	if fired.Load() != 1 {
		t.Errorf("fired = %d, want 1", fired.Load())
	}
	if coalesced.Load() != 4 {
		t.Errorf("coalesced = %d, want 4", coalesced.Load())
	}
	if d.Pending() {
		t.Error("debouncer still pending after firing")
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	clock := NewFakeClock()
	var fired atomic.Int32
	d := New(time.Second, func() { fired.Add(1) }, WithClock(clock))

	if d.Cancel() {
		t.Error("Cancel on idle debouncer reported pending")
	}

	d.Trigger()
	if !d.Cancel() {
		t.Error("Cancel did not report the pending timer")
	}
	clock.Advance(5 * time.Second)
	if fired.Load() != 0 {
		t.Errorf("cancelled timer fired %d times", fired.Load())
	}
}

// stubbornClock returns timers whose Stop always loses the race.
type stubbornClock struct {
	fns []func()
}

type stubbornTimer struct{}

func (stubbornTimer) Stop() bool { return false }

func (c *stubbornClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.fns = append(c.fns, f)
	return stubbornTimer{}
}

func TestDebouncer_StaleTimerIsNoop(t *testing.T) {
	clock := &stubbornClock{}
	var fired atomic.Int32
	d := New(time.Second, func() { fired.Add(1) }, WithClock(clock))

	d.Trigger()
	d.Trigger()

	// The first callback arrives late even though it was superseded.
	clock.fns[0]()
	if fired.Load() != 0 {
		t.Fatalf("superseded timer fired")
	}
	clock.fns[1]()
	if fired.Load() != 1 {
		t.Errorf("fired = %d, want 1", fired.Load())
	}

	d.Trigger()
	d.Cancel()
	clock.fns[2]()
	if fired.Load() != 1 {
		t.Errorf("cancelled timer fired, count = %d", fired.Load())
	}
}

func TestDebouncer_RetriggerFromFire(t *testing.T) {
	clock := NewFakeClock()
	var fired atomic.Int32
	var d *Debouncer
	d = New(time.Second, func() {
		if fired.Add(1) == 1 {
			d.Trigger()
		}
	}, WithClock(clock))

	d.Trigger()
	clock.Advance(3 * time.Second)
	if fired.Load() != 2 {
		t.Errorf("fired = %d, want 2", fired.Load())
	}
}

func TestNew_DefaultWindow(t *testing.T) {
	d := New(0, func() {})
	if d.Window() != DefaultWindow {
		t.Errorf("Window = %v, want %v", d.Window(), DefaultWindow)
	}
}

func TestDebouncer_RealClock(t *testing.T) {
	done := make(chan struct{})
	d := New(10*time.Millisecond, func() { close(done) })
	d.Trigger()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("real clock timer never fired")
	}
}
