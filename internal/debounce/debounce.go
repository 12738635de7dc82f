// Package debounce coalesces rapid triggers into a single deferred call.
//
// A Debouncer holds at most one outstanding timer. Every Trigger supersedes
// the previous one, so fire runs once per quiet window and reads whatever
// state is current at that moment.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the quiescence window used when none is configured.
const DefaultWindow = time.Second

// Timer is the subset of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The real clock uses time.AfterFunc.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock replaces the wall clock, typically with a FakeClock in tests.
func WithClock(c Clock) Option {
	return func(d *Debouncer) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithOnCoalesce registers a hook called when a Trigger replaces a pending timer.
func WithOnCoalesce(fn func()) Option {
	return func(d *Debouncer) {
		d.onCoalesce = fn
	}
}

// Debouncer runs fire after window has passed without another Trigger.
type Debouncer struct {
	window     time.Duration
	fire       func()
	clock      Clock
	onCoalesce func()

	mu    sync.Mutex
	timer Timer
	gen   uint64
}

// New creates a Debouncer. A non-positive window falls back to DefaultWindow.
func New(window time.Duration, fire func(), opts ...Option) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	d := &Debouncer{
		window: window,
		fire:   fire,
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the configured quiescence window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

// Trigger cancels any pending timer and schedules a new one.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	coalesced := d.stopLocked()
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.window, func() { d.run(gen) })
	d.mu.Unlock()

	if coalesced && d.onCoalesce != nil {
		d.onCoalesce()
	}
}

// Cancel stops the pending timer. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	pending := d.stopLocked()
	// Bump the generation so a timer already past Stop becomes a no-op.
	d.gen++
	return pending
}

// Pending reports whether a timer is outstanding.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) stopLocked() bool {
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	return true
}

func (d *Debouncer) run(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.fire()
}
