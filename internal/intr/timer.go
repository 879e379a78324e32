package intr

import (
	"time"
)

// Timer is a one-shot timer, whose handler runs in interrupt context.
//
// Every Set or Stop begins a new generation, and an expiry is only delivered
// if it belongs to the current generation, and the timer is still armed.
// Both are checked with interrupts disabled, which means a disarmed timer
// cannot fire, even if its expiry was already collected by the dispatcher.
type Timer struct {
	c       *Controller
	handler func()
	gen     uint64 // guarded by the mask
	armed   bool   // guarded by the mask
}

// NewTimer initializes a disarmed timer.
func (x *Controller) NewTimer(handler func()) *Timer {
	if handler == nil {
		panic(`intr: new timer: nil handler`)
	}
	return &Timer{c: x, handler: handler}
}

// Set arms the timer to fire after d, replacing any previous deadline.
func (x *Timer) Set(d time.Duration) {
	prev := x.c.Disable()
	defer x.c.Restore(prev)
	x.gen++
	x.armed = true
	x.c.push(timerEntry{when: time.Now().Add(d), timer: x, gen: x.gen})
}

// Stop disarms the timer, returning true if it was armed.
func (x *Timer) Stop() bool {
	prev := x.c.Disable()
	defer x.c.Restore(prev)
	armed := x.armed
	x.armed = false
	x.gen++
	return armed
}

// Armed returns true if the timer is set, and has not yet fired.
func (x *Timer) Armed() bool {
	prev := x.c.Disable()
	defer x.c.Restore(prev)
	return x.armed
}

// fire is called by the dispatcher, with interrupts disabled. Stale entries
// are discarded when they come due.
func (x *Timer) fire(gen uint64) {
	if gen != x.gen || !x.armed {
		return
	}
	x.armed = false
	x.handler()
}
