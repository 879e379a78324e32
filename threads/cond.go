package threads

import (
	"sync"
	"time"
)

type (
	// Cond is a condition variable, for threads, used with a Mutex. Waiting
	// is a cancellation point. Spurious wakeups are possible, so callers
	// should re-check their condition in a loop. The zero value is ready to
	// use.
	Cond struct {
		mu      sync.Mutex
		waiters []*condWaiter
	}

	condWaiter struct {
		t        *Thread
		signaled bool
	}
)

// Wait atomically releases m, which the caller must hold, and sleeps until
// signaled, then re-acquires m, even on error. Thread context.
func (x *Cond) Wait(self *Thread, m *Mutex) error {
	return x.TimedWait(self, m, 0)
}

// TimedWait is Wait, returning ErrTimedOut if it is not signaled within the
// timeout (if positive). A waiter that is canceled after being signaled
// passes the signal on. Thread context.
func (x *Cond) TimedWait(self *Thread, m *Mutex, timeout time.Duration) error {
	self.mustBeCurrent()
	rt := self.rt

	prev := rt.intr.Disable()

	w := &condWaiter{t: self}
	x.mu.Lock()
	x.waiters = append(x.waiters, w)
	x.mu.Unlock()

	m.unlock(self)

	var err error
	self.waitLock.Lock()
	x.mu.Lock()
	signaled := w.signaled
	x.mu.Unlock()
	switch {
	case signaled:
		self.waitLock.Unlock()
	case self.canceled:
		self.waitLock.Unlock()
		err = ErrCanceled
	default:
		if rt.sleepWithFlags(self, WaitCondvar, timeout) {
			err = ErrTimedOut
		}
		if self.testCancel() != nil {
			err = ErrCanceled
		}
	}

	var pass bool
	x.mu.Lock()
	if w.signaled {
		switch err {
		case ErrTimedOut:
			err = nil
		case ErrCanceled:
			// the signal goes to the next waiter
			pass = true
		}
	} else {
		x.remove(w)
	}
	x.mu.Unlock()

	if pass {
		x.Signal()
	}

	rt.intr.Restore(prev)

	m.Lock(self)

	return err
}

func (x *Cond) remove(w *condWaiter) {
	for i, v := range x.waiters {
		if v == w {
			copy(x.waiters[i:], x.waiters[i+1:])
			x.waiters[len(x.waiters)-1] = nil
			x.waiters = x.waiters[:len(x.waiters)-1]
			return
		}
	}
}

// Signal wakes the longest waiting thread, if any. It may be called from any
// context.
func (x *Cond) Signal() {
	x.mu.Lock()
	if len(x.waiters) == 0 {
		x.mu.Unlock()
		return
	}
	w := x.waiters[0]
	x.waiters[0] = nil
	x.waiters = x.waiters[1:]
	w.signaled = true
	x.mu.Unlock()
	w.t.rt.wakeupFlagged(w.t, WaitCondvar)
}

// Broadcast wakes all waiting threads. It may be called from any context.
func (x *Cond) Broadcast() {
	x.mu.Lock()
	waiters := x.waiters
	x.waiters = nil
	for _, w := range waiters {
		w.signaled = true
	}
	x.mu.Unlock()
	for _, w := range waiters {
		w.t.rt.wakeupFlagged(w.t, WaitCondvar)
	}
}
