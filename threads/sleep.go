package threads

import (
	"time"
)

// Sleep blocks the calling thread until it is woken by Wakeup, the timeout
// expires (if positive), or it is canceled, returning nil, ErrTimedOut, or
// ErrCanceled, respectively. A timeout <= 0 sleeps indefinitely.
//
// It must not be called by the root thread, which schedules the others, or
// with interrupts disabled. Thread context.
func (x *Thread) Sleep(timeout time.Duration) error {
	x.mustBeCurrent()
	if x.isRoot() {
		panic(`threads: sleep: called by the root thread`)
	}
	if x.rt.intr.Disabled() {
		panic(`threads: sleep: called with interrupts disabled`)
	}
	return x.SleepWithFlags(0, timeout, nil)
}

// SleepWithFlags is Sleep, for layered synchronization primitives, which
// records flags in the wait state, while sleeping. If done is non-nil, it
// is called after the wait-lock is acquired, and the sleep is skipped if it
// returns true, which allows a waker to publish its condition, then call
// Wakeup, without the wakeup being lost. Thread context.
func (x *Thread) SleepWithFlags(flags WaitFlags, timeout time.Duration, done func() bool) error {
	x.mustBeCurrent()
	rt := x.rt
	rt.checkpoint(x)

	prev := rt.intr.Disable()
	defer rt.intr.Restore(prev)

	x.waitLock.Lock()
	if x.canceled && flags&WaitMutex == 0 {
		x.waitLock.Unlock()
		return ErrCanceled
	}
	if done != nil && done() {
		x.waitLock.Unlock()
		return nil
	}
	timedOut := rt.sleepWithFlags(x, flags, timeout)

	if flags&WaitMutex == 0 {
		if err := x.testCancel(); err != nil {
			return err
		}
	}
	if timedOut {
		return ErrTimedOut
	}
	return nil
}

// sleepWithFlags blocks t, which must hold its wait-lock, with interrupts
// disabled. The wait-lock is released. Any of Wakeup, the timer, or
// cancellation will wake it, with the wait state cleared, or (only) for the
// timer, set to WaitTimedOut.
func (x *Runtime) sleepWithFlags(t *Thread, flags WaitFlags, timeout time.Duration) (timedOut bool) {
	if timeout > 0 {
		t.sleepTimer.Set(timeout)
	}
	t.wait.sleep(flags, timeout > 0)

	x.reschedule(t, &t.waitLock)

	t.waitLock.Lock()
	switch t.wait.kind {
	case WaitTimedOut:
		timedOut = true
		t.wait.to(WaitIdle)
	case WaitIdle:
	default:
		t.waitLock.Unlock()
		panic(`threads: sleep: resumed while ` + t.wait.kind.String())
	}
	if !t.wait.zero() {
		t.waitLock.Unlock()
		panic(`threads: sleep: wait state not cleared`)
	}
	t.waitLock.Unlock()
	return
}

// Wakeup wakes the thread identified by tid, if it is sleeping, returning
// true if it was. It has no effect otherwise, including if called multiple
// times. It may be called from any context.
func (x *Runtime) Wakeup(tid ThreadID) bool {
	t := x.Lookup(tid)
	if t == nil {
		return false
	}
	return x.wakeupFlagged(t, 0)
}

// wakeupFlagged wakes t if it is sleeping, with all the given flags.
func (x *Runtime) wakeupFlagged(t *Thread, flags WaitFlags) bool {
	prev := x.intr.Disable()
	defer x.intr.Restore(prev)
	t.waitLock.Lock()
	if t.wait.kind != WaitSleeping || t.wait.flags&flags != flags {
		t.waitLock.Unlock()
		x.logger.Trace().
			Uint64(`tid`, uint64(t.id)).
			Stringer(`wait`, t.wait.kind).
			Limit().
			Log(`threads: wakeup: not sleeping`)
		return false
	}
	x.wakeupLocked(t)
	return true
}

// wakeupLocked wakes t, a sleeping thread whose wait-lock is held, with
// interrupts disabled. The wait-lock is released.
func (x *Runtime) wakeupLocked(t *Thread) {
	if t.wait.timerArmed {
		t.sleepTimer.Stop()
	}
	t.wait.to(WaitIdle)
	t.waitLock.Unlock()
	x.setRunnable(t)
}

// sleepTimerExpired runs in interrupt context.
func (x *Runtime) sleepTimerExpired(t *Thread) {
	t.waitLock.Lock()
	if t.wait.kind != WaitSleeping {
		t.waitLock.Unlock()
		return
	}
	t.wait.to(WaitTimedOut)
	t.waitLock.Unlock()
	x.setRunnable(t)
}
