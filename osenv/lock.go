package osenv

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-cpuinherit/threads"
)

type (
	// Lock is a reference counted mutex, for threads. It implements
	// sync.Locker, for the calling thread.
	//
	// A critical lock disables interrupts, from Lock, until the matching
	// Unlock. Critical locks must be released in the reverse order they
	// were acquired.
	Lock struct {
		mgr      *LockManager
		mu       threads.Mutex
		refs     refCount
		critical bool
		// saved interrupt state, guarded by mu
		saved bool
	}

	// Condvar is a reference counted condition variable, used with a Lock.
	Condvar struct {
		mgr  *LockManager
		c    threads.Cond
		refs refCount
	}
)

// Critical returns true if the lock disables interrupts.
func (x *Lock) Critical() bool { return x.critical }

// Lock acquires the lock, blocking the calling thread until it is
// available.
func (x *Lock) Lock() {
	if !x.check(`lock`) {
		return
	}
	self := x.mgr.self(`lock`)
	if self == nil {
		return
	}
	var prev bool
	if x.critical {
		prev = x.mgr.rt.DisableInterrupts()
	}
	x.mu.Lock(self)
	x.saved = prev
}

// TryLock acquires the lock if it is available, without blocking.
func (x *Lock) TryLock() bool {
	if !x.check(`trylock`) {
		return false
	}
	self := x.mgr.self(`trylock`)
	if self == nil {
		return false
	}
	var prev bool
	if x.critical {
		prev = x.mgr.rt.DisableInterrupts()
	}
	if !x.mu.TryLock(self) {
		if x.critical {
			x.mgr.rt.RestoreInterrupts(prev)
		}
		return false
	}
	x.saved = prev
	return true
}

// Unlock releases the lock, which must be held by the calling thread.
func (x *Lock) Unlock() {
	if !x.check(`unlock`) {
		return
	}
	self := x.mgr.self(`unlock`)
	if self == nil {
		return
	}
	prev := x.saved
	x.mu.Unlock(self)
	if x.critical {
		x.mgr.rt.RestoreInterrupts(prev)
	}
}

// AddRef increments the reference count.
func (x *Lock) AddRef() {
	if !x.refs.acquire() {
		x.mgr.report(fmt.Errorf(`%w: lock addref`, ErrFreed))
	}
}

// Release decrements the reference count, freeing the lock once it reaches
// zero. Releasing a freed lock is fatal.
func (x *Lock) Release() {
	freed, ok := x.refs.release()
	switch {
	case !ok:
		x.mgr.report(fmt.Errorf(`%w: lock`, ErrOverRelease))
	case freed:
		x.mgr.freeLock(x)
	}
}

func (x *Lock) check(op string) bool {
	if x.refs.live() {
		return true
	}
	x.mgr.report(fmt.Errorf(`%w: lock %s`, ErrFreed, op))
	return false
}

// Wait atomically releases l, which must be held by the calling thread,
// waits to be signaled, then re-acquires l. It returns threads.ErrCanceled
// if the thread was canceled.
func (x *Condvar) Wait(l *Lock) error {
	return x.TimedWait(l, 0)
}

// TimedWait is Wait, returning threads.ErrTimedOut if not signaled within
// the timeout (if positive).
func (x *Condvar) TimedWait(l *Lock, timeout time.Duration) error {
	if !x.check(`wait`) || !l.check(`wait`) {
		return ErrFreed
	}
	self := x.mgr.self(`wait`)
	if self == nil {
		return ErrNotThread
	}
	prev := l.saved
	err := x.c.TimedWait(self, &l.mu, timeout)
	l.saved = prev
	return err
}

// Signal wakes one waiting thread. It may be called from any context.
func (x *Condvar) Signal() {
	if x.check(`signal`) {
		x.c.Signal()
	}
}

// Broadcast wakes every waiting thread. It may be called from any context.
func (x *Condvar) Broadcast() {
	if x.check(`broadcast`) {
		x.c.Broadcast()
	}
}

// AddRef increments the reference count.
func (x *Condvar) AddRef() {
	if !x.refs.acquire() {
		x.mgr.report(fmt.Errorf(`%w: condvar addref`, ErrFreed))
	}
}

// Release decrements the reference count, freeing the condition variable
// once it reaches zero. Releasing a freed condition variable is fatal.
func (x *Condvar) Release() {
	freed, ok := x.refs.release()
	switch {
	case !ok:
		x.mgr.report(fmt.Errorf(`%w: condvar`, ErrOverRelease))
	case freed:
		x.mgr.freeCondvar(x)
	}
}

func (x *Condvar) check(op string) bool {
	if x.refs.live() {
		return true
	}
	x.mgr.report(fmt.Errorf(`%w: condvar %s`, ErrFreed, op))
	return false
}
