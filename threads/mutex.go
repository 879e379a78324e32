package threads

import (
	"sync"
)

type (
	// Mutex is a mutual exclusion lock between threads. It is not a
	// cancellation point. Ownership is handed directly to waiters, in FIFO
	// order. The zero value is an unlocked mutex.
	//
	// A waiter donates its CPU to the owner, while the owner is ready to
	// run, so the owner inherits the waiter's scheduling, until it releases
	// the mutex, or blocks. Otherwise, the waiter sleeps.
	Mutex struct {
		mu      sync.Mutex
		owner   *Thread
		waiters []*mutexWaiter
	}

	mutexWaiter struct {
		t       *Thread
		granted bool
	}
)

// Lock acquires the mutex, blocking until it is available. Locking a mutex
// the caller already holds is fatal. Thread context.
func (x *Mutex) Lock(self *Thread) {
	self.mustBeCurrent()
	rt := self.rt
	rt.checkpoint(self)

	prev := rt.intr.Disable()
	defer rt.intr.Restore(prev)

	x.mu.Lock()
	switch x.owner {
	case nil:
		x.owner = self
		x.mu.Unlock()
		return
	case self:
		x.mu.Unlock()
		panic(`threads: mutex: recursive lock`)
	}
	w := &mutexWaiter{t: self}
	x.waiters = append(x.waiters, w)
	x.mu.Unlock()

	for {
		self.waitLock.Lock()
		x.mu.Lock()
		granted, owner := w.granted, x.owner
		x.mu.Unlock()
		if granted {
			self.waitLock.Unlock()
			return
		}
		if rt.donateLocked(self, owner, WakeupOnBlock, 0) != StatusNotReady {
			continue
		}
		rt.sleepWithFlags(self, WaitMutex, 0)
	}
}

// TryLock acquires the mutex if it is available, without blocking.
// Thread context.
func (x *Mutex) TryLock(self *Thread) bool {
	self.mustBeCurrent()
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.owner != nil {
		return false
	}
	x.owner = self
	return true
}

// Unlock releases the mutex, which must be held by the caller, handing it
// to the longest waiting thread, if any. Thread context.
func (x *Mutex) Unlock(self *Thread) {
	self.mustBeCurrent()
	x.unlock(self)
	self.rt.checkpoint(self)
}

func (x *Mutex) unlock(self *Thread) {
	x.mu.Lock()
	if x.owner != self {
		x.mu.Unlock()
		panic(`threads: mutex: unlock by non-owner`)
	}
	if len(x.waiters) == 0 {
		x.owner = nil
		x.mu.Unlock()
		return
	}
	w := x.waiters[0]
	x.waiters[0] = nil
	x.waiters = x.waiters[1:]
	w.granted = true
	x.owner = w.t
	x.mu.Unlock()
	rt := self.rt
	if !rt.wakeupFlagged(w.t, WaitMutex) {
		// the new owner may be donating to self
		prev := rt.intr.Disable()
		rt.cpu.mu.Lock()
		if isAncestor(w.t, self) {
			rt.requestPreemptLocked(w.t, StatusPreempted)
		}
		rt.cpu.mu.Unlock()
		rt.intr.Restore(prev)
	}
}

// Owner returns the thread holding the mutex, or nil.
func (x *Mutex) Owner() *Thread {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.owner
}
