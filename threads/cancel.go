package threads

// Cancel requests cancellation of the thread identified by tid. Cancellation
// is sticky, and is observed at cancellation points (Sleep, Recv, Join,
// DonateWaitRecv, Cond waits, and TestCancel), which return ErrCanceled.
//
// A thread that is blocked at a cancellation point is made runnable, and a
// donating thread is preempted, to regain the CPU as soon as possible. It
// may be called from any context.
func (x *Runtime) Cancel(tid ThreadID) error {
	t := x.Lookup(tid)
	if t == nil {
		return ErrNoSuchThread
	}

	prev := x.intr.Disable()
	defer x.intr.Restore(prev)

	t.waitLock.Lock()
	if t.exited {
		t.waitLock.Unlock()
		return nil
	}
	t.canceled = true
	kind := t.wait.kind

	x.logger.Debug().
		Uint64(`tid`, uint64(t.id)).
		Stringer(`wait`, kind).
		Log(`threads: cancel`)

	switch {
	case kind == WaitReceiving:
		t.wait.to(WaitIdle)
		t.waitLock.Unlock()
		x.setRunnable(t)

	case kind == WaitSleeping && t.wait.flags&WaitMutex == 0:
		x.wakeupLocked(t)

	case kind == WaitDonating:
		t.waitLock.Unlock()
		x.cpu.mu.Lock()
		x.requestPreemptLocked(t, StatusPreempted)
		x.cpu.mu.Unlock()

	default:
		t.waitLock.Unlock()
	}

	return nil
}

// TestCancel returns ErrCanceled if the calling thread has been canceled.
// Thread context.
func (x *Thread) TestCancel() error {
	x.mustBeCurrent()
	x.rt.checkpoint(x)
	return x.testCancel()
}

func (x *Thread) testCancel() error {
	if x.Canceled() {
		return ErrCanceled
	}
	return nil
}

// Canceled returns true if cancellation has been requested.
func (x *Thread) Canceled() bool {
	prev := x.lockWait()
	defer x.unlockWait(prev)
	return x.canceled
}
