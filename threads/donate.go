package threads

import (
	"time"

	"github.com/joeycumines/go-cpuinherit/schedmsg"
)

// DonateWaitRecv donates the calling thread's CPU to the thread identified
// by to, then waits until control returns, per cond. The timeout, if
// positive, bounds the donation, resulting in StatusTimedOut.
//
// The caller is typically a scheduler, in which case, if a message was
// queued for it by the time it resumes, it is received, and the status
// includes StatusMessageReceived. If the recipient is not ready to run, it
// returns StatusNotReady immediately.
//
// While donating, the caller lends its place in the donation chain to the
// recipient, which may in turn donate further. Thread context.
func (x *Thread) DonateWaitRecv(to ThreadID, cond WakeupCondition, timeout time.Duration) (Status, schedmsg.Message, error) {
	x.mustBeCurrent()
	if !cond.Valid() {
		return 0, schedmsg.Message{}, ErrInvalidCondition
	}
	rt := x.rt
	r := rt.Lookup(to)
	if r == nil {
		return 0, schedmsg.Message{}, ErrNoSuchThread
	}

	rt.checkpoint(x)

	prev := rt.intr.Disable()
	defer rt.intr.Restore(prev)

	x.waitLock.Lock()
	if x.canceled {
		x.waitLock.Unlock()
		return 0, schedmsg.Message{}, ErrCanceled
	}
	status := rt.donateLocked(x, r, cond, timeout)
	if status == StatusNotReady {
		x.waitLock.Unlock()
		return x.donateResult(status)
	}

	x.waitLock.Lock()
	canceled := x.canceled
	x.waitLock.Unlock()
	if canceled {
		return status, schedmsg.Message{}, ErrCanceled
	}
	return x.donateResult(status)
}

// donateLocked donates the CPU from t, which must hold it, and its
// wait-lock, with interrupts disabled, to r, returning t's status once it
// regains the CPU. The wait-lock is released, unless r is not ready, in
// which case it returns StatusNotReady, without donating.
func (x *Runtime) donateLocked(t, r *Thread, cond WakeupCondition, timeout time.Duration) Status {
	x.cpu.mu.Lock()
	if r.run != runReady {
		x.cpu.mu.Unlock()
		return StatusNotReady
	}
	if x.cpu.current != t {
		x.cpu.mu.Unlock()
		t.waitLock.Unlock()
		panic(`threads: donate: caller does not hold the cpu`)
	}
	t.donee = r
	r.donor = t
	t.cond = cond
	t.status = 0
	t.run = runDonating
	r.run = runRunning
	x.cpu.current = r
	x.cpu.mu.Unlock()

	t.wait.to(WaitDonating)
	if timeout > 0 {
		t.donateTimer.Set(timeout)
	}
	t.waitLock.Unlock()

	x.logger.Trace().
		Uint64(`tid`, uint64(t.id)).
		Uint64(`to`, uint64(r.id)).
		Stringer(`cond`, cond).
		Limit().
		Log(`threads: donating`)

	x.switchTo(t, r)

	t.donateTimer.Stop()
	t.waitLock.Lock()
	t.wait.to(WaitIdle)
	t.waitLock.Unlock()

	x.cpu.mu.Lock()
	defer x.cpu.mu.Unlock()
	return t.status
}

func (x *Thread) donateResult(status Status) (Status, schedmsg.Message, error) {
	if x.queue != nil {
		if msg, ok := x.queue.TryDequeue(); ok {
			return status | StatusMessageReceived, msg, nil
		}
	}
	return status, schedmsg.Message{}, nil
}

// donateTimerExpired runs in interrupt context.
func (x *Runtime) donateTimerExpired(t *Thread) {
	x.cpu.mu.Lock()
	defer x.cpu.mu.Unlock()
	x.requestPreemptLocked(t, StatusTimedOut)
}
