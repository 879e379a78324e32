package threads

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-cpuinherit/schedmsg"
)

type (
	runState uint8

	// processor is the single virtual CPU. Exactly one thread holds it at a
	// time (current), unless it is idle. Donation links form a chain, from
	// the root, through each donating thread, to current.
	processor struct {
		mu      sync.Mutex
		current *Thread
		// preempt is a donating thread that the CPU must be returned to, at
		// the next safe point of the running thread
		preempt *Thread
		pending atomic.Bool // preempt != nil
	}
)

const (
	runReady runState = iota
	runRunning
	runDonating
	runBlocked
	runExited
)

func (x runState) String() string {
	switch x {
	case runReady:
		return `ready`
	case runRunning:
		return `running`
	case runDonating:
		return `donating`
	case runBlocked:
		return `blocked`
	case runExited:
		return `exited`
	default:
		return `unknown`
	}
}

func (x *processor) setPreempt(t *Thread) {
	x.preempt = t
	x.pending.Store(t != nil)
}

// resumeLocked gives the CPU to t, which was donating, or idle.
func (x *Runtime) resumeLocked(t *Thread) {
	t.run = runRunning
	x.cpu.current = t
	if x.cpu.preempt == t {
		x.cpu.setPreempt(nil)
	}
}

func unlink(donor, recipient *Thread) {
	donor.donee = nil
	recipient.donor = nil
}

// blockLocked removes t from the CPU, as it is blocking or exiting, and
// returns the donor that regains the CPU, if any.
func (x *Runtime) blockLocked(t *Thread, exiting bool) (next *Thread) {
	if x.cpu.current != t {
		panic(`threads: cpu released by a thread that does not hold it`)
	}
	if exiting {
		t.run = runExited
	} else {
		t.run = runBlocked
	}
	d := t.donor
	if d == nil {
		x.cpu.current = nil
		x.cpu.setPreempt(nil)
		return nil
	}
	unlink(d, t)
	d.status = StatusBlocked
	x.resumeLocked(d)
	return d
}

// reschedule blocks t, which must hold the CPU, with interrupts disabled.
// The lock is released as the last step before the switch. The CPU goes to
// t's donor, or becomes idle. It returns once t has been made runnable, and
// been given the CPU again.
func (x *Runtime) reschedule(t *Thread, lock sync.Locker) {
	x.cpu.mu.Lock()
	next := x.blockLocked(t, false)
	x.cpu.mu.Unlock()
	lock.Unlock()
	x.switchTo(t, next)
}

// switchTo hands the CPU to next (if any), then parks t until it is handed
// the CPU again. The interrupt state of t is saved and restored around the
// switch. If the runtime is torn down while t is parked, t is terminated,
// with its interrupt state abandoned, so its deferred restores are no-ops.
func (x *Runtime) switchTo(t, next *Thread) {
	depth := x.intr.Suspend()
	if next != nil {
		x.handoff(next)
	}
	if !x.park(t) {
		x.intr.Abandon()
		runtime.Goexit()
	}
	x.intr.Resume(depth)
}

// setRunnable makes a blocked thread runnable, which must have had its wait
// state cleared. Governed threads are announced to their scheduler, by an
// UNBLOCK message, and the root is given the (necessarily idle) CPU.
// Interrupts must be disabled. It returns true if a preemption has been
// requested.
func (x *Runtime) setRunnable(t *Thread) bool {
	x.cpu.mu.Lock()
	if t.run != runBlocked {
		x.cpu.mu.Unlock()
		panic(`threads: set runnable: thread is not blocked: ` + t.run.String())
	}
	if t.isRoot() {
		if x.cpu.current != nil {
			x.cpu.mu.Unlock()
			panic(`threads: set runnable: root blocked while the cpu is busy`)
		}
		x.resumeLocked(t)
		x.cpu.mu.Unlock()
		x.handoff(t)
		return false
	}
	t.run = runReady
	x.cpu.mu.Unlock()
	return x.sendMessage(t.sched, schedmsg.Message{Kind: schedmsg.KindUnblock, Target: t.id})
}

func isAncestor(a, b *Thread) bool {
	for d := b.donor; d != nil; d = d.donor {
		if d == a {
			return true
		}
	}
	return false
}

// requestPreemptLocked asks for the CPU to be returned to p, which must be
// donating, with the given status. The outermost pending request wins.
func (x *Runtime) requestPreemptLocked(p *Thread, status Status) bool {
	if p.run != runDonating {
		return false
	}
	if q := x.cpu.preempt; q != nil && (q == p || isAncestor(q, p)) {
		return true
	}
	p.preemptStatus = status
	x.cpu.setPreempt(p)
	x.logger.Trace().
		Uint64(`tid`, uint64(p.id)).
		Stringer(`status`, status).
		Limit().
		Log(`threads: preemption requested`)
	return true
}

// messageArrived is called after a message has been queued for s, which
// was not receiving.
func (x *Runtime) messageArrived(s *Thread) bool {
	x.cpu.mu.Lock()
	defer x.cpu.mu.Unlock()
	if s.run != runDonating || s.cond != WakeupAlways {
		return false
	}
	return x.requestPreemptLocked(s, StatusPreempted)
}

// unwindLocked returns the CPU from t, the running thread, to p, an
// ancestor. Every thread in between becomes ready, and each intermediate
// donor records StatusPreempted. Threads whose donor was not their
// scheduler are returned, to be announced by UNBLOCK.
func (x *Runtime) unwindLocked(t, p *Thread) (notify []*Thread) {
	for c := t; c != p; {
		d := c.donor
		unlink(d, c)
		c.run = runReady
		if c != t {
			c.status = StatusPreempted
		}
		if d != c.sched {
			notify = append(notify, c)
		}
		c = d
	}
	p.status = p.preemptStatus
	x.resumeLocked(p)
	return
}

func (x *Runtime) notifySchedulers(ts []*Thread) {
	for _, t := range ts {
		x.sendMessage(t.sched, schedmsg.Message{Kind: schedmsg.KindUnblock, Target: t.id})
	}
}

// checkpoint is a safe point, where pending preemptions are applied. They
// are deferred while interrupts are disabled.
func (x *Runtime) checkpoint(t *Thread) {
	if !x.cpu.pending.Load() || x.intr.Disabled() {
		return
	}
	prev := x.intr.Disable()
	defer x.intr.Restore(prev)
	x.preemptLocked(t)
}

// preemptLocked applies any pending preemption, interrupts must be
// disabled. Returns true if t was preempted (and has since resumed).
func (x *Runtime) preemptLocked(t *Thread) bool {
	x.cpu.mu.Lock()
	p := x.cpu.preempt
	if p == nil {
		x.cpu.mu.Unlock()
		return false
	}
	if x.cpu.current != t || !isAncestor(p, t) {
		// stale
		x.cpu.setPreempt(nil)
		x.cpu.mu.Unlock()
		return false
	}
	notify := x.unwindLocked(t, p)
	x.cpu.mu.Unlock()
	x.notifySchedulers(notify)
	x.switchTo(t, p)
	return true
}

// Checkpoint is a safe point, allowing any pending preemption to take
// effect. Long running threads should call it periodically. Thread context.
func (x *Thread) Checkpoint() {
	x.mustBeCurrent()
	x.rt.checkpoint(x)
}

// Yield returns the CPU to the donor, if it donated with a condition other
// than WakeupOnBlock. The donor resumes with StatusYielded. Otherwise, it
// is a safe point, and a no-op. Thread context.
func (x *Thread) Yield() {
	x.mustBeCurrent()
	rt := x.rt
	prev := rt.intr.Disable()
	defer rt.intr.Restore(prev)

	if prev && rt.cpu.pending.Load() && rt.preemptLocked(x) {
		return
	}

	rt.cpu.mu.Lock()
	d := x.donor
	if d == nil || d.cond == WakeupOnBlock {
		rt.cpu.mu.Unlock()
		return
	}
	unlink(d, x)
	x.run = runReady
	d.status = StatusYielded
	rt.resumeLocked(d)
	notify := d != x.sched
	rt.cpu.mu.Unlock()

	if notify {
		rt.notifySchedulers([]*Thread{x})
	}
	rt.switchTo(x, d)
}

// Preempt models a clock tick: the donor of the running thread is asked to
// regain the CPU, at the running thread's next safe point, with
// StatusPreempted. It has no effect if the donor requested WakeupOnBlock,
// or the running thread has no donor. It may be called from any context.
func (x *Runtime) Preempt() bool {
	prev := x.intr.Disable()
	defer x.intr.Restore(prev)
	x.cpu.mu.Lock()
	defer x.cpu.mu.Unlock()
	cur := x.cpu.current
	if cur == nil || cur.donor == nil || cur.donor.cond == WakeupOnBlock {
		return false
	}
	return x.requestPreemptLocked(cur.donor, StatusPreempted)
}
