package threads

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-cpuinherit/internal/intr"
	"github.com/joeycumines/go-cpuinherit/schedmsg"
)

type (
	// Thread is a thread of control, backed by a goroutine, which only runs
	// while it holds the runtime's CPU.
	//
	// Methods documented as thread context must be called by the thread
	// itself (the goroutine running its function), and panic otherwise.
	Thread struct {
		// betteralign:ignore

		rt    *Runtime
		fn    func(self *Thread)
		sched *Thread // governing scheduler, nil for the root
		id    ThreadID
		attr  Attr
		gid   atomic.Uint64
		token chan struct{} // run token, cap 1
		done  chan struct{} // closed on exit

		sleepTimer  *intr.Timer
		donateTimer *intr.Timer

		// guarded by waitLock, which is only held with interrupts disabled
		waitLock sync.Mutex
		wait     waitState
		queue    *schedmsg.Queue
		joiner   *Thread
		canceled bool
		exited   bool
		detached bool

		// guarded by the processor lock
		run           runState
		donor         *Thread // thread donating to this one
		donee         *Thread // thread this one is donating to
		cond          WakeupCondition
		status        Status
		preemptStatus Status
	}
)

// ID returns the thread's identifier, which is never 0.
func (x *Thread) ID() ThreadID { return x.id }

// Name returns the name from the thread's attributes.
func (x *Thread) Name() string { return x.attr.name }

// Attr returns a copy of the attributes the thread was created with.
func (x *Thread) Attr() *Attr {
	a := x.attr
	return &a
}

// Runtime returns the runtime the thread belongs to.
func (x *Thread) Runtime() *Runtime { return x.rt }

// Scheduler returns the governing scheduler's ID, or 0 for the root.
func (x *Thread) Scheduler() ThreadID {
	if x.sched == nil {
		return 0
	}
	return x.sched.id
}

// Done is closed when the thread exits.
func (x *Thread) Done() <-chan struct{} { return x.done }

func (x *Thread) String() string {
	if x.attr.name != `` {
		return x.attr.name
	}
	return `thread`
}

func (x *Thread) isRoot() bool { return x.sched == nil }

func (x *Thread) mustBeCurrent() {
	if x.gid.Load() != intr.GoroutineID() {
		panic(`threads: must be called by the thread itself`)
	}
}

func (x *Thread) lockWait() (prev bool) {
	prev = x.rt.intr.Disable()
	x.waitLock.Lock()
	return prev
}

func (x *Thread) unlockWait(prev bool) {
	x.waitLock.Unlock()
	x.rt.intr.Restore(prev)
}

// IsScheduler returns true if the thread has called BecomeScheduler.
func (x *Thread) IsScheduler() bool {
	prev := x.lockWait()
	defer x.unlockWait(prev)
	return x.queue != nil
}

// Waiting returns a snapshot of the thread's wait state.
func (x *Thread) Waiting() (state WaitState, flags WaitFlags, timerArmed bool) {
	prev := x.lockWait()
	defer x.unlockWait(prev)
	return x.wait.kind, x.wait.flags, x.wait.timerArmed
}

// Create starts a new thread, which will first run when its scheduler
// donates to it. The scheduler is notified by a KindNewThread message.
// A nil attr uses the defaults. Thread context.
func (x *Thread) Create(attr *Attr, fn func(self *Thread)) (*Thread, error) {
	x.mustBeCurrent()
	if fn == nil {
		panic(`threads: create: nil func`)
	}
	rt := x.rt

	a := defaultAttr()
	if attr != nil {
		attr.check()
		a = *attr
	}

	sched, err := rt.resolveScheduler(x, a.scheduler)
	if err != nil {
		return nil, err
	}

	child := rt.newThread(sched, a, fn)
	child.detached = a.detached
	rt.register(child)
	rt.start(child)

	prev := rt.intr.Disable()
	rt.sendMessage(sched, schedmsg.Message{
		Kind:    schedmsg.KindNewThread,
		Target:  child.id,
		Opaque:  a.opaque,
		Opaque2: uint64(a.priority),
	})
	rt.intr.Restore(prev)

	rt.logger.Debug().
		Uint64(`tid`, uint64(child.id)).
		Uint64(`sched`, uint64(sched.id)).
		Str(`name`, a.name).
		Log(`threads: created`)

	rt.checkpoint(x)

	return child, nil
}

func (x *Runtime) resolveScheduler(creator *Thread, tid ThreadID) (*Thread, error) {
	if tid != 0 {
		s := x.Lookup(tid)
		if s == nil {
			return nil, ErrNoSuchThread
		}
		if !s.IsScheduler() {
			return nil, ErrNotScheduler
		}
		return s, nil
	}
	if creator.IsScheduler() {
		return creator, nil
	}
	if creator.sched == nil {
		return nil, ErrNoScheduler
	}
	return creator.sched, nil
}

// Join waits for the thread identified by tid to exit, then reclaims it.
// It is a cancellation point. Thread context.
func (x *Thread) Join(tid ThreadID) error {
	x.mustBeCurrent()
	rt := x.rt
	target := rt.Lookup(tid)
	if target == nil {
		return ErrNoSuchThread
	}
	if target == x {
		return ErrDeadlock
	}

	rt.checkpoint(x)

	prev := rt.intr.Disable()
	defer rt.intr.Restore(prev)

	target.waitLock.Lock()
	if target.detached || (target.joiner != nil && target.joiner != x) {
		target.waitLock.Unlock()
		return ErrNotJoinable
	}
	target.joiner = x
	exited := target.exited
	target.waitLock.Unlock()

	for !exited {
		x.waitLock.Lock()
		target.waitLock.Lock()
		exited = target.exited
		target.waitLock.Unlock()
		if exited {
			x.waitLock.Unlock()
			break
		}
		if x.canceled {
			x.waitLock.Unlock()
			target.waitLock.Lock()
			target.joiner = nil
			target.waitLock.Unlock()
			return ErrCanceled
		}
		rt.sleepWithFlags(x, WaitJoin, 0)
	}

	rt.reclaim(target)
	return nil
}

// Detach marks the thread identified by tid to be reclaimed on exit,
// rather than by Join.
func (x *Runtime) Detach(tid ThreadID) error {
	t := x.Lookup(tid)
	if t == nil {
		return ErrNoSuchThread
	}
	prev := t.lockWait()
	if t.detached || t.joiner != nil {
		t.unlockWait(prev)
		return ErrNotJoinable
	}
	t.detached = true
	exited := t.exited
	t.unlockWait(prev)
	if exited {
		x.reclaim(t)
	}
	return nil
}

// exit is called by the thread, after its function returns. It notifies any
// joiner, and the governing scheduler, then gives up the CPU for good.
func (x *Runtime) exit(t *Thread) {
	if x.intr.Disabled() {
		panic(`threads: thread exited with interrupts disabled`)
	}

	prev := x.intr.Disable()

	t.waitLock.Lock()
	t.exited = true
	joiner := t.joiner
	detached := t.detached
	t.waitLock.Unlock()

	if joiner != nil {
		x.wakeupFlagged(joiner, WaitJoin)
	}
	if t.sched != nil {
		x.sendMessage(t.sched, schedmsg.Message{Kind: schedmsg.KindExited, Target: t.id})
	}

	x.cpu.mu.Lock()
	next := x.blockLocked(t, true)
	x.cpu.mu.Unlock()

	close(t.done)
	if detached {
		x.reclaim(t)
	}

	x.logger.Debug().
		Uint64(`tid`, uint64(t.id)).
		Log(`threads: exited`)

	x.intr.Restore(prev)
	if next != nil {
		x.handoff(next)
	}
}
