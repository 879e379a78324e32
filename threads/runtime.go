package threads

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-cpuinherit/internal/intr"
	"github.com/joeycumines/go-cpuinherit/schedmsg"
	"github.com/joeycumines/logiface"
)

type (
	// ThreadID identifies a thread, see schedmsg.ThreadID.
	ThreadID = schedmsg.ThreadID

	// Runtime is the registry of threads, and the single virtual CPU they
	// share. Instances must be initialized using the New factory, and are
	// started by Run.
	Runtime struct {
		// betteralign:ignore

		intr          *intr.Controller
		logger        *logiface.Logger[logiface.Event]
		queueCapacity int
		tickInterval  time.Duration
		tick          *intr.Timer

		state  atomic.Uint32
		nextID atomic.Uint64

		mu      sync.RWMutex
		threads map[ThreadID]*Thread
		byGID   sync.Map // goroutine id -> *Thread

		cpu  processor
		root *Thread

		done chan struct{} // closed on teardown
		wg   sync.WaitGroup
	}
)

const (
	runtimeAwake uint32 = iota
	runtimeRunning
	runtimeTerminated
)

// New initializes a Runtime.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	c, err := intr.New(intr.WithLogger(cfg.logger))
	if err != nil {
		return nil, err
	}
	return &Runtime{
		intr:          c,
		logger:        cfg.logger,
		queueCapacity: cfg.queueCapacity,
		tickInterval:  cfg.tick,
		threads:       make(map[ThreadID]*Thread),
		done:          make(chan struct{}),
	}, nil
}

// Run boots the runtime, running main as the root thread, which starts out
// holding the CPU. The root thread is the only thread without a governing
// scheduler, and will typically call BecomeScheduler, create threads, then
// schedule them using DonateWaitRecv.
//
// Run returns once main returns. Any threads that remain are discarded, and
// will never run again. Canceling ctx cancels the root thread, and causes
// Run to return the context's error.
func (x *Runtime) Run(ctx context.Context, main func(self *Thread)) error {
	if main == nil {
		panic(`threads: run: nil main`)
	}
	if !x.state.CompareAndSwap(runtimeAwake, runtimeRunning) {
		return ErrRuntimeStarted
	}

	intrDone := make(chan error, 1)
	go func() { intrDone <- x.intr.Run(context.Background()) }()

	root := x.newThread(nil, defaultAttr(), main)
	root.attr.name = `root`
	x.root = root
	x.cpu.mu.Lock()
	root.run = runRunning
	x.cpu.current = root
	x.cpu.mu.Unlock()
	x.register(root)

	if x.tickInterval > 0 {
		x.tick = x.intr.NewTimer(func() {
			x.Preempt()
			x.tick.Set(x.tickInterval)
		})
		x.tick.Set(x.tickInterval)
	}

	stop := context.AfterFunc(ctx, func() { _ = x.Cancel(root.id) })

	x.logger.Debug().
		Uint64(`tid`, uint64(root.id)).
		Log(`threads: runtime started`)

	x.start(root)
	x.handoff(root)
	<-root.done

	stop()
	x.teardown()
	_ = x.intr.Close()
	<-intrDone

	x.logger.Debug().Log(`threads: runtime stopped`)

	return ctx.Err()
}

func (x *Runtime) teardown() {
	if x.tick != nil {
		x.tick.Stop()
	}
	x.state.Store(runtimeTerminated)
	close(x.done)
	x.wg.Wait()
}

func (x *Runtime) terminated() bool {
	return x.state.Load() == runtimeTerminated
}

func (x *Runtime) newThread(sched *Thread, attr Attr, fn func(self *Thread)) *Thread {
	t := &Thread{
		rt:    x,
		id:    ThreadID(x.nextID.Add(1)),
		attr:  attr,
		fn:    fn,
		sched: sched,
		token: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	t.sleepTimer = x.intr.NewTimer(func() { x.sleepTimerExpired(t) })
	t.donateTimer = x.intr.NewTimer(func() { x.donateTimerExpired(t) })
	return t
}

func (x *Runtime) register(t *Thread) {
	x.mu.Lock()
	x.threads[t.id] = t
	x.mu.Unlock()
}

// reclaim removes an exited thread, that has been joined or detached.
func (x *Runtime) reclaim(t *Thread) {
	x.mu.Lock()
	delete(x.threads, t.id)
	x.mu.Unlock()

	prev := x.intr.Disable()
	t.waitLock.Lock()
	q := t.queue
	t.queue = nil
	t.waitLock.Unlock()
	x.intr.Restore(prev)

	if q != nil {
		q.Free()
	}

	x.logger.Trace().
		Uint64(`tid`, uint64(t.id)).
		Limit().
		Log(`threads: reclaimed`)
}

// Lookup returns the thread with the given ID, or nil, if it does not
// exist, or has been reclaimed.
func (x *Runtime) Lookup(tid ThreadID) *Thread {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.threads[tid]
}

// Self returns the calling thread, or nil, if not called by a thread.
func (x *Runtime) Self() *Thread {
	if v, ok := x.byGID.Load(intr.GoroutineID()); ok {
		return v.(*Thread)
	}
	return nil
}

// Root returns the root thread, or nil, if Run has not been called.
func (x *Runtime) Root() *Thread {
	if x.state.Load() == runtimeAwake {
		return nil
	}
	return x.root
}

// DisableInterrupts prevents interrupt handlers (timer expiries, raised
// interrupts) from running, until the matching RestoreInterrupts. It is
// reentrant, for the calling thread or goroutine.
func (x *Runtime) DisableInterrupts() (wasEnabled bool) {
	return x.intr.Disable()
}

// RestoreInterrupts undoes the matching DisableInterrupts.
func (x *Runtime) RestoreInterrupts(wasEnabled bool) {
	x.intr.Restore(wasEnabled)
}

// InterruptsDisabled returns true if the caller has interrupts disabled.
func (x *Runtime) InterruptsDisabled() bool {
	return x.intr.Disabled()
}

// InInterrupt returns true if called from interrupt context.
func (x *Runtime) InInterrupt() bool {
	return x.intr.InInterrupt()
}

// RaiseInterrupt runs handler in interrupt context, as soon as interrupts
// are enabled. Handlers may call Wakeup, Send, SetState, Cancel, and
// Preempt, but must not block.
func (x *Runtime) RaiseInterrupt(handler func()) error {
	return x.intr.Raise(handler)
}

func (x *Runtime) start(t *Thread) {
	x.wg.Add(1)
	go x.trampoline(t)
}

func (x *Runtime) trampoline(t *Thread) {
	defer x.wg.Done()
	gid := intr.GoroutineID()
	t.gid.Store(gid)
	x.byGID.Store(gid, t)
	defer x.byGID.Delete(gid)
	defer x.intr.Forget()

	// wait for the first donation
	if !x.park(t) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			x.logger.Crit().
				Uint64(`tid`, uint64(t.id)).
				Any(`panic`, r).
				Log(`threads: thread panicked`)
			panic(r)
		}
	}()

	t.fn(t)
	x.exit(t)
}

// park blocks until the thread is handed the CPU, returning false if the
// runtime was torn down first.
func (x *Runtime) park(t *Thread) bool {
	select {
	case <-t.token:
		return true
	case <-x.done:
		return false
	}
}

// handoff gives the CPU to t.
func (x *Runtime) handoff(t *Thread) {
	select {
	case t.token <- struct{}{}:
	default:
		if x.terminated() {
			return
		}
		panic(`threads: run token already pending`)
	}
}
