package intr

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

type (
	// Controller is the interrupt mask, and the dispatcher that runs
	// interrupt handlers. Instances must be initialized using the New
	// factory, and are started by Run.
	Controller struct {
		// betteralign:ignore

		state  fastState
		logger *logiface.Logger[logiface.Event]

		// mask is held by whichever goroutine has interrupts disabled
		mask  sync.Mutex
		owner atomic.Uint64 // goroutine holding mask, 0 if none
		depth int           // nesting depth of owner, guarded by mask

		dispatcher atomic.Uint64 // goroutine running Run, 0 if none

		// abandoned goroutines, see Abandon
		abandoned  sync.Map
		nabandoned atomic.Int32

		// mu guards timers and pending, it is never held while acquiring mask
		mu      sync.Mutex
		timers  timerHeap
		pending []func()

		wake     chan struct{} // cap 1
		stop     chan struct{} // closed on shutdown
		done     chan struct{} // closed when Run returns
		stopOnce sync.Once
	}

	timerEntry struct {
		when  time.Time
		timer *Timer
		gen   uint64
	}

	// timerHeap is a min-heap of timer entries
	timerHeap []timerEntry
)

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = timerEntry{}
	*h = old[:n-1]
	return x
}

// New initializes a Controller, in the Awake state. Interrupts may be
// disabled, and timers set, before Run is called, but no handler will be
// delivered until it is.
func New(opts ...Option) (*Controller, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Controller{
		logger: cfg.logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// State returns the lifecycle state.
func (x *Controller) State() State {
	return x.state.Load()
}

// Disable disables interrupts for the calling goroutine, returning true if
// they were previously enabled (for it). Each call must be paired with a
// Restore, of the returned value, in LIFO order.
func (x *Controller) Disable() (wasEnabled bool) {
	gid := GoroutineID()
	if x.isAbandoned(gid) {
		return false
	}
	if x.owner.Load() == gid {
		x.depth++
		return false
	}
	x.mask.Lock()
	x.owner.Store(gid)
	x.depth = 1
	return true
}

// Restore undoes the matching Disable.
func (x *Controller) Restore(wasEnabled bool) {
	gid := GoroutineID()
	if x.isAbandoned(gid) {
		return
	}
	if x.owner.Load() != gid {
		panic(`intr: restore: interrupts not disabled by caller`)
	}
	x.depth--
	if wasEnabled != (x.depth == 0) {
		panic(`intr: restore: unbalanced disable/restore`)
	}
	if x.depth == 0 {
		x.owner.Store(0)
		x.mask.Unlock()
	}
}

// Disabled returns true if the calling goroutine has interrupts disabled.
func (x *Controller) Disabled() bool {
	return x.owner.Load() == GoroutineID()
}

// Suspend fully releases the caller's hold on the mask, returning the depth
// to pass to Resume. It is used around a context switch, where the saved
// interrupt state belongs to the suspended thread.
func (x *Controller) Suspend() (depth int) {
	if x.owner.Load() != GoroutineID() {
		return 0
	}
	depth = x.depth
	x.depth = 0
	x.owner.Store(0)
	x.mask.Unlock()
	return depth
}

// Resume re-acquires the mask at the depth returned by Suspend.
func (x *Controller) Resume(depth int) {
	if depth <= 0 || x.isAbandoned(GoroutineID()) {
		return
	}
	if x.owner.Load() == GoroutineID() {
		panic(`intr: resume: interrupts already disabled by caller`)
	}
	x.mask.Lock()
	x.owner.Store(GoroutineID())
	x.depth = depth
}

// Abandon detaches the calling goroutine, which must not hold the mask (see
// Suspend), from the interrupt state. Its later Disable, Restore, and Resume
// calls have no effect, which lets a suspended context be unwound (e.g. by
// runtime.Goexit) without unbalancing the mask. Forget reverses it.
func (x *Controller) Abandon() {
	gid := GoroutineID()
	if x.owner.Load() == gid {
		panic(`intr: abandon: interrupts disabled by caller`)
	}
	if _, loaded := x.abandoned.LoadOrStore(gid, struct{}{}); !loaded {
		x.nabandoned.Add(1)
	}
}

// Forget reverses Abandon, for the calling goroutine.
func (x *Controller) Forget() {
	if _, loaded := x.abandoned.LoadAndDelete(GoroutineID()); loaded {
		x.nabandoned.Add(-1)
	}
}

func (x *Controller) isAbandoned(gid uint64) bool {
	if x.nabandoned.Load() == 0 {
		return false
	}
	_, ok := x.abandoned.Load(gid)
	return ok
}

// InInterrupt returns true if called from an interrupt handler.
func (x *Controller) InInterrupt() bool {
	id := x.dispatcher.Load()
	return id != 0 && id == GoroutineID()
}

// Raise queues handler to be run in interrupt context, as soon as interrupts
// are enabled. It never blocks.
func (x *Controller) Raise(handler func()) error {
	if handler == nil {
		panic(`intr: raise: nil handler`)
	}
	if !x.state.CanAcceptWork() {
		return ErrTerminated
	}
	x.mu.Lock()
	x.pending = append(x.pending, handler)
	x.mu.Unlock()
	x.signal()
	return nil
}

func (x *Controller) signal() {
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

// Run runs the dispatcher, until the context is canceled, or Shutdown is
// called. It returns nil on shutdown.
func (x *Controller) Run(ctx context.Context) error {
	if !x.state.TryTransition(StateAwake, StateRunning) {
		if x.state.Load() == StateTerminated {
			return ErrTerminated
		}
		return ErrAlreadyRunning
	}

	x.dispatcher.Store(GoroutineID())
	defer x.dispatcher.Store(0)
	defer close(x.done)
	defer x.state.Store(StateTerminated)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		handlers, wait := x.collect(time.Now())
		for _, handler := range handlers {
			x.safeExecute(handler)
		}
		if len(handlers) != 0 {
			continue
		}

		var timerC <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			timerC = timer.C
		}

		select {
		case <-x.wake:
		case <-timerC:
		case <-x.stop:
			return nil
		case <-ctx.Done():
			x.state.TryTransition(StateRunning, StateTerminating)
			return ctx.Err()
		}
		timer.Stop()
	}
}

// collect drains due timers and raised interrupts, returning the time until
// the next timer is due, or -1 if there are none.
func (x *Controller) collect(now time.Time) (handlers []func(), wait time.Duration) {
	x.mu.Lock()
	defer x.mu.Unlock()
	handlers, x.pending = x.pending, nil
	for x.timers.Len() != 0 && !x.timers[0].when.After(now) {
		e := heap.Pop(&x.timers).(timerEntry)
		handlers = append(handlers, func() { e.timer.fire(e.gen) })
	}
	wait = -1
	if x.timers.Len() != 0 {
		wait = x.timers[0].when.Sub(now)
	}
	return
}

// safeExecute runs a handler with interrupts disabled. Handlers implement
// kernel internals, so a panic is logged then propagated.
func (x *Controller) safeExecute(handler func()) {
	prev := x.Disable()
	defer x.Restore(prev)
	defer func() {
		if r := recover(); r != nil {
			x.logger.Crit().
				Any(`panic`, r).
				Log(`intr: interrupt handler panicked`)
			panic(r)
		}
	}()
	handler()
}

func (x *Controller) push(e timerEntry) {
	x.mu.Lock()
	heap.Push(&x.timers, e)
	x.mu.Unlock()
	x.signal()
}

// Shutdown stops the dispatcher, waiting for it to exit, or the context to
// be done. Handlers that have not been delivered are discarded.
func (x *Controller) Shutdown(ctx context.Context) error {
	for {
		switch state := x.state.Load(); state {
		case StateAwake:
			if x.state.TryTransition(StateAwake, StateTerminated) {
				x.stopOnce.Do(func() { close(x.stop) })
				return nil
			}
		case StateRunning:
			if x.state.TryTransition(StateRunning, StateTerminating) {
				x.stopOnce.Do(func() { close(x.stop) })
			}
		case StateTerminating:
			x.stopOnce.Do(func() { close(x.stop) })
			select {
			case <-x.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		case StateTerminated:
			return ErrTerminated
		}
	}
}

// Close is Shutdown without a deadline.
func (x *Controller) Close() error {
	return x.Shutdown(context.Background())
}
