package osenv

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-cpuinherit/threads"
	"github.com/joeycumines/logiface"
)

type (
	// ManagerConfig configures a LockManager.
	ManagerConfig struct {
		// Logger is used for structured logging, and may be nil, which
		// disables logging.
		Logger *logiface.Logger[logiface.Event]

		// Fatal is called with an error wrapping ErrFreed, ErrOverRelease, or
		// ErrNotThread, on misuse of an object. The offending operation has
		// no effect, if it returns. Defaults to panicking.
		Fatal func(err error)
	}

	// LockManager is the registry of exported locks and condition
	// variables, for a single runtime. Instances must be initialized using
	// the NewLockManager factory.
	LockManager struct {
		rt     *threads.Runtime
		logger *logiface.Logger[logiface.Event]
		fatal  func(err error)

		mu     sync.Mutex
		locks  map[*Lock]struct{}
		conds  map[*Condvar]struct{}
		closed bool
	}

	// refCount is a reference count, which starts at 1, and frees the object
	// exactly once, when it reaches 0.
	refCount struct {
		n atomic.Int32
	}
)

// NewLockManager initializes a LockManager, for objects used by threads of
// rt. A nil config uses the defaults.
func NewLockManager(rt *threads.Runtime, config *ManagerConfig) (*LockManager, error) {
	if rt == nil {
		return nil, errors.New(`osenv: nil runtime`)
	}
	var cfg ManagerConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Fatal == nil {
		cfg.Fatal = func(err error) { panic(err) }
	}
	return &LockManager{
		rt:     rt,
		logger: cfg.Logger,
		fatal:  cfg.Fatal,
		locks:  make(map[*Lock]struct{}),
		conds:  make(map[*Condvar]struct{}),
	}, nil
}

// Runtime returns the runtime the manager was created for.
func (x *LockManager) Runtime() *threads.Runtime { return x.rt }

// AllocateLock returns a new lock, with a reference count of 1. A critical
// lock disables interrupts while it is held.
func (x *LockManager) AllocateLock(critical bool) (*Lock, error) {
	l := &Lock{mgr: x, critical: critical}
	l.refs.init()
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, ErrClosed
	}
	x.locks[l] = struct{}{}
	x.logger.Debug().
		Bool(`critical`, critical).
		Int(`locks`, len(x.locks)).
		Log(`osenv: lock allocated`)
	return l, nil
}

// AllocateCondvar returns a new condition variable, with a reference count
// of 1.
func (x *LockManager) AllocateCondvar() (*Condvar, error) {
	c := &Condvar{mgr: x}
	c.refs.init()
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, ErrClosed
	}
	x.conds[c] = struct{}{}
	x.logger.Debug().
		Int(`condvars`, len(x.conds)).
		Log(`osenv: condvar allocated`)
	return c, nil
}

// Live returns the number of locks and condition variables that have not
// been freed.
func (x *LockManager) Live() (locks, condvars int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.locks), len(x.conds)
}

// Close prevents further allocation, returning an error wrapping ErrLeaked
// if any objects are still live.
func (x *LockManager) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	x.closed = true
	if len(x.locks) == 0 && len(x.conds) == 0 {
		return nil
	}
	x.logger.Warning().
		Int(`locks`, len(x.locks)).
		Int(`condvars`, len(x.conds)).
		Log(`osenv: objects leaked`)
	return fmt.Errorf(`%w: %d locks, %d condvars`, ErrLeaked, len(x.locks), len(x.conds))
}

func (x *LockManager) freeLock(l *Lock) {
	x.mu.Lock()
	delete(x.locks, l)
	x.mu.Unlock()
	x.logger.Debug().Log(`osenv: lock freed`)
}

func (x *LockManager) freeCondvar(c *Condvar) {
	x.mu.Lock()
	delete(x.conds, c)
	x.mu.Unlock()
	x.logger.Debug().Log(`osenv: condvar freed`)
}

// self returns the calling thread, reporting ErrNotThread if there is none.
func (x *LockManager) self(op string) *threads.Thread {
	t := x.rt.Self()
	if t == nil {
		x.report(fmt.Errorf(`%w: %s`, ErrNotThread, op))
	}
	return t
}

func (x *LockManager) report(err error) {
	x.logger.Crit().
		Err(err).
		Log(`osenv: fatal`)
	x.fatal(err)
}

func (x *refCount) init() { x.n.Store(1) }

// acquire increments a live count, returning false if it has been freed.
func (x *refCount) acquire() bool {
	for {
		n := x.n.Load()
		if n <= 0 {
			return false
		}
		if x.n.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release decrements a live count, returning ok false if it had been freed.
func (x *refCount) release() (freed, ok bool) {
	for {
		n := x.n.Load()
		if n <= 0 {
			return false, false
		}
		if x.n.CompareAndSwap(n, n-1) {
			return n == 1, true
		}
	}
}

func (x *refCount) live() bool { return x.n.Load() > 0 }
