package osenv

import (
	"errors"
	"sync"

	"github.com/joeycumines/go-cpuinherit/threads"
)

type (
	// SleepStatus is the reason a SleepRecord's sleeper was woken.
	SleepStatus int

	// SleepRecord lets a thread wait for an event signaled by a driver,
	// typically from an interrupt handler. It must be initialized using
	// NewSleepRecord, and re-initialized (Init) before each use.
	SleepRecord struct {
		rt      *threads.Runtime
		mu      sync.Mutex
		sleeper *threads.Thread
		status  SleepStatus
		woken   bool
	}
)

const (
	SleepWakeup SleepStatus = iota
	SleepCanceled
)

func (x SleepStatus) String() string {
	switch x {
	case SleepWakeup:
		return `wakeup`
	case SleepCanceled:
		return `canceled`
	default:
		return `unknown`
	}
}

// NewSleepRecord initializes a SleepRecord, for threads of the manager's
// runtime.
func (x *LockManager) NewSleepRecord() *SleepRecord {
	return &SleepRecord{rt: x.rt}
}

// Init resets the record, for the next Sleep.
func (x *SleepRecord) Init() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.sleeper = nil
	x.status = SleepWakeup
	x.woken = false
}

// Sleep blocks the calling thread until Wakeup is called, returning the
// status passed to it, or SleepCanceled, if the thread is canceled. If
// Wakeup was called since Init, it returns immediately.
func (x *SleepRecord) Sleep() SleepStatus {
	self := x.rt.Self()
	if self == nil {
		panic(ErrNotThread)
	}

	x.mu.Lock()
	x.sleeper = self
	x.mu.Unlock()

	woken := func() bool {
		x.mu.Lock()
		defer x.mu.Unlock()
		return x.woken
	}

	// other wakeups are spurious
	for {
		err := self.SleepWithFlags(threads.WaitDriver, 0, woken)
		if errors.Is(err, threads.ErrCanceled) {
			return SleepCanceled
		}
		if woken() {
			break
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

// Wakeup wakes the sleeper, if any, causing Sleep to return status. Only the
// first call, after Init, has any effect. It may be called from any
// context, including interrupt handlers.
func (x *SleepRecord) Wakeup(status SleepStatus) {
	x.mu.Lock()
	if x.woken {
		x.mu.Unlock()
		return
	}
	x.woken = true
	x.status = status
	sleeper := x.sleeper
	x.mu.Unlock()
	if sleeper != nil {
		x.rt.Wakeup(sleeper.ID())
	}
}
