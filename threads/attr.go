package threads

import (
	"fmt"
	"time"
)

type (
	// SchedPolicy is the scheduling policy a thread requests. It is advisory,
	// and interpreted by the thread's scheduler.
	SchedPolicy uint8

	// Attr models the attributes a thread is created with. The zero value
	// is not valid, use NewAttr. Attributes are copied at creation.
	Attr struct {
		name      string
		period    time.Duration
		deadline  time.Duration
		stackSize int
		opaque    uint64
		scheduler ThreadID
		priority  int
		policy    SchedPolicy
		detached  bool
		valid     bool
	}
)

const (
	SchedFIFO SchedPolicy = iota
	SchedRR
	SchedEDF
	SchedRMS
	SchedLottery
)

const (
	PriorityMin     = 0
	PriorityMax     = 31
	PriorityDefault = 15

	// StackSizeMin is the smallest stack size that may be requested.
	StackSizeMin = 16 << 10
	// StackSizeDefault is recorded when no stack size is requested.
	StackSizeDefault = 64 << 10
)

// NewAttr returns the default attributes: joinable, PriorityDefault,
// SchedRR, no realtime parameters, and the creator's scheduler.
func NewAttr() *Attr {
	a := defaultAttr()
	return &a
}

func defaultAttr() Attr {
	return Attr{
		priority:  PriorityDefault,
		policy:    SchedRR,
		stackSize: StackSizeDefault,
		valid:     true,
	}
}

func (x *Attr) check() {
	if x == nil || !x.valid {
		panic(`threads: attr: not initialized`)
	}
}

func (x *Attr) SetName(name string) { x.check(); x.name = name }

func (x *Attr) Name() string { x.check(); return x.name }

// SetDetached configures whether the thread is reclaimed automatically on
// exit, rather than by Join.
func (x *Attr) SetDetached(detached bool) { x.check(); x.detached = detached }

func (x *Attr) Detached() bool { x.check(); return x.detached }

func (x *Attr) SetPriority(priority int) error {
	x.check()
	if priority < PriorityMin || priority > PriorityMax {
		return fmt.Errorf(`%w: priority %d out of range`, ErrInvalidAttr, priority)
	}
	x.priority = priority
	return nil
}

func (x *Attr) Priority() int { x.check(); return x.priority }

func (x *Attr) SetSchedPolicy(policy SchedPolicy) error {
	x.check()
	if policy > SchedLottery {
		return fmt.Errorf(`%w: unknown policy %d`, ErrInvalidAttr, policy)
	}
	x.policy = policy
	return nil
}

func (x *Attr) SchedPolicy() SchedPolicy { x.check(); return x.policy }

// SetStackSize records the requested stack size. Goroutine stacks grow
// dynamically, so it is informational only.
func (x *Attr) SetStackSize(size int) error {
	x.check()
	if size < StackSizeMin {
		return fmt.Errorf(`%w: stack size %d below minimum`, ErrInvalidAttr, size)
	}
	x.stackSize = size
	return nil
}

func (x *Attr) StackSize() int { x.check(); return x.stackSize }

// SetRealtime sets the period and relative deadline, for realtime policies.
func (x *Attr) SetRealtime(period, deadline time.Duration) error {
	x.check()
	if period <= 0 || deadline <= 0 || deadline > period {
		return fmt.Errorf(`%w: realtime period %s deadline %s`, ErrInvalidAttr, period, deadline)
	}
	x.period = period
	x.deadline = deadline
	return nil
}

func (x *Attr) Realtime() (period, deadline time.Duration) {
	x.check()
	return x.period, x.deadline
}

// SetOpaque sets the scheduler-specific datum, delivered as the Opaque field
// of the KindNewThread message.
func (x *Attr) SetOpaque(opaque uint64) { x.check(); x.opaque = opaque }

func (x *Attr) Opaque() uint64 { x.check(); return x.opaque }

// SetScheduler selects the governing scheduler. The zero value selects the
// creator (if it is a scheduler), or the creator's scheduler.
func (x *Attr) SetScheduler(tid ThreadID) { x.check(); x.scheduler = tid }

func (x *Attr) Scheduler() ThreadID { x.check(); return x.scheduler }

func (x SchedPolicy) String() string {
	switch x {
	case SchedFIFO:
		return `fifo`
	case SchedRR:
		return `rr`
	case SchedEDF:
		return `edf`
	case SchedRMS:
		return `rms`
	case SchedLottery:
		return `lottery`
	default:
		return fmt.Sprintf(`policy(%d)`, uint8(x))
	}
}
