package threads

import (
	"fmt"
)

type (
	// WaitState is the reason a thread is (or was last) waiting.
	WaitState uint8

	// WaitFlags are set by layered primitives, in addition to WaitSleeping,
	// to record what a sleeping thread is waiting for.
	WaitFlags uint32

	// waitState is guarded by the owning thread's wait-lock, which is only
	// ever held with interrupts disabled.
	waitState struct {
		flags      WaitFlags
		kind       WaitState
		timerArmed bool
	}
)

const (
	WaitIdle WaitState = iota
	WaitSleeping
	// WaitTimedOut is set (only) by the sleep timer, for the sleeper to
	// observe once it resumes.
	WaitTimedOut
	WaitReceiving
	WaitDonating
)

const (
	// WaitMutex is not a cancellation point.
	WaitMutex WaitFlags = 1 << iota
	WaitCondvar
	WaitJoin
	WaitDriver
)

// legalWaitTransitions is indexed by [from][to].
var legalWaitTransitions = [...][5]bool{
	WaitIdle:      {WaitSleeping: true, WaitReceiving: true, WaitDonating: true},
	WaitSleeping:  {WaitIdle: true, WaitTimedOut: true},
	WaitTimedOut:  {WaitIdle: true},
	WaitReceiving: {WaitIdle: true},
	WaitDonating:  {WaitIdle: true},
}

func (x WaitState) String() string {
	switch x {
	case WaitIdle:
		return `idle`
	case WaitSleeping:
		return `sleeping`
	case WaitTimedOut:
		return `timed-out`
	case WaitReceiving:
		return `receiving`
	case WaitDonating:
		return `donating`
	default:
		return fmt.Sprintf(`wait(%d)`, uint8(x))
	}
}

// to performs a checked transition. Returning to WaitIdle clears everything,
// and entering WaitTimedOut clears everything else, as the timer has fired.
func (x *waitState) to(kind WaitState) {
	if int(x.kind) >= len(legalWaitTransitions) || int(kind) >= len(legalWaitTransitions) || !legalWaitTransitions[x.kind][kind] {
		panic(fmt.Sprintf(`threads: illegal wait state transition: %s -> %s`, x.kind, kind))
	}
	switch kind {
	case WaitIdle, WaitTimedOut:
		*x = waitState{kind: kind}
	default:
		x.kind = kind
	}
}

func (x *waitState) sleep(flags WaitFlags, timerArmed bool) {
	x.to(WaitSleeping)
	x.flags |= flags
	x.timerArmed = timerArmed
}

func (x *waitState) zero() bool {
	return *x == waitState{}
}
