package intr

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// State is the lifecycle state of a Controller.
//
//	StateAwake (0) → StateRunning (2)        [Run()]
//	StateAwake (0) → StateTerminated (1)     [Shutdown() before Run()]
//	StateRunning (2) → StateTerminating (3)  [Shutdown(), ctx done]
//	StateTerminating (3) → StateTerminated (1)
//	StateTerminated (1) → (terminal)
type State uint64

const (
	StateAwake       State = 0
	StateTerminated  State = 1
	StateRunning     State = 2
	StateTerminating State = 3
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a CAS state machine, padded to its own cache line, as it is
// polled by every Raise.
type fastState struct { // betteralign:ignore
	_ cpu.CacheLinePad //nolint:unused
	v atomic.Uint64
	_ cpu.CacheLinePad //nolint:unused
}

func (s *fastState) Load() State {
	return State(s.v.Load())
}

func (s *fastState) Store(state State) {
	s.v.Store(uint64(state))
}

func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// CanAcceptWork returns true if interrupts may still be raised.
func (s *fastState) CanAcceptWork() bool {
	state := s.Load()
	return state == StateAwake || state == StateRunning
}
