package schedmsg

import (
	"fmt"
)

type (
	// ThreadID identifies a thread, within a single runtime. The zero value
	// is never assigned to a thread.
	ThreadID uint64

	// Kind classifies a Message.
	Kind uint8

	// Message is a scheduling event, addressed to the scheduler that governs
	// the Target thread. Messages are copied into and out of a Queue.
	Message struct {
		// Target is the thread the message is about.
		Target ThreadID
		// Opaque is kind-specific: the new value for KindSetState, or the
		// scheduling datum (see Attr.SetOpaque) for KindNewThread.
		Opaque uint64
		// Opaque2 is kind-specific: the priority for KindNewThread.
		Opaque2 uint64
		Kind    Kind
	}
)

const (
	// KindUnset is never delivered, it marks a message that has not been
	// filled in.
	KindUnset Kind = iota
	// KindUnblock indicates Target has become runnable.
	KindUnblock
	// KindSetState indicates a request to change the scheduling state of
	// Target (e.g. its priority), to Opaque.
	KindSetState
	// KindExited indicates Target has terminated.
	KindExited
	// KindNewThread indicates Target was created, and is runnable.
	KindNewThread
)

func (x Kind) String() string {
	switch x {
	case KindUnset:
		return `unset`
	case KindUnblock:
		return `unblock`
	case KindSetState:
		return `setstate`
	case KindExited:
		return `exited`
	case KindNewThread:
		return `newthread`
	default:
		return fmt.Sprintf(`kind(%d)`, uint8(x))
	}
}

// Valid returns true if x is a deliverable kind.
func (x Kind) Valid() bool {
	return x > KindUnset && x <= KindNewThread
}

func (x Message) String() string {
	return fmt.Sprintf(`%s(tid=%d, opaque=%d, opaque2=%d)`, x.Kind, x.Target, x.Opaque, x.Opaque2)
}
