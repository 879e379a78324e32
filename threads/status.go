package threads

import (
	"fmt"
	"time"
)

type (
	// WakeupCondition selects which recipient transitions return control to
	// a donor, see Thread.DonateWaitRecv.
	WakeupCondition uint8

	// Status is the result of a donation. It is one of the primary status
	// values, optionally combined with StatusMessageReceived.
	Status uint8
)

const (
	// wakeupNever is reserved, and is never a valid request.
	wakeupNever WakeupCondition = iota
	// WakeupOnBlock returns control when the recipient blocks or exits.
	WakeupOnBlock
	// WakeupOnSwitch also returns control when the recipient yields, or is
	// preempted by a clock tick.
	WakeupOnSwitch
	// WakeupAlways also returns control when a message arrives for the
	// donor.
	WakeupAlways
)

const (
	// StatusNotReady indicates the recipient could not run.
	StatusNotReady Status = iota + 1
	// StatusBlocked indicates the recipient blocked, or exited.
	StatusBlocked
	// StatusYielded indicates the recipient yielded.
	StatusYielded
	// StatusPreempted indicates the donation was preempted.
	StatusPreempted
	// StatusTimedOut indicates the donation timeout expired.
	StatusTimedOut

	// StatusMessageReceived is set in addition to the primary status, if a
	// message was received.
	StatusMessageReceived Status = 0x80
)

// Forever may be passed to Recv, to block until a message arrives.
const Forever time.Duration = -1

func (x WakeupCondition) Valid() bool {
	return x >= WakeupOnBlock && x <= WakeupAlways
}

func (x WakeupCondition) String() string {
	switch x {
	case wakeupNever:
		return `never`
	case WakeupOnBlock:
		return `on-block`
	case WakeupOnSwitch:
		return `on-switch`
	case WakeupAlways:
		return `always`
	default:
		return fmt.Sprintf(`condition(%d)`, uint8(x))
	}
}

// Primary returns the status without StatusMessageReceived.
func (x Status) Primary() Status {
	return x &^ StatusMessageReceived
}

// MessageReceived returns true if a message was received.
func (x Status) MessageReceived() bool {
	return x&StatusMessageReceived != 0
}

func (x Status) String() string {
	var s string
	switch x.Primary() {
	case 0:
		s = `none`
	case StatusNotReady:
		s = `not-ready`
	case StatusBlocked:
		s = `blocked`
	case StatusYielded:
		s = `yielded`
	case StatusPreempted:
		s = `preempted`
	case StatusTimedOut:
		s = `timed-out`
	default:
		s = fmt.Sprintf(`status(%d)`, uint8(x.Primary()))
	}
	if x.MessageReceived() {
		s += `|msgrecv`
	}
	return s
}
