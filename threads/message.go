package threads

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-cpuinherit/schedmsg"
)

// BecomeScheduler attaches a message queue to the calling thread, making it
// a scheduler, which may govern other threads. A capacity of 0 uses the
// runtime's default. Thread context.
func (x *Thread) BecomeScheduler(capacity int) error {
	x.mustBeCurrent()
	if capacity == 0 {
		capacity = x.rt.queueCapacity
	}
	q, err := schedmsg.NewQueue(capacity)
	if err != nil {
		return fmt.Errorf(`threads: become scheduler: %w`, err)
	}
	prev := x.lockWait()
	if x.queue != nil {
		x.unlockWait(prev)
		return ErrAlreadyScheduler
	}
	x.queue = q
	x.unlockWait(prev)
	x.rt.logger.Debug().
		Uint64(`tid`, uint64(x.id)).
		Int(`capacity`, q.Cap()).
		Log(`threads: became scheduler`)
	return nil
}

// Recv receives the next message for the calling scheduler. A timeout of 0
// polls, returning ErrWouldBlock if there are none, while any other timeout
// blocks until a message arrives (see Forever). Queued messages are returned
// even if the thread has been canceled. Otherwise, a canceled thread gets
// ErrCanceled, which takes priority over a message that arrives while it
// waits. Thread context.
func (x *Thread) Recv(timeout time.Duration) (schedmsg.Message, error) {
	x.mustBeCurrent()
	rt := x.rt
	if timeout != 0 {
		rt.checkpoint(x)
	}

	prev := rt.intr.Disable()
	defer rt.intr.Restore(prev)

	x.waitLock.Lock()
	q := x.queue
	if q == nil {
		x.waitLock.Unlock()
		return schedmsg.Message{}, ErrNotScheduler
	}
	if msg, ok := q.TryDequeue(); ok {
		x.waitLock.Unlock()
		return msg, nil
	}
	if x.canceled {
		x.waitLock.Unlock()
		return schedmsg.Message{}, ErrCanceled
	}
	if timeout == 0 {
		x.waitLock.Unlock()
		return schedmsg.Message{}, ErrWouldBlock
	}

	x.wait.to(WaitReceiving)
	rt.reschedule(x, &x.waitLock)

	x.waitLock.Lock()
	if !x.wait.zero() {
		x.waitLock.Unlock()
		panic(`threads: recv: resumed while ` + x.wait.kind.String())
	}
	canceled := x.canceled
	x.waitLock.Unlock()

	if canceled {
		return schedmsg.Message{}, ErrCanceled
	}
	msg, ok := q.TryDequeue()
	if !ok {
		panic(`threads: recv: resumed without a message`)
	}
	return msg, nil
}

// Send delivers msg to the scheduler identified by to. It never blocks, and
// may be called from any context. Overflowing the scheduler's queue is
// fatal.
func (x *Runtime) Send(to ThreadID, msg schedmsg.Message) error {
	if !msg.Kind.Valid() {
		return ErrInvalidMessage
	}
	s := x.Lookup(to)
	if s == nil {
		return ErrNoSuchThread
	}
	prev := x.intr.Disable()
	defer x.intr.Restore(prev)
	s.waitLock.Lock()
	if s.queue == nil {
		s.waitLock.Unlock()
		return ErrNotScheduler
	}
	x.specialSend(s, msg)
	return nil
}

// SetState sends a KindSetState message, for the thread identified by tid,
// to its scheduler. It may be called from any context.
func (x *Runtime) SetState(tid ThreadID, opaque uint64) error {
	t := x.Lookup(tid)
	if t == nil {
		return ErrNoSuchThread
	}
	if t.sched == nil {
		return ErrNoScheduler
	}
	prev := x.intr.Disable()
	defer x.intr.Restore(prev)
	x.sendMessage(t.sched, schedmsg.Message{Kind: schedmsg.KindSetState, Target: tid, Opaque: opaque})
	return nil
}

// sendMessage delivers msg to s, interrupts must be disabled.
func (x *Runtime) sendMessage(s *Thread, msg schedmsg.Message) bool {
	s.waitLock.Lock()
	return x.specialSend(s, msg)
}

// specialSend delivers msg to s, whose wait-lock must be held, with
// interrupts disabled. The wait-lock is released. If s is receiving, it is
// made runnable, otherwise, if it is donating, it may be preempted.
func (x *Runtime) specialSend(s *Thread, msg schedmsg.Message) bool {
	if s.exited || s.queue == nil {
		s.waitLock.Unlock()
		x.logger.Warning().
			Uint64(`sched`, uint64(s.id)).
			Stringer(`msg`, msg).
			Limit().
			Log(`threads: message dropped: scheduler exited`)
		return false
	}

	s.queue.Enqueue(msg)

	if s.wait.kind == WaitReceiving {
		s.wait.to(WaitIdle)
		s.waitLock.Unlock()
		return x.setRunnable(s)
	}

	s.waitLock.Unlock()
	return x.messageArrived(s)
}
