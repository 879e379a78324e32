package threads

import (
	"errors"
)

var (
	// ErrWouldBlock is returned by Recv, when polling an empty queue.
	ErrWouldBlock = errors.New(`threads: operation would block`)

	// ErrTimedOut is returned when a sleep, or timed wait, expires.
	ErrTimedOut = errors.New(`threads: timed out`)

	// ErrCanceled is returned by blocking operations, once the calling
	// thread has been canceled (see Runtime.Cancel). Cancellation takes
	// priority over any other wakeup reason.
	ErrCanceled = errors.New(`threads: canceled`)

	ErrNoSuchThread     = errors.New(`threads: no such thread`)
	ErrNotScheduler     = errors.New(`threads: thread is not a scheduler`)
	ErrAlreadyScheduler = errors.New(`threads: thread is already a scheduler`)
	ErrNoScheduler      = errors.New(`threads: no governing scheduler`)
	ErrInvalidCondition = errors.New(`threads: invalid wakeup condition`)
	ErrInvalidMessage   = errors.New(`threads: invalid message`)
	ErrInvalidAttr      = errors.New(`threads: invalid attribute`)
	ErrNotJoinable      = errors.New(`threads: thread is not joinable`)
	ErrDeadlock         = errors.New(`threads: deadlock`)

	// ErrRuntimeStarted is returned by Runtime.Run if it has already been
	// called.
	ErrRuntimeStarted = errors.New(`threads: runtime already started`)
)
