package osenv

import (
	"errors"
)

var (
	// ErrClosed is returned when allocating from a closed LockManager.
	ErrClosed = errors.New(`osenv: lock manager closed`)

	// ErrLeaked is returned by LockManager.Close, if any objects were not
	// released.
	ErrLeaked = errors.New(`osenv: objects leaked`)

	// ErrFreed is reported, as fatal, on use of a released object.
	ErrFreed = errors.New(`osenv: use after free`)

	// ErrOverRelease is reported, as fatal, when releasing a freed object.
	ErrOverRelease = errors.New(`osenv: released too many times`)

	// ErrNotThread is reported, as fatal, when a blocking operation is
	// called from outside a thread.
	ErrNotThread = errors.New(`osenv: not called by a thread`)
)
