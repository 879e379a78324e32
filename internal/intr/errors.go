package intr

import (
	"errors"
)

var (
	// ErrTerminated is returned when raising an interrupt on, or running, a
	// controller that has been shut down.
	ErrTerminated = errors.New("intr: controller has been terminated")

	// ErrAlreadyRunning is returned by Run, if called more than once.
	ErrAlreadyRunning = errors.New("intr: controller is already running")
)
