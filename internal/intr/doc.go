// Package intr models the two execution priorities of a uniprocessor kernel:
// thread context and interrupt context.
//
// Interrupt handlers are run by a single dispatcher goroutine, one at a
// time, each while holding the interrupt mask. Any execution context
// (goroutine) may hold the mask, which is reentrant per goroutine, to
// prevent handlers from running. This is the "interrupts disabled" state
// that the scheduler's wait-locks are always taken under.
//
// Handlers must never block waiting for the CPU: they may only perform
// bounded work, such as marking a thread runnable, or posting a message.
package intr
