// Package threads implements CPU inheritance scheduling, for threads that
// share a single virtual CPU.
//
// Each Thread is backed by a goroutine, but only runs while it holds the CPU.
// The root thread, started by Runtime.Run, holds it initially. A thread
// gives the CPU away by donating it (Thread.DonateWaitRecv), and regains it
// when the recipient blocks, yields, or is preempted, per the donor's
// WakeupCondition. Schedulers are ordinary threads, which receive
// schedmsg.Message values describing the threads they govern (creation,
// unblocking, exit, and state changes), then pick one to donate to.
//
// Blocking (Sleep, Recv, Join, Mutex, Cond) returns the CPU to the donor,
// and a blocked thread that becomes runnable is announced to its scheduler,
// rather than being run directly. Interrupt handlers (timer expiries, and
// Runtime.RaiseInterrupt) run on a separate dispatcher, excluded whenever
// interrupts are disabled.
//
// Preemption is cooperative: requests (clock ticks, donation timeouts,
// message arrival, cancellation) take effect at the running thread's next
// safe point, which includes every blocking call, Yield, and Checkpoint.
package threads
