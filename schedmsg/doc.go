// Package schedmsg implements the messages delivered to user-level
// schedulers, and the bounded queue each scheduler receives them on.
//
// A scheduler thread is told about changes to the threads it manages
// (creation, becoming runnable, exit, attribute changes) by messages, which
// it consumes in FIFO order. Each queue has a fixed, power of two capacity,
// and overflowing it is an unrecoverable invariant violation, because a lost
// message would leave a thread permanently unscheduled.
package schedmsg
