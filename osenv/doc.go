// Package osenv exports locks, condition variables, and sleep records, for
// code that must synchronize with threads without depending on their
// internals, e.g. device drivers.
//
// Locks and condition variables are reference counted, and allocated from a
// LockManager, which tracks every live object. Critical locks also disable
// interrupts while held, excluding interrupt handlers, as well as other
// threads.
package osenv
