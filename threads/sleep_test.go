package threads

import (
	"testing"
	"time"

	"github.com/joeycumines/go-cpuinherit/schedmsg"
	"github.com/stretchr/testify/assert"
)

// finish donates to a thread expected to exit without blocking.
func finish(t *testing.T, self *Thread, tid ThreadID) {
	t.Helper()
	status, msg, err := self.DonateWaitRecv(tid, WakeupOnBlock, 0)
	assert.NoError(t, err)
	assert.Equal(t, StatusBlocked|StatusMessageReceived, status)
	assert.Equal(t, schedmsg.KindExited, msg.Kind)
	assert.Equal(t, tid, msg.Target)
}

// block donates to a thread expected to block.
func block(t *testing.T, self *Thread, tid ThreadID) {
	t.Helper()
	status, _, err := self.DonateWaitRecv(tid, WakeupOnBlock, 0)
	assert.NoError(t, err)
	assert.Equal(t, StatusBlocked, status)
}

func TestThread_Sleep_timeout(t *testing.T) {
	const timeout = 100 * time.Millisecond
	var (
		sleepErr error
		elapsed  time.Duration
	)
	runThreads(t, func(self *Thread) {
		if !assert.NoError(t, self.BecomeScheduler(0)) {
			return
		}
		child := spawn(t, self, nil, func(self *Thread) {
			start := time.Now()
			sleepErr = self.Sleep(timeout)
			elapsed = time.Since(start)
		})
		block(t, self, child.ID())

		state, flags, armed := child.Waiting()
		assert.Equal(t, WaitSleeping, state)
		assert.Zero(t, flags)
		assert.True(t, armed)

		expectMsg(t, self, Forever, schedmsg.KindUnblock, child.ID())
		state, _, armed = child.Waiting()
		assert.Equal(t, WaitTimedOut, state)
		assert.False(t, armed)

		finish(t, self, child.ID())
		assert.NoError(t, self.Join(child.ID()))
	})
	assert.ErrorIs(t, sleepErr, ErrTimedOut)
	assert.GreaterOrEqual(t, elapsed, timeout)
}

// The timer must be disarmed by a wakeup, so it cannot later wake the
// thread, or announce it again.
func TestThread_Sleep_wakeupBeforeTimeout(t *testing.T) {
	var sleepErr error
	runThreads(t, func(self *Thread) {
		rt := self.Runtime()
		if !assert.NoError(t, self.BecomeScheduler(0)) {
			return
		}
		child := spawn(t, self, nil, func(self *Thread) {
			sleepErr = self.Sleep(100 * time.Millisecond)
		})
		block(t, self, child.ID())

		time.Sleep(50 * time.Millisecond)
		assert.True(t, rt.Wakeup(child.ID()))
		assert.False(t, rt.Wakeup(child.ID()))

		state, flags, armed := child.Waiting()
		assert.Equal(t, WaitIdle, state)
		assert.Zero(t, flags)
		assert.False(t, armed)

		expectMsg(t, self, 0, schedmsg.KindUnblock, child.ID())
		_, err := self.Recv(0)
		assert.ErrorIs(t, err, ErrWouldBlock)

		finish(t, self, child.ID())

		time.Sleep(100 * time.Millisecond)
		_, err = self.Recv(0)
		assert.ErrorIs(t, err, ErrWouldBlock)
		assert.NoError(t, self.Join(child.ID()))
	})
	assert.NoError(t, sleepErr)
}

func TestRuntime_Wakeup_notSleeping(t *testing.T) {
	runThreads(t, func(self *Thread) {
		rt := self.Runtime()
		if !assert.NoError(t, self.BecomeScheduler(0)) {
			return
		}
		assert.False(t, rt.Wakeup(self.ID()))
		assert.False(t, rt.Wakeup(9999))
		child := spawn(t, self, nil, func(*Thread) {})
		assert.False(t, rt.Wakeup(child.ID()))
		_, err := self.Recv(0)
		assert.ErrorIs(t, err, ErrWouldBlock)
		finish(t, self, child.ID())
	})
}

func TestRuntime_Wakeup_fromInterrupt(t *testing.T) {
	var (
		sleepErr error
		woke     bool
		inIntr   bool
	)
	runThreads(t, func(self *Thread) {
		rt := self.Runtime()
		if !assert.NoError(t, self.BecomeScheduler(0)) {
			return
		}
		child := spawn(t, self, nil, func(self *Thread) {
			sleepErr = self.Sleep(0)
		})
		block(t, self, child.ID())
		assert.NoError(t, rt.RaiseInterrupt(func() {
			inIntr = rt.InInterrupt() && rt.InterruptsDisabled()
			woke = rt.Wakeup(child.ID())
		}))
		expectMsg(t, self, Forever, schedmsg.KindUnblock, child.ID())
		finish(t, self, child.ID())
	})
	assert.NoError(t, sleepErr)
	assert.True(t, woke)
	assert.True(t, inIntr)
}

func TestThread_Sleep_cancel(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		// before is run before the child first runs, after once it is
		// sleeping, and announce indicates an UNBLOCK is expected
		before   func(rt *Runtime, tid ThreadID)
		after    func(t *testing.T, rt *Runtime, tid ThreadID)
		announce bool
	}{
		{
			name: `before sleep`,
			before: func(rt *Runtime, tid ThreadID) {
				_ = rt.Cancel(tid)
			},
		},
		{
			name: `while sleeping`,
			after: func(t *testing.T, rt *Runtime, tid ThreadID) {
				assert.NoError(t, rt.Cancel(tid))
			},
			announce: true,
		},
		{
			name: `wakeup then cancel`,
			after: func(t *testing.T, rt *Runtime, tid ThreadID) {
				assert.True(t, rt.Wakeup(tid))
				assert.NoError(t, rt.Cancel(tid))
			},
			announce: true,
		},
		{
			name: `cancel then wakeup`,
			after: func(t *testing.T, rt *Runtime, tid ThreadID) {
				assert.NoError(t, rt.Cancel(tid))
				assert.False(t, rt.Wakeup(tid))
			},
			announce: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				sleepErr error
				canceled bool
			)
			runThreads(t, func(self *Thread) {
				rt := self.Runtime()
				if !assert.NoError(t, self.BecomeScheduler(0)) {
					return
				}
				child := spawn(t, self, nil, func(self *Thread) {
					sleepErr = self.Sleep(time.Minute)
					canceled = self.Canceled()
				})
				if tc.before != nil {
					tc.before(rt, child.ID())
				} else {
					block(t, self, child.ID())
					tc.after(t, rt, child.ID())
				}
				if tc.announce {
					expectMsg(t, self, 0, schedmsg.KindUnblock, child.ID())
				}
				finish(t, self, child.ID())
			})
			assert.ErrorIs(t, sleepErr, ErrCanceled)
			assert.True(t, canceled)
		})
	}
}

func TestThread_Sleep_panics(t *testing.T) {
	runThreads(t, func(self *Thread) {
		rt := self.Runtime()
		assert.PanicsWithValue(t, `threads: sleep: called by the root thread`, func() {
			_ = self.Sleep(time.Millisecond)
		})
		if !assert.NoError(t, self.BecomeScheduler(0)) {
			return
		}
		child := spawn(t, self, nil, func(self *Thread) {
			prev := rt.DisableInterrupts()
			assert.PanicsWithValue(t, `threads: sleep: called with interrupts disabled`, func() {
				_ = self.Sleep(time.Millisecond)
			})
			rt.RestoreInterrupts(prev)
		})
		finish(t, self, child.ID())
	})
}

func TestThread_SleepWithFlags(t *testing.T) {
	var (
		skipped error
		woken   error
		flags   WaitFlags
	)
	runThreads(t, func(self *Thread) {
		rt := self.Runtime()
		if !assert.NoError(t, self.BecomeScheduler(0)) {
			return
		}
		child := spawn(t, self, nil, func(self *Thread) {
			skipped = self.SleepWithFlags(WaitDriver, 0, func() bool { return true })
			woken = self.SleepWithFlags(WaitDriver|WaitCondvar, 0, func() bool { return false })
		})
		block(t, self, child.ID())
		_, flags, _ = child.Waiting()
		assert.True(t, rt.Wakeup(child.ID()))
		expectMsg(t, self, 0, schedmsg.KindUnblock, child.ID())
		finish(t, self, child.ID())
	})
	assert.NoError(t, skipped)
	assert.NoError(t, woken)
	assert.Equal(t, WaitDriver|WaitCondvar, flags)
}

// Mutex waits are not cancellation points, and are not woken by Cancel.
func TestRuntime_Cancel_mutexWait(t *testing.T) {
	var (
		m       Mutex
		locked  bool
		lockErr error
	)
	runThreads(t, func(self *Thread) {
		rt := self.Runtime()
		if !assert.NoError(t, self.BecomeScheduler(0)) {
			return
		}
		holder := spawn(t, self, nil, func(self *Thread) {
			m.Lock(self)
			assert.NoError(t, self.Sleep(0))
			m.Unlock(self)
		})
		waiter := spawn(t, self, nil, func(self *Thread) {
			m.Lock(self)
			locked = true
			lockErr = self.TestCancel()
			m.Unlock(self)
		})

		// a blocked holder cannot inherit the waiter's CPU
		block(t, self, holder.ID())
		block(t, self, waiter.ID())

		state, flags, _ := waiter.Waiting()
		assert.Equal(t, WaitSleeping, state)
		assert.Equal(t, WaitMutex, flags)

		assert.NoError(t, rt.Cancel(waiter.ID()))
		_, err := self.Recv(0)
		assert.ErrorIs(t, err, ErrWouldBlock)

		assert.True(t, rt.Wakeup(holder.ID()))
		expectMsg(t, self, 0, schedmsg.KindUnblock, holder.ID())

		// the holder releases, handing over the mutex
		status, msg, err := self.DonateWaitRecv(holder.ID(), WakeupOnBlock, 0)
		assert.NoError(t, err)
		assert.Equal(t, StatusBlocked|StatusMessageReceived, status)
		assert.Equal(t, schedmsg.KindUnblock, msg.Kind)
		assert.Equal(t, waiter.ID(), msg.Target)
		expectMsg(t, self, 0, schedmsg.KindExited, holder.ID())
		finish(t, self, waiter.ID())
	})
	assert.True(t, locked)
	assert.ErrorIs(t, lockErr, ErrCanceled)
	assert.Nil(t, m.Owner())
}

func TestRuntime_Cancel_exitedOrUnknown(t *testing.T) {
	runThreads(t, func(self *Thread) {
		rt := self.Runtime()
		if !assert.NoError(t, self.BecomeScheduler(0)) {
			return
		}
		assert.ErrorIs(t, rt.Cancel(9999), ErrNoSuchThread)
		child := spawn(t, self, nil, func(*Thread) {})
		finish(t, self, child.ID())
		assert.NoError(t, rt.Cancel(child.ID()))
		assert.False(t, child.Canceled())
	})
}
