package osenv

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-cpuinherit/schedmsg"
	"github.com/joeycumines/go-cpuinherit/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fatalRecorder is a ManagerConfig.Fatal hook, that records errors.
type fatalRecorder struct {
	errs []error
}

func (x *fatalRecorder) fatal(err error) { x.errs = append(x.errs, err) }

func newManager(t *testing.T) (*LockManager, *fatalRecorder) {
	t.Helper()
	rt, err := threads.New()
	require.NoError(t, err)
	rec := new(fatalRecorder)
	mgr, err := NewLockManager(rt, &ManagerConfig{Fatal: rec.fatal})
	require.NoError(t, err)
	return mgr, rec
}

// run runs main as the root thread, which is made a scheduler.
func run(t *testing.T, mgr *LockManager, main func(self *threads.Thread)) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, mgr.Runtime().Run(ctx, func(self *threads.Thread) {
		if assert.NoError(t, self.BecomeScheduler(0)) {
			main(self)
		}
	}))
}

// schedule runs the calling scheduler's threads, in FIFO order, until n
// have exited.
func schedule(t *testing.T, self *threads.Thread, n int) {
	t.Helper()
	var ready []threads.ThreadID
	handle := func(msg schedmsg.Message) {
		switch msg.Kind {
		case schedmsg.KindNewThread, schedmsg.KindUnblock:
			ready = append(ready, msg.Target)
		case schedmsg.KindExited:
			n--
		}
	}
	for n > 0 {
		if len(ready) == 0 {
			msg, err := self.Recv(threads.Forever)
			if !assert.NoError(t, err) {
				return
			}
			handle(msg)
			continue
		}
		tid := ready[0]
		ready = ready[1:]
		status, msg, err := self.DonateWaitRecv(tid, threads.WakeupOnSwitch, 0)
		if !assert.NoError(t, err) {
			return
		}
		if status.MessageReceived() {
			handle(msg)
		}
		if p := status.Primary(); p == threads.StatusYielded || p == threads.StatusPreempted {
			ready = append(ready, tid)
		}
	}
}

func TestNewLockManager_nilRuntime(t *testing.T) {
	_, err := NewLockManager(nil, nil)
	assert.Error(t, err)
}

func TestLock_refCount(t *testing.T) {
	const n = 5
	mgr, rec := newManager(t)

	l, err := mgr.AllocateLock(false)
	require.NoError(t, err)
	c, err := mgr.AllocateCondvar()
	require.NoError(t, err)
	locks, conds := mgr.Live()
	assert.Equal(t, 1, locks)
	assert.Equal(t, 1, conds)

	for range n {
		l.AddRef()
		c.AddRef()
	}
	for range n {
		l.Release()
		c.Release()
	}
	locks, conds = mgr.Live()
	assert.Equal(t, 1, locks)
	assert.Equal(t, 1, conds)
	l.Release()
	c.Release()
	locks, conds = mgr.Live()
	assert.Zero(t, locks)
	assert.Zero(t, conds)
	assert.Empty(t, rec.errs)

	l.Release()
	c.Release()
	l.AddRef()
	l.Lock()
	c.Signal()
	assert.ErrorIs(t, c.Wait(l), ErrFreed)

	require.Len(t, rec.errs, 6)
	assert.ErrorIs(t, rec.errs[0], ErrOverRelease)
	assert.ErrorIs(t, rec.errs[1], ErrOverRelease)
	for _, err := range rec.errs[2:] {
		assert.ErrorIs(t, err, ErrFreed)
	}
	locks, conds = mgr.Live()
	assert.Zero(t, locks)
	assert.Zero(t, conds)
	assert.NoError(t, mgr.Close())
}

func TestLock_Release_panicsByDefault(t *testing.T) {
	rt, err := threads.New()
	require.NoError(t, err)
	mgr, err := NewLockManager(rt, nil)
	require.NoError(t, err)
	l, err := mgr.AllocateLock(true)
	require.NoError(t, err)
	l.Release()
	assert.PanicsWithError(t, `osenv: released too many times: lock`, l.Release)
}

func TestLockManager_Close(t *testing.T) {
	mgr, _ := newManager(t)
	l, err := mgr.AllocateLock(false)
	require.NoError(t, err)
	_, err = mgr.AllocateCondvar()
	require.NoError(t, err)
	_, err = mgr.AllocateCondvar()
	require.NoError(t, err)
	l.Release()

	err = mgr.Close()
	assert.ErrorIs(t, err, ErrLeaked)
	assert.EqualError(t, err, `osenv: objects leaked: 0 locks, 2 condvars`)
	assert.ErrorIs(t, mgr.Close(), ErrClosed)
	_, err = mgr.AllocateLock(false)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = mgr.AllocateCondvar()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLock_notThread(t *testing.T) {
	mgr, rec := newManager(t)
	l, err := mgr.AllocateLock(false)
	require.NoError(t, err)
	l.Lock()
	assert.False(t, l.TryLock())
	l.Unlock()
	require.Len(t, rec.errs, 3)
	for _, err := range rec.errs {
		assert.True(t, errors.Is(err, ErrNotThread), `%v`, err)
	}
}

// A critical lock excludes interrupt handlers, which run once it is
// released.
func TestLock_critical(t *testing.T) {
	mgr, rec := newManager(t)
	var ran atomic.Bool
	run(t, mgr, func(self *threads.Thread) {
		rt := self.Runtime()
		l, err := mgr.AllocateLock(true)
		if !assert.NoError(t, err) {
			return
		}
		defer l.Release()
		sr := mgr.NewSleepRecord()
		sr.Init()

		l.Lock()
		assert.True(t, rt.InterruptsDisabled())
		assert.NoError(t, rt.RaiseInterrupt(func() {
			ran.Store(true)
			sr.Wakeup(SleepWakeup)
		}))
		time.Sleep(30 * time.Millisecond)
		assert.False(t, ran.Load())
		l.Unlock()
		assert.False(t, rt.InterruptsDisabled())

		assert.Equal(t, SleepWakeup, sr.Sleep())
		assert.True(t, ran.Load())

		// nested with an outer disable
		prev := rt.DisableInterrupts()
		assert.True(t, l.TryLock())
		assert.True(t, rt.InterruptsDisabled())
		l.Unlock()
		assert.True(t, rt.InterruptsDisabled())
		rt.RestoreInterrupts(prev)
		assert.False(t, rt.InterruptsDisabled())
	})
	assert.Empty(t, rec.errs)
	locks, _ := mgr.Live()
	assert.Zero(t, locks)
}

func TestLock_nonCritical(t *testing.T) {
	mgr, _ := newManager(t)
	run(t, mgr, func(self *threads.Thread) {
		l, err := mgr.AllocateLock(false)
		if !assert.NoError(t, err) {
			return
		}
		assert.False(t, l.Critical())
		l.Lock()
		assert.False(t, self.Runtime().InterruptsDisabled())
		l.Unlock()
		l.Release()
	})
}

func TestCondvar_producerConsumer(t *testing.T) {
	const items = 5
	mgr, rec := newManager(t)
	var (
		queue    []int
		consumed []int
	)
	run(t, mgr, func(self *threads.Thread) {
		l, err := mgr.AllocateLock(true)
		if !assert.NoError(t, err) {
			return
		}
		notEmpty, err := mgr.AllocateCondvar()
		if !assert.NoError(t, err) {
			return
		}
		_, err = self.Create(nil, func(self *threads.Thread) {
			for len(consumed) < items {
				l.Lock()
				for len(queue) == 0 {
					assert.NoError(t, notEmpty.Wait(l))
				}
				assert.True(t, self.Runtime().InterruptsDisabled())
				consumed = append(consumed, queue[0])
				queue = queue[1:]
				l.Unlock()
			}
		})
		assert.NoError(t, err)
		_, err = self.Create(nil, func(self *threads.Thread) {
			for i := range items {
				l.Lock()
				queue = append(queue, i)
				notEmpty.Signal()
				l.Unlock()
				self.Yield()
			}
		})
		assert.NoError(t, err)
		schedule(t, self, 2)
		l.Release()
		notEmpty.Release()
	})
	assert.Empty(t, rec.errs)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, consumed)
	assert.NoError(t, mgr.Close())
}

func TestCondvar_TimedWait(t *testing.T) {
	mgr, _ := newManager(t)
	var (
		waitErr  error
		disabled bool
	)
	run(t, mgr, func(self *threads.Thread) {
		l, err := mgr.AllocateLock(true)
		if !assert.NoError(t, err) {
			return
		}
		c, err := mgr.AllocateCondvar()
		if !assert.NoError(t, err) {
			return
		}
		_, err = self.Create(nil, func(self *threads.Thread) {
			l.Lock()
			waitErr = c.TimedWait(l, 20*time.Millisecond)
			disabled = self.Runtime().InterruptsDisabled()
			l.Unlock()
		})
		assert.NoError(t, err)
		schedule(t, self, 1)
		l.Release()
		c.Release()
	})
	assert.ErrorIs(t, waitErr, threads.ErrTimedOut)
	assert.True(t, disabled)
}

func TestSleepRecord(t *testing.T) {
	mgr, _ := newManager(t)
	var statuses []SleepStatus
	run(t, mgr, func(self *threads.Thread) {
		rt := self.Runtime()
		sr := mgr.NewSleepRecord()
		child, err := self.Create(nil, func(self *threads.Thread) {
			sr.Init()
			statuses = append(statuses, sr.Sleep())

			// woken before sleeping
			sr.Init()
			sr.Wakeup(SleepCanceled + 1)
			statuses = append(statuses, sr.Sleep())

			sr.Init()
			statuses = append(statuses, sr.Sleep())
		})
		if !assert.NoError(t, err) {
			return
		}
		// the first sleep is woken by an interrupt, the last by cancellation
		_, err = self.Recv(0)
		assert.NoError(t, err)
		status, _, err := self.DonateWaitRecv(child.ID(), threads.WakeupOnBlock, 0)
		assert.NoError(t, err)
		assert.Equal(t, threads.StatusBlocked, status)

		// spurious
		assert.True(t, rt.Wakeup(child.ID()))
		_, err = self.Recv(0)
		assert.NoError(t, err)
		status, _, err = self.DonateWaitRecv(child.ID(), threads.WakeupOnBlock, 0)
		assert.NoError(t, err)
		assert.Equal(t, threads.StatusBlocked, status)

		assert.NoError(t, rt.RaiseInterrupt(func() { sr.Wakeup(SleepWakeup) }))
		_, err = self.Recv(threads.Forever)
		assert.NoError(t, err)
		status, _, err = self.DonateWaitRecv(child.ID(), threads.WakeupOnBlock, 0)
		assert.NoError(t, err)
		assert.Equal(t, threads.StatusBlocked, status)

		assert.NoError(t, rt.Cancel(child.ID()))
		_, err = self.Recv(0)
		assert.NoError(t, err)
		status, _, err = self.DonateWaitRecv(child.ID(), threads.WakeupOnBlock, 0)
		assert.NoError(t, err)
		assert.Equal(t, threads.StatusBlocked|threads.StatusMessageReceived, status)
	})
	assert.Equal(t, []SleepStatus{SleepWakeup, SleepCanceled + 1, SleepCanceled}, statuses)
	assert.Equal(t, `canceled`, SleepCanceled.String())
}
