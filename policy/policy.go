// Package policy implements schedulers, as threads, which govern other
// threads by donating their CPU time, per a pluggable Policy.
package policy

import (
	"errors"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-cpuinherit/schedmsg"
	"github.com/joeycumines/go-cpuinherit/threads"
	"github.com/joeycumines/logiface"
)

type (
	// Policy selects which of a scheduler's ready threads runs next. It is
	// only accessed by the scheduler thread, and need not be safe for
	// concurrent use.
	Policy interface {
		// Admit registers a new thread, from a KindNewThread message, which
		// carries the creation opaque value, and the thread's priority.
		Admit(tid threads.ThreadID, opaque, priority uint64)
		// Update applies a KindSetState message.
		Update(tid threads.ThreadID, opaque uint64)
		// Remove forgets an exited thread.
		Remove(tid threads.ThreadID)
		// Ready marks an admitted thread as runnable. Preempted threads are
		// readied with front set, to keep their place.
		Ready(tid threads.ThreadID, front bool)
		// Next removes and returns the next thread to run, if any.
		Next() (threads.ThreadID, bool)
	}

	// Config models optional configuration, for Run.
	Config struct {
		// Logger is used for structured logging, and may be nil, which
		// disables logging.
		Logger *logiface.Logger[logiface.Event]

		// WarnRates limits warnings about threads that could not be run, per
		// thread, see catrate.NewLimiter, which panics if the rates are
		// invalid. Defaults to one per second.
		WarnRates map[time.Duration]int

		// Quantum bounds each donation, if positive. Defaults to 0 (none).
		Quantum time.Duration

		// QueueCapacity is passed to BecomeScheduler, if the calling thread
		// is not already a scheduler. Defaults to 0 (the runtime default).
		QueueCapacity int

		// Condition is the WakeupCondition used for each donation. Defaults
		// to threads.WakeupAlways.
		Condition threads.WakeupCondition

		// ExitWhenIdle causes Run to return nil once every thread it governs
		// has exited.
		ExitWhenIdle bool
	}

	scheduler struct {
		self    *threads.Thread
		policy  Policy
		logger  *logiface.Logger[logiface.Event]
		warn    *catrate.Limiter
		managed map[threads.ThreadID]struct{}
		cfg     Config
	}
)

// Run makes the calling thread a scheduler, then schedules the threads it
// governs using p, until it is canceled (returning threads.ErrCanceled), or
// if ExitWhenIdle is set, until no governed threads remain. A nil config
// uses the defaults.
func Run(self *threads.Thread, p Policy, config *Config) error {
	if p == nil {
		return errors.New(`policy: nil policy`)
	}
	var cfg Config
	if config != nil {
		cfg = *config
	}
	if cfg.Condition == 0 {
		cfg.Condition = threads.WakeupAlways
	}
	if !cfg.Condition.Valid() {
		return threads.ErrInvalidCondition
	}
	if cfg.WarnRates == nil {
		cfg.WarnRates = map[time.Duration]int{time.Second: 1}
	}

	if !self.IsScheduler() {
		if err := self.BecomeScheduler(cfg.QueueCapacity); err != nil {
			return err
		}
	}

	s := &scheduler{
		self:    self,
		policy:  p,
		logger:  cfg.Logger,
		warn:    catrate.NewLimiter(cfg.WarnRates),
		managed: make(map[threads.ThreadID]struct{}),
		cfg:     cfg,
	}

	s.logger.Debug().
		Uint64(`tid`, uint64(self.ID())).
		Stringer(`cond`, cfg.Condition).
		Dur(`quantum`, cfg.Quantum).
		Log(`policy: scheduler started`)

	return s.run()
}

func (x *scheduler) run() error {
	for {
		if err := x.drain(); err != nil {
			return err
		}

		tid, ok := x.policy.Next()
		if !ok {
			if x.cfg.ExitWhenIdle && len(x.managed) == 0 {
				x.logger.Debug().
					Uint64(`tid`, uint64(x.self.ID())).
					Log(`policy: scheduler idle`)
				return nil
			}
			msg, err := x.self.Recv(threads.Forever)
			if err != nil {
				return err
			}
			x.handle(msg)
			continue
		}

		status, msg, err := x.self.DonateWaitRecv(tid, x.cfg.Condition, x.cfg.Quantum)
		if err != nil {
			return err
		}
		if status.MessageReceived() {
			x.handle(msg)
		}

		x.logger.Trace().
			Uint64(`tid`, uint64(tid)).
			Stringer(`status`, status).
			Limit().
			Log(`policy: donation returned`)

		switch status.Primary() {
		case threads.StatusPreempted:
			x.ready(tid, true)
		case threads.StatusYielded, threads.StatusTimedOut:
			x.ready(tid, false)
		case threads.StatusNotReady:
			if _, ok := x.warn.Allow(tid); ok {
				x.logger.Warning().
					Uint64(`tid`, uint64(tid)).
					Log(`policy: selected thread not ready`)
			}
		}
	}
}

// drain handles every queued message, without blocking.
func (x *scheduler) drain() error {
	for {
		msg, err := x.self.Recv(0)
		if errors.Is(err, threads.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return err
		}
		x.handle(msg)
	}
}

func (x *scheduler) handle(msg schedmsg.Message) {
	switch msg.Kind {
	case schedmsg.KindNewThread:
		x.managed[msg.Target] = struct{}{}
		x.policy.Admit(msg.Target, msg.Opaque, msg.Opaque2)
		x.policy.Ready(msg.Target, false)
	case schedmsg.KindUnblock:
		x.ready(msg.Target, false)
	case schedmsg.KindSetState:
		if _, ok := x.managed[msg.Target]; ok {
			x.policy.Update(msg.Target, msg.Opaque)
		}
	case schedmsg.KindExited:
		if _, ok := x.managed[msg.Target]; ok {
			delete(x.managed, msg.Target)
			x.policy.Remove(msg.Target)
		}
	default:
		x.logger.Warning().
			Stringer(`msg`, msg).
			Log(`policy: unexpected message`)
	}
}

func (x *scheduler) ready(tid threads.ThreadID, front bool) {
	if _, ok := x.managed[tid]; !ok {
		x.logger.Debug().
			Uint64(`tid`, uint64(tid)).
			Log(`policy: ignoring unmanaged thread`)
		return
	}
	x.policy.Ready(tid, front)
}
