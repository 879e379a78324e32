// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package threads

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-cpuinherit/schedmsg"
	"github.com/joeycumines/logiface"
)

// DefaultQueueCapacity is the message queue capacity used by
// BecomeScheduler, unless configured otherwise.
const DefaultQueueCapacity = 64

// runtimeOptions holds configuration options for Runtime creation.
type runtimeOptions struct {
	logger        *logiface.Logger[logiface.Event]
	queueCapacity int
	tick          time.Duration
}

// Option configures a Runtime instance.
type Option interface {
	applyRuntime(*runtimeOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRuntimeFunc func(*runtimeOptions) error
}

func (o *optionImpl) applyRuntime(opts *runtimeOptions) error {
	return o.applyRuntimeFunc(opts)
}

// WithLogger configures structured logging, for both the runtime, and its
// interrupt dispatcher. A nil logger (the default) disables logging.
//
// Some high volume debug messages are rate limited, by category, if the
// logger was configured with category rate limits.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithQueueCapacity sets the default capacity of scheduler message queues,
// used when BecomeScheduler is passed 0. Defaults to DefaultQueueCapacity.
func WithQueueCapacity(capacity int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if capacity <= 0 || capacity > schedmsg.MaxCapacity {
			return fmt.Errorf(`threads: invalid queue capacity: %d`, capacity)
		}
		opts.queueCapacity = capacity
		return nil
	}}
}

// WithPreemptionTick enables a periodic clock interrupt, which calls
// Runtime.Preempt. Disabled by default.
func WithPreemptionTick(interval time.Duration) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if interval < 0 {
			return fmt.Errorf(`threads: invalid preemption tick: %s`, interval)
		}
		opts.tick = interval
		return nil
	}}
}

// resolveOptions applies Option instances to runtimeOptions.
func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		queueCapacity: DefaultQueueCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
