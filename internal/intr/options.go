// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package intr

import (
	"github.com/joeycumines/logiface"
)

// controllerOptions holds configuration options for Controller creation.
type controllerOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// Option configures a Controller instance.
type Option interface {
	applyController(*controllerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyControllerFunc func(*controllerOptions) error
}

func (o *optionImpl) applyController(opts *controllerOptions) error {
	return o.applyControllerFunc(opts)
}

// WithLogger configures the logger used to report handler failures.
// A nil logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *controllerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances to controllerOptions.
func resolveOptions(opts []Option) (*controllerOptions, error) {
	cfg := &controllerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyController(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
