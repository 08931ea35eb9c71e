// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kernel

import (
	"github.com/joeycumines/go-minithreads/miniroute"
	"github.com/joeycumines/go-minithreads/minimsg"
	"github.com/joeycumines/go-minithreads/minisocket"
	"github.com/joeycumines/go-minithreads/minithread"
	"github.com/joeycumines/go-minithreads/network"
	"github.com/joeycumines/logiface"
)

type kernelOptions struct {
	logger  *logiface.Logger[logiface.Event]
	pump    *network.PumpConfig
	system  []minithread.Option
	router  []miniroute.Option
	ports   []minimsg.Option
	sockets []minisocket.Option
	routing bool
}

// Option configures a Kernel.
type Option interface {
	applyKernel(*kernelOptions) error
}

type optionImpl struct {
	applyKernelFunc func(*kernelOptions) error
}

func (o *optionImpl) applyKernel(opts *kernelOptions) error {
	return o.applyKernelFunc(opts)
}

// WithLogger sets the logger of every layer, unless overridden by that
// layer's own options.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithRouting enables multi-hop routing. Otherwise, packets are sent
// directly to their destination.
func WithRouting(enabled bool) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.routing = enabled
		return nil
	}}
}

// WithPumpConfig configures how arrived packets are batched into
// interrupts.
func WithPumpConfig(cfg *network.PumpConfig) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.pump = cfg
		return nil
	}}
}

// WithSystemOptions appends options for the minithread.System.
func WithSystemOptions(o ...minithread.Option) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.system = append(opts.system, o...)
		return nil
	}}
}

// WithRouterOptions appends options for the miniroute.Router, used only if
// routing is enabled.
func WithRouterOptions(o ...miniroute.Option) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.router = append(opts.router, o...)
		return nil
	}}
}

// WithPortOptions appends options for the minimsg.Ports.
func WithPortOptions(o ...minimsg.Option) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.ports = append(opts.ports, o...)
		return nil
	}}
}

// WithSocketOptions appends options for the minisocket.Sockets.
func WithSocketOptions(o ...minisocket.Option) Option {
	return &optionImpl{func(opts *kernelOptions) error {
		opts.sockets = append(opts.sockets, o...)
		return nil
	}}
}

func resolveOptions(opts []Option) (*kernelOptions, error) {
	cfg := &kernelOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyKernel(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
