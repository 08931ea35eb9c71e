// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package minisocket

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// Defaults, in ticks where applicable.
const (
	DefaultInitialTimeout = 100
	DefaultMaxTimeout     = 6400
	DefaultMaxPayload     = 4096
)

// DefaultResetLimits bounds how often FIN is sent in reply to packets for
// unknown ports, per remote node.
var DefaultResetLimits = map[time.Duration]int{
	time.Second: 16,
}

type socketsOptions struct {
	logger         *logiface.Logger[logiface.Event]
	resetLimits    map[time.Duration]int
	initialTimeout uint64
	maxTimeout     uint64
	maxPayload     int
}

// Option configures Sockets.
type Option interface {
	applySockets(*socketsOptions) error
}

type optionImpl struct {
	applySocketsFunc func(*socketsOptions) error
}

func (o *optionImpl) applySockets(opts *socketsOptions) error {
	return o.applySocketsFunc(opts)
}

// WithLogger sets the logger, which may be nil.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *socketsOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithInitialTimeout sets the retransmission timeout, in ticks, for the
// first attempt to send each packet.
func WithInitialTimeout(ticks uint64) Option {
	return &optionImpl{func(opts *socketsOptions) error {
		if ticks == 0 {
			return fmt.Errorf("%w: initial timeout must be positive", ErrInvalidParameter)
		}
		opts.initialTimeout = ticks
		return nil
	}}
}

// WithMaxTimeout sets the retransmission timeout ceiling, in ticks. A packet
// is abandoned once the doubled timeout would exceed it.
func WithMaxTimeout(ticks uint64) Option {
	return &optionImpl{func(opts *socketsOptions) error {
		opts.maxTimeout = ticks
		return nil
	}}
}

// WithMaxPayload sets the largest payload per packet, above which Send
// fragments.
func WithMaxPayload(n int) Option {
	return &optionImpl{func(opts *socketsOptions) error {
		if n <= 0 {
			return fmt.Errorf("%w: max payload must be positive", ErrInvalidParameter)
		}
		opts.maxPayload = n
		return nil
	}}
}

// WithResetLimits sets the rates at which FIN is sent in reply to packets
// for unknown ports, see catrate.NewLimiter. A nil or empty map disables
// the limit.
func WithResetLimits(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *socketsOptions) error {
		opts.resetLimits = rates
		return nil
	}}
}

func resolveOptions(opts []Option) (*socketsOptions, error) {
	cfg := &socketsOptions{
		resetLimits:    DefaultResetLimits,
		initialTimeout: DefaultInitialTimeout,
		maxTimeout:     DefaultMaxTimeout,
		maxPayload:     DefaultMaxPayload,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySockets(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.maxTimeout < cfg.initialTimeout {
		return nil, fmt.Errorf("%w: max timeout less than initial timeout", ErrInvalidParameter)
	}
	return cfg, nil
}
