// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package minithread

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// Default scheduling parameters.
var (
	// DefaultQuanta is the number of ticks a thread runs before preemption,
	// indexed by feedback level.
	DefaultQuanta = []int{1, 2, 4, 8}

	// DefaultLevelWeights weights the level at which each ready queue search
	// starts, as percentages, indexed by feedback level.
	DefaultLevelWeights = []int{50, 25, 15, 10}
)

const (
	// DefaultReclaimThreshold is the finished-queue length above which a
	// reclamation thread is forked.
	DefaultReclaimThreshold = 10
)

// systemOptions holds configuration options for System creation.
type systemOptions struct {
	clock            Clock
	logger           *logiface.Logger[logiface.Event]
	quanta           []int
	weights          []int
	reclaimThreshold int
	maxThreads       int
	seed             uint64
	seeded           bool
	ownershipChecks  bool
}

// Option configures a System instance.
type Option interface {
	applySystem(*systemOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applySystemFunc func(*systemOptions) error
}

func (o *optionImpl) applySystem(opts *systemOptions) error {
	return o.applySystemFunc(opts)
}

// WithClock sets the source of clock interrupts. Defaults to a TickerClock
// with a period of DefaultTickPeriod.
func WithClock(clock Clock) Option {
	return &optionImpl{func(opts *systemOptions) error {
		if clock == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidParameter)
		}
		opts.clock = clock
		return nil
	}}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *systemOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithQuanta sets the per-level quantum lengths, in ticks. The number of
// feedback levels is len(quanta), and must match WithLevelWeights.
func WithQuanta(quanta ...int) Option {
	return &optionImpl{func(opts *systemOptions) error {
		if len(quanta) == 0 {
			return fmt.Errorf("%w: no quanta", ErrInvalidParameter)
		}
		for _, q := range quanta {
			if q <= 0 {
				return fmt.Errorf("%w: quantum %d", ErrInvalidParameter, q)
			}
		}
		opts.quanta = append([]int(nil), quanta...)
		return nil
	}}
}

// WithLevelWeights sets the relative weight of each feedback level, used to
// pick the level each ready queue search starts at.
func WithLevelWeights(weights ...int) Option {
	return &optionImpl{func(opts *systemOptions) error {
		var total int
		for _, w := range weights {
			if w < 0 {
				return fmt.Errorf("%w: weight %d", ErrInvalidParameter, w)
			}
			total += w
		}
		if total == 0 {
			return fmt.Errorf("%w: weights sum to zero", ErrInvalidParameter)
		}
		opts.weights = append([]int(nil), weights...)
		return nil
	}}
}

// WithReclaimThreshold sets the finished-queue length that triggers
// reclamation.
func WithReclaimThreshold(n int) Option {
	return &optionImpl{func(opts *systemOptions) error {
		if n < 0 {
			return fmt.Errorf("%w: reclaim threshold %d", ErrInvalidParameter, n)
		}
		opts.reclaimThreshold = n
		return nil
	}}
}

// WithMaxThreads limits the number of unreclaimed threads. Fork fails with
// ErrOutOfMemory at the limit. Zero means unlimited.
func WithMaxThreads(n int) Option {
	return &optionImpl{func(opts *systemOptions) error {
		if n < 0 {
			return fmt.Errorf("%w: max threads %d", ErrInvalidParameter, n)
		}
		opts.maxThreads = n
		return nil
	}}
}

// WithSeed seeds the random source used for level selection.
func WithSeed(seed uint64) Option {
	return &optionImpl{func(opts *systemOptions) error {
		opts.seed = seed
		opts.seeded = true
		return nil
	}}
}

// WithOwnershipChecks enables a (slow) check that blocking calls are made by
// the goroutine backing the running thread.
func WithOwnershipChecks(enabled bool) Option {
	return &optionImpl{func(opts *systemOptions) error {
		opts.ownershipChecks = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to systemOptions.
func resolveOptions(opts []Option) (*systemOptions, error) {
	cfg := &systemOptions{
		quanta:           DefaultQuanta,
		weights:          DefaultLevelWeights,
		reclaimThreshold: DefaultReclaimThreshold,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySystem(cfg); err != nil {
			return nil, err
		}
	}
	if len(cfg.quanta) != len(cfg.weights) {
		return nil, fmt.Errorf("%w: %d quanta but %d level weights", ErrInvalidParameter, len(cfg.quanta), len(cfg.weights))
	}
	if cfg.clock == nil {
		cfg.clock = NewTickerClock(DefaultTickPeriod)
	}
	return cfg, nil
}
