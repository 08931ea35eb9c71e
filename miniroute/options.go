// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package miniroute

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-minithreads/network"
	"github.com/joeycumines/logiface"
)

// Defaults, in ticks where applicable.
const (
	DefaultDiscoveryTimeout = 12000
	DefaultDiscoveryRetries = 3
	DefaultStaleness        = 3000
	DefaultMaxRouteLength   = 20
)

// DefaultRebroadcastLimits bounds how often a node rebroadcasts discovery
// requests from any one origin.
var DefaultRebroadcastLimits = map[time.Duration]int{
	time.Second: 32,
	time.Minute: 600,
}

type routerOptions struct {
	logger            *logiface.Logger[logiface.Event]
	nodeAddr          network.Addr
	rebroadcastLimits map[time.Duration]int
	discoveryTimeout  uint64
	staleness         uint64
	purgeInterval     uint64
	discoveryRetries  int
	maxRouteLength    int
}

// Option configures a Router.
type Option interface {
	applyRouter(*routerOptions) error
}

type optionImpl struct {
	applyRouterFunc func(*routerOptions) error
}

func (o *optionImpl) applyRouter(opts *routerOptions) error {
	return o.applyRouterFunc(opts)
}

// WithLogger sets the logger, which may be nil.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *routerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithNodeAddr sets the address identifying this node in routes, which
// other nodes must be able to reach through the transport. It defaults to
// the transport's local address, which must then be a specific (not
// wildcard) address.
func WithNodeAddr(addr network.Addr) Option {
	return &optionImpl{func(opts *routerOptions) error {
		if !routable(addr) {
			return fmt.Errorf("%w: node address %v is not routable", ErrInvalidParameter, addr)
		}
		opts.nodeAddr = addr
		return nil
	}}
}

func routable(addr network.Addr) bool {
	return addr.IsValid() && !addr.Addr().IsUnspecified()
}

// WithDiscoveryTimeout sets the number of ticks to wait for a reply to each
// discovery request.
func WithDiscoveryTimeout(ticks uint64) Option {
	return &optionImpl{func(opts *routerOptions) error {
		if ticks == 0 {
			return fmt.Errorf("%w: discovery timeout must be positive", ErrInvalidParameter)
		}
		opts.discoveryTimeout = ticks
		return nil
	}}
}

// WithDiscoveryRetries sets the number of discovery requests sent before
// giving up on a destination.
func WithDiscoveryRetries(n int) Option {
	return &optionImpl{func(opts *routerOptions) error {
		if n <= 0 {
			return fmt.Errorf("%w: discovery retries must be positive", ErrInvalidParameter)
		}
		opts.discoveryRetries = n
		return nil
	}}
}

// WithStaleness sets the age, in ticks, beyond which a cached route is
// rediscovered.
func WithStaleness(ticks uint64) Option {
	return &optionImpl{func(opts *routerOptions) error {
		opts.staleness = ticks
		return nil
	}}
}

// WithMaxRouteLength sets the maximum number of nodes in a route, including
// both ends, which is also the initial time to live of each packet.
func WithMaxRouteLength(n int) Option {
	return &optionImpl{func(opts *routerOptions) error {
		if n < 2 {
			return fmt.Errorf("%w: max route length must be at least 2", ErrInvalidParameter)
		}
		opts.maxRouteLength = n
		return nil
	}}
}

// WithRebroadcastLimits sets the rates at which discovery requests from any
// one origin are rebroadcast, see catrate.NewLimiter. A nil or empty map
// disables the limit.
func WithRebroadcastLimits(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *routerOptions) error {
		opts.rebroadcastLimits = rates
		return nil
	}}
}

// WithPurgeInterval enables an active purge of stale routes every interval
// ticks. Stale routes are never used in any case. Disabled by default.
func WithPurgeInterval(ticks uint64) Option {
	return &optionImpl{func(opts *routerOptions) error {
		opts.purgeInterval = ticks
		return nil
	}}
}

func resolveOptions(opts []Option) (*routerOptions, error) {
	cfg := &routerOptions{
		rebroadcastLimits: DefaultRebroadcastLimits,
		discoveryTimeout:  DefaultDiscoveryTimeout,
		discoveryRetries:  DefaultDiscoveryRetries,
		staleness:         DefaultStaleness,
		maxRouteLength:    DefaultMaxRouteLength,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRouter(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
