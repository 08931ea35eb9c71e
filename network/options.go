// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package network

import (
	"github.com/joeycumines/logiface"
)

// udpOptions holds configuration options for UDPTransport creation.
type udpOptions struct {
	logger    *logiface.Logger[logiface.Event]
	peers     []Addr
	queueSize int
}

// UDPOption configures a UDPTransport.
type UDPOption interface {
	applyUDP(*udpOptions) error
}

// udpOptionImpl implements UDPOption.
type udpOptionImpl struct {
	applyUDPFunc func(*udpOptions) error
}

func (o *udpOptionImpl) applyUDP(opts *udpOptions) error {
	return o.applyUDPFunc(opts)
}

// WithLogger sets the logger, which may be nil.
func WithLogger(logger *logiface.Logger[logiface.Event]) UDPOption {
	return &udpOptionImpl{func(opts *udpOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithBroadcastPeers sets the nodes Broadcast sends to. The addresses may
// include a subnet broadcast address.
func WithBroadcastPeers(peers ...Addr) UDPOption {
	return &udpOptionImpl{func(opts *udpOptions) error {
		opts.peers = append([]Addr(nil), peers...)
		return nil
	}}
}

// WithQueueSize sets the number of arrived packets buffered before further
// arrivals are dropped. Defaults to 256.
func WithQueueSize(n int) UDPOption {
	return &udpOptionImpl{func(opts *udpOptions) error {
		if n <= 0 {
			return errInvalidQueueSize
		}
		opts.queueSize = n
		return nil
	}}
}

func resolveUDPOptions(opts []UDPOption) (*udpOptions, error) {
	cfg := &udpOptions{
		queueSize: 256,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyUDP(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
