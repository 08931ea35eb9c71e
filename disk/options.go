// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package disk

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-microbatch"
	"github.com/joeycumines/logiface"
)

// DefaultBlockSize is the size, in bytes, of a block.
const DefaultBlockSize = 4096

type diskOptions struct {
	logger    *logiface.Logger[logiface.Event]
	batch     *microbatch.BatcherConfig
	blockSize int
	cacheSize int
}

// Option configures a Disk.
type Option interface {
	applyDisk(*diskOptions) error
}

type optionImpl struct {
	applyDiskFunc func(*diskOptions) error
}

func (o *optionImpl) applyDisk(opts *diskOptions) error {
	return o.applyDiskFunc(opts)
}

// WithLogger sets the logger, which may be nil.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *diskOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithBlockSize sets the block size, in bytes.
func WithBlockSize(n int) Option {
	return &optionImpl{func(opts *diskOptions) error {
		if n <= 0 {
			return fmt.Errorf("%w: block size must be positive", ErrInvalidParameter)
		}
		opts.blockSize = n
		return nil
	}}
}

// WithCacheSize sets the number of cached blocks. Zero disables the cache.
func WithCacheSize(n int) Option {
	return &optionImpl{func(opts *diskOptions) error {
		if n < 0 {
			return fmt.Errorf("%w: negative cache size", ErrInvalidParameter)
		}
		opts.cacheSize = n
		return nil
	}}
}

// WithBatching configures how requests are grouped before they are serviced.
// A batch is serviced once it has maxSize requests, or flushInterval has
// elapsed since its first request.
func WithBatching(maxSize int, flushInterval time.Duration) Option {
	return &optionImpl{func(opts *diskOptions) error {
		if maxSize <= 0 && flushInterval <= 0 {
			return fmt.Errorf("%w: batching requires a max size or flush interval", ErrInvalidParameter)
		}
		opts.batch = &microbatch.BatcherConfig{
			MaxSize:       maxSize,
			FlushInterval: flushInterval,
		}
		if maxSize <= 0 {
			opts.batch.MaxSize = -1
		}
		if flushInterval <= 0 {
			opts.batch.FlushInterval = -1
		}
		return nil
	}}
}

func resolveOptions(opts []Option) (*diskOptions, error) {
	cfg := &diskOptions{
		blockSize: DefaultBlockSize,
		cacheSize: DefaultCacheSize,
		batch: &microbatch.BatcherConfig{
			MaxSize:       16,
			FlushInterval: time.Millisecond,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyDisk(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
