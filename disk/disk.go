package disk

import (
	"cmp"
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/joeycumines/go-microbatch"
	"github.com/joeycumines/go-minithreads/minithread"
	"github.com/joeycumines/logiface"
)

var (
	// ErrInvalidParameter indicates a block number out of range, or a
	// buffer of the wrong size.
	ErrInvalidParameter = errors.New("disk: invalid parameter")

	// ErrClosed indicates a request to a closed Disk.
	ErrClosed = errors.New("disk: closed")
)

// Device is the backing storage of a Disk, addressed in bytes.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// NewFileDevice opens, or creates, the named file as a Device of at least
// size bytes.
func NewFileDevice(name string, size int64) (*os.File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err == nil && info.Size() < size {
		err = f.Truncate(size)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// Stats counts disk events.
type Stats struct {
	Reads     uint64
	Writes    uint64
	CacheHits uint64
	Batches   uint64
}

type opKind int

const (
	opRead opKind = iota
	opWrite
)

type request struct {
	err   error
	done  *minithread.Semaphore
	buf   []byte
	block int
	op    opKind
}

// Disk is a block device. ReadBlock and WriteBlock must be called by a
// running minithread.
type Disk struct {
	sys     *minithread.System
	dev     Device
	log     *logiface.Logger[logiface.Event]
	batcher *microbatch.Batcher[*request]
	cache   *Cache
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	blockSize int
	blocks    int
	stats     Stats
}

// New creates a Disk of the given number of blocks, backed by dev. Close
// must be called to stop the worker.
func New(sys *minithread.System, dev Device, blocks int, opts ...Option) (*Disk, error) {
	if sys == nil || dev == nil || blocks <= 0 {
		return nil, ErrInvalidParameter
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	x := &Disk{
		sys:       sys,
		dev:       dev,
		log:       cfg.logger,
		blockSize: cfg.blockSize,
		blocks:    blocks,
	}
	if cfg.cacheSize > 0 {
		x.cache = NewCache(cfg.cacheSize)
	}
	x.ctx, x.cancel = context.WithCancel(context.Background())
	x.batcher = microbatch.NewBatcher(cfg.batch, x.process)
	return x, nil
}

// BlockSize returns the size of a block, in bytes.
func (x *Disk) BlockSize() int {
	return x.blockSize
}

// Blocks returns the number of blocks.
func (x *Disk) Blocks() int {
	return x.blocks
}

// Stats returns a snapshot of the counters.
func (x *Disk) Stats() Stats {
	prev := x.sys.DisableInterrupts()
	defer x.sys.RestoreInterrupts(prev)
	return x.stats
}

// ReadBlock reads block into buf, which must be exactly one block long.
func (x *Disk) ReadBlock(block int, buf []byte) error {
	if err := x.check(block, buf); err != nil {
		return err
	}
	if x.cache != nil {
		prev := x.sys.DisableInterrupts()
		data, ok := x.cache.Get(block)
		if ok {
			copy(buf, data)
			x.stats.CacheHits++
		}
		x.sys.RestoreInterrupts(prev)
		if ok {
			return nil
		}
	}

	req := x.do(opRead, block, make([]byte, x.blockSize))
	if req.err != nil {
		return req.err
	}
	copy(buf, req.buf)
	if x.cache != nil {
		prev := x.sys.DisableInterrupts()
		x.cache.Put(block, req.buf)
		x.sys.RestoreInterrupts(prev)
	}
	return nil
}

// WriteBlock writes buf, which must be exactly one block long, to block.
// The cache is updated only once the write succeeds.
func (x *Disk) WriteBlock(block int, buf []byte) error {
	if err := x.check(block, buf); err != nil {
		return err
	}
	req := x.do(opWrite, block, slices.Clone(buf))
	if x.cache != nil {
		prev := x.sys.DisableInterrupts()
		if req.err == nil {
			x.cache.Put(block, req.buf)
		} else {
			x.cache.Remove(block)
		}
		x.sys.RestoreInterrupts(prev)
	}
	return req.err
}

// Close stops the worker, after servicing requests already submitted.
// Subsequent requests fail with ErrClosed.
func (x *Disk) Close() error {
	x.cancel()
	x.wg.Wait()
	return x.batcher.Shutdown(context.Background())
}

func (x *Disk) check(block int, buf []byte) error {
	if block < 0 || block >= x.blocks || len(buf) != x.blockSize {
		return ErrInvalidParameter
	}
	return nil
}

// do submits a request, and blocks the calling minithread until its
// completion interrupt.
func (x *Disk) do(op opKind, block int, buf []byte) *request {
	req := &request{
		op:    op,
		block: block,
		buf:   buf,
		done:  x.sys.NewSemaphore(0),
	}
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		if _, err := x.batcher.Submit(x.ctx, req); err != nil {
			req.err = ErrClosed
			x.sys.Interrupt(req.done.V)
		}
	}()
	req.done.P()
	return req
}

// process services a batch in block order, then posts one completion
// interrupt for the whole batch.
func (x *Disk) process(_ context.Context, reqs []*request) error {
	slices.SortStableFunc(reqs, func(a, b *request) int {
		return cmp.Compare(a.block, b.block)
	})
	var reads, writes uint64
	for _, req := range reqs {
		off := int64(req.block) * int64(x.blockSize)
		switch req.op {
		case opRead:
			reads++
			var n int
			n, req.err = x.dev.ReadAt(req.buf, off)
			if errors.Is(req.err, io.EOF) {
				// never written
				clear(req.buf[n:])
				req.err = nil
			}
		case opWrite:
			writes++
			_, req.err = x.dev.WriteAt(req.buf, off)
		}
		if req.err != nil {
			x.log.Warning().
				Err(req.err).
				Int("block", req.block).
				Log("disk: request failed")
		}
	}
	x.sys.Interrupt(func() {
		x.stats.Batches++
		x.stats.Reads += reads
		x.stats.Writes += writes
		for _, req := range reqs {
			req.done.V()
		}
	})
	return nil
}
