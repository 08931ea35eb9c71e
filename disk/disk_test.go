package disk

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/go-minithreads/minithread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 64

func newTestDisk(t *testing.T, blocks int, opts ...Option) (*minithread.System, *Disk) {
	t.Helper()
	sys, err := minithread.New(minithread.WithClock(minithread.NewManualClock(time.Millisecond)))
	require.NoError(t, err)
	dev, err := NewFileDevice(filepath.Join(t.TempDir(), "disk"), int64(blocks)*testBlockSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	d, err := New(sys, dev, blocks, append([]Option{WithBlockSize(testBlockSize)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return sys, d
}

func run(t *testing.T, sys *minithread.System, main func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sys.Run(ctx, main))
}

func block(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, testBlockSize)
}

func TestNew_invalid(t *testing.T) {
	sys, err := minithread.New()
	require.NoError(t, err)
	dev, err := NewFileDevice(filepath.Join(t.TempDir(), "disk"), 0)
	require.NoError(t, err)
	defer dev.Close()

	_, err = New(nil, dev, 1)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = New(sys, nil, 1)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = New(sys, dev, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	for _, opt := range []Option{
		WithBlockSize(0),
		WithCacheSize(-1),
		WithBatching(0, 0),
	} {
		_, err = New(sys, dev, 1, opt)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	}
}

func TestDisk_WriteBlock_ReadBlock(t *testing.T) {
	sys, d := newTestDisk(t, 4, WithCacheSize(0))
	run(t, sys, func() {
		require.NoError(t, d.WriteBlock(2, block('x')))

		buf := make([]byte, testBlockSize)
		require.NoError(t, d.ReadBlock(2, buf))
		assert.Equal(t, block('x'), buf)

		// never written
		require.NoError(t, d.ReadBlock(3, buf))
		assert.Equal(t, block(0), buf)

		stats := d.Stats()
		assert.Equal(t, uint64(1), stats.Writes)
		assert.Equal(t, uint64(2), stats.Reads)
		assert.Zero(t, stats.CacheHits)
	})
}

func TestDisk_ReadBlock_cached(t *testing.T) {
	sys, d := newTestDisk(t, 4)
	run(t, sys, func() {
		require.NoError(t, d.WriteBlock(1, block('a')))

		buf := make([]byte, testBlockSize)
		require.NoError(t, d.ReadBlock(1, buf))
		assert.Equal(t, block('a'), buf)

		// the cached copy is not aliased by the caller's buffer
		buf[0] = 'z'
		require.NoError(t, d.ReadBlock(1, buf))
		assert.Equal(t, block('a'), buf)

		stats := d.Stats()
		assert.Equal(t, uint64(2), stats.CacheHits)
		assert.Zero(t, stats.Reads)
	})
}

func TestDisk_invalid(t *testing.T) {
	sys, d := newTestDisk(t, 2)
	run(t, sys, func() {
		assert.ErrorIs(t, d.ReadBlock(-1, block(0)), ErrInvalidParameter)
		assert.ErrorIs(t, d.ReadBlock(2, block(0)), ErrInvalidParameter)
		assert.ErrorIs(t, d.WriteBlock(0, make([]byte, testBlockSize-1)), ErrInvalidParameter)
	})
}

func TestDisk_batchesConcurrentRequests(t *testing.T) {
	const threads = 8
	sys, d := newTestDisk(t, threads, WithBatching(threads, time.Hour))
	run(t, sys, func() {
		done := sys.NewSemaphore(0)
		errs := make([]error, threads)
		for i := range threads {
			_, err := sys.Fork(func() {
				defer done.V()
				errs[i] = d.WriteBlock(threads-1-i, block(byte('0'+i)))
			})
			require.NoError(t, err)
		}
		for range threads {
			done.P()
		}
		for _, err := range errs {
			assert.NoError(t, err)
		}
		stats := d.Stats()
		assert.Equal(t, uint64(1), stats.Batches)
		assert.Equal(t, uint64(threads), stats.Writes)
	})
}

func TestDisk_Close(t *testing.T) {
	sys, d := newTestDisk(t, 1)
	run(t, sys, func() {
		require.NoError(t, d.Close())
		assert.ErrorIs(t, d.WriteBlock(0, block(1)), ErrClosed)
	})
}

func TestCache_evictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)
	c.Put(1, []byte("one"))
	c.Put(2, []byte("two"))
	_, ok := c.Get(1)
	require.True(t, ok)
	c.Put(3, []byte("three"))

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(2)
	assert.False(t, ok)
	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "one", string(v))

	c.Put(1, []byte("uno"))
	v, _ = c.Get(1)
	assert.Equal(t, "uno", string(v))
	assert.True(t, c.Remove(1))
	assert.False(t, c.Remove(1))
	assert.Equal(t, 1, c.Len())
}

func TestCache_defaultLimit(t *testing.T) {
	c := NewCache(DefaultCacheSize)
	for i := range DefaultCacheSize + 5 {
		c.Put(i, nil)
	}
	assert.Equal(t, DefaultCacheSize, c.Len())
	_, ok := c.Get(4)
	assert.False(t, ok)
	_, ok = c.Get(5)
	assert.True(t, ok)
}
