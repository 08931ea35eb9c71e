package minithread

import (
	"github.com/joeycumines/go-minithreads/internal/ring"
)

// Semaphore is a counting semaphore with FIFO wakeup. A negative count is
// the number of blocked waiters.
//
// P blocks, so it must only be called by a running thread. V may also be
// called from interrupt handlers and alarm callbacks.
type Semaphore struct {
	sys     *System
	waiters ring.Ring[*Thread]
	count   int
}

// NewSemaphore creates a semaphore with the given initial count.
func (s *System) NewSemaphore(count int) *Semaphore {
	return &Semaphore{sys: s, count: count}
}

// Initialize resets the count. The semaphore must have no waiters.
func (x *Semaphore) Initialize(count int) {
	prev := x.sys.DisableInterrupts()
	x.count = count
	x.sys.RestoreInterrupts(prev)
}

// Destroy releases the wait collection. Destroying a semaphore that has
// waiters strands them, and must be avoided by the caller.
func (x *Semaphore) Destroy() {
	prev := x.sys.DisableInterrupts()
	x.waiters.Clear()
	x.count = 0
	x.sys.RestoreInterrupts(prev)
}

// Count returns the current count.
func (x *Semaphore) Count() int {
	return x.count
}

// Waiting returns the number of blocked threads.
func (x *Semaphore) Waiting() int {
	return x.waiters.Len()
}

// P decrements the count, blocking the caller while it is negative.
func (x *Semaphore) P() {
	s := x.sys
	s.checkOwner()
	prev := s.DisableInterrupts()
	defer s.RestoreInterrupts(prev)
	x.count--
	if x.count < 0 {
		x.waiters.PushBack(s.current)
		s.block()
	}
}

// TryP decrements the count only if that would not block, reporting whether
// it did.
func (x *Semaphore) TryP() bool {
	prev := x.sys.DisableInterrupts()
	defer x.sys.RestoreInterrupts(prev)
	if x.count <= 0 {
		return false
	}
	x.count--
	return true
}

// V increments the count, readying the longest waiting thread if there was
// one.
func (x *Semaphore) V() {
	s := x.sys
	prev := s.DisableInterrupts()
	defer s.RestoreInterrupts(prev)
	x.count++
	if x.count <= 0 {
		if t, ok := x.waiters.PopFront(); ok {
			s.wake(t)
		}
	}
}
