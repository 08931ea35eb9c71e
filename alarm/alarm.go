// Package alarm implements the deadline queue: pending callbacks keyed by an
// absolute tick count, fired in deadline order as the clock advances.
//
// A Queue is a plain data structure. It is not safe for concurrent use, the
// caller serializes access (the scheduler does so by disabling interrupts).
package alarm

import (
	"container/heap"
)

// ID identifies a registered alarm. The zero value is never issued.
type ID uint64

// Queue is a min-heap of alarms, ordered by deadline then registration order.
type Queue struct {
	h      entryHeap
	index  map[ID]*entry
	now    uint64
	seq    uint64
	lastID ID
}

type entry struct {
	fn       func()
	deadline uint64
	seq      uint64
	id       ID
	pos      int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.pos = -1
	*h = old[:n-1]
	return e
}

// New returns an empty Queue at tick zero.
func New() *Queue {
	return &Queue{index: make(map[ID]*entry)}
}

// Now returns the tick most recently passed to Advance.
func (q *Queue) Now() uint64 {
	return q.now
}

// Len returns the number of pending alarms.
func (q *Queue) Len() int {
	return len(q.h)
}

// Next returns the earliest pending deadline.
func (q *Queue) Next() (deadline uint64, ok bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].deadline, true
}

// Register schedules fn to run once delay ticks have elapsed. A delay of zero
// runs fn before Register returns, and returns the zero ID. A nil fn is
// ignored.
func (q *Queue) Register(delay uint64, fn func()) ID {
	if fn == nil {
		return 0
	}
	if delay == 0 {
		fn()
		return 0
	}
	q.lastID++
	q.seq++
	e := &entry{
		fn:       fn,
		deadline: q.now + delay,
		seq:      q.seq,
		id:       q.lastID,
	}
	heap.Push(&q.h, e)
	q.index[e.id] = e
	return e.id
}

// Deregister cancels a pending alarm, reporting whether it was pending.
// Unknown or already fired IDs are a no-op.
func (q *Queue) Deregister(id ID) bool {
	e, ok := q.index[id]
	if !ok {
		return false
	}
	delete(q.index, id)
	heap.Remove(&q.h, e.pos)
	return true
}

// Advance moves the queue to tick now, firing every alarm whose deadline has
// been reached, in order. Each alarm is removed before its callback runs, so
// a callback may register further alarms (including itself). Ticks never move
// backwards. Returns the number of alarms fired.
func (q *Queue) Advance(now uint64) (fired int) {
	if now > q.now {
		q.now = now
	}
	for len(q.h) > 0 {
		if q.h[0].deadline > q.now {
			break
		}
		e := heap.Pop(&q.h).(*entry)
		delete(q.index, e.id)
		fired++
		e.fn()
	}
	return fired
}
