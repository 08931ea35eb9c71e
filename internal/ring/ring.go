// Package ring implements the FIFO sequences shared by the scheduler, the
// semaphores, and the network layers.
package ring

// Ring is a FIFO queue over a circular buffer whose length is always a
// power of two, so positions wrap with a bit mask. Unlike a fixed size
// ring, it never overwrites: a push to a full Ring doubles the buffer. It
// also supports removal from the middle, which wait queues need when a
// waiter gives up.
//
// The read and write counters run freely and are reset whenever the Ring
// empties. The zero value is ready to use. Not safe for concurrent use.
type Ring[E any] struct {
	s    []E
	r, w uint
}

const minSize = 8

// New returns a Ring with at least the given capacity.
func New[E any](size int) *Ring[E] {
	n := minSize
	for n < size {
		n <<= 1
	}
	return &Ring[E]{s: make([]E, n)}
}

// slot maps the i-th queued value, counting from the front, to its index in
// the buffer.
func (x *Ring[E]) slot(i int) int {
	return int((x.r + uint(i)) & uint(len(x.s)-1))
}

// segments returns the queued values as at most two slices of the buffer,
// front first.
func (x *Ring[E]) segments() (head, tail []E) {
	n := x.Len()
	if n == 0 {
		return nil, nil
	}
	i := x.slot(0)
	if i+n <= len(x.s) {
		return x.s[i : i+n], nil
	}
	return x.s[i:], x.s[:i+n-len(x.s)]
}

// Len returns the number of queued values.
func (x *Ring[E]) Len() int {
	return int(x.w - x.r)
}

// Cap returns the number of values the Ring holds before it grows.
func (x *Ring[E]) Cap() int {
	return len(x.s)
}

// Get returns the i-th queued value, where 0 is the front.
func (x *Ring[E]) Get(i int) E {
	if i < 0 || i >= x.Len() {
		panic(`ring: get: index out of range`)
	}
	return x.s[x.slot(i)]
}

// Slice returns a copy of the queued values, front first.
func (x *Ring[E]) Slice() []E {
	head, tail := x.segments()
	if len(head) == 0 {
		return nil
	}
	return append(append(make([]E, 0, len(head)+len(tail)), head...), tail...)
}

// PushBack appends v, growing the buffer if it is full.
func (x *Ring[E]) PushBack(v E) {
	if x.Len() == len(x.s) {
		x.grow()
	}
	x.s[x.slot(x.Len())] = v
	x.w++
}

// PopFront removes and returns the front value.
func (x *Ring[E]) PopFront() (v E, ok bool) {
	if x.r == x.w {
		return v, false
	}
	i := x.slot(0)
	v = x.s[i]
	var zero E
	x.s[i] = zero
	x.r++
	if x.r == x.w {
		x.r, x.w = 0, 0
	}
	return v, true
}

// Peek returns the front value without removing it.
func (x *Ring[E]) Peek() (v E, ok bool) {
	if x.r == x.w {
		return v, false
	}
	return x.s[x.slot(0)], true
}

// Remove deletes the value at index i, preserving the order of the rest.
func (x *Ring[E]) Remove(i int) E {
	l := x.Len()
	if i < 0 || i >= l {
		panic(`ring: remove: index out of range`)
	}
	v := x.Get(i)
	for j := i; j < l-1; j++ {
		x.s[x.slot(j)] = x.s[x.slot(j+1)]
	}
	var zero E
	x.s[x.slot(l-1)] = zero
	x.w--
	return v
}

// RemoveFunc deletes the first value matching fn, reporting whether one was
// found.
func (x *Ring[E]) RemoveFunc(fn func(E) bool) bool {
	for i, l := 0, x.Len(); i < l; i++ {
		if fn(x.Get(i)) {
			x.Remove(i)
			return true
		}
	}
	return false
}

// Clear drops every value, retaining the buffer.
func (x *Ring[E]) Clear() {
	clear(x.s)
	x.r, x.w = 0, 0
}

func (x *Ring[E]) grow() {
	size := len(x.s) << 1
	if size == 0 {
		size = minSize
	}
	s := make([]E, size)
	head, tail := x.segments()
	n := copy(s, head)
	n += copy(s[n:], tail)
	x.s = s
	x.r = 0
	x.w = uint(n)
}
