package alarm

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Register_zeroDelayRunsSynchronously(t *testing.T) {
	q := New()
	var called bool
	id := q.Register(0, func() { called = true })
	require.True(t, called)
	assert.Equal(t, ID(0), id)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Register_nilCallback(t *testing.T) {
	q := New()
	assert.Equal(t, ID(0), q.Register(5, nil))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Advance_order(t *testing.T) {
	q := New()
	var got []int
	q.Register(30, func() { got = append(got, 30) })
	q.Register(10, func() { got = append(got, 10) })
	q.Register(20, func() { got = append(got, 20) })
	q.Register(10, func() { got = append(got, 11) })

	assert.Equal(t, 0, q.Advance(9))
	assert.Empty(t, got)

	assert.Equal(t, 2, q.Advance(10))
	assert.Equal(t, []int{10, 11}, got)

	assert.Equal(t, 2, q.Advance(100))
	assert.Equal(t, []int{10, 11, 20, 30}, got)

	assert.Equal(t, 0, q.Advance(200))
}

func TestQueue_Advance_emptyQueue(t *testing.T) {
	q := New()
	assert.Equal(t, 0, q.Advance(1))
	assert.Equal(t, uint64(1), q.Now())
	_, ok := q.Next()
	assert.False(t, ok)
}

func TestQueue_Advance_neverMovesBackwards(t *testing.T) {
	q := New()
	q.Advance(50)
	q.Advance(10)
	assert.Equal(t, uint64(50), q.Now())
	q.Register(5, func() {})
	d, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(55), d)
}

func TestQueue_Deregister(t *testing.T) {
	q := New()
	var fired []int
	a := q.Register(5, func() { fired = append(fired, 1) })
	b := q.Register(5, func() { fired = append(fired, 2) })
	c := q.Register(7, func() { fired = append(fired, 3) })

	assert.True(t, q.Deregister(b))
	assert.False(t, q.Deregister(b), "second deregister is a no-op")
	assert.False(t, q.Deregister(12345), "unknown id")

	q.Advance(10)
	assert.Equal(t, []int{1, 3}, fired)
	assert.False(t, q.Deregister(a), "already fired")
	assert.False(t, q.Deregister(c), "already fired")
}

func TestQueue_callbackReregisters(t *testing.T) {
	q := New()
	var count int
	var fn func()
	fn = func() {
		count++
		// the running entry has already been removed
		assert.Equal(t, 0, q.Len())
		if count < 3 {
			q.Register(1, fn)
		}
	}
	q.Register(1, fn)
	for tick := uint64(1); tick <= 10; tick++ {
		q.Advance(tick)
	}
	assert.Equal(t, 3, count)
}

func TestQueue_randomized(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	q := New()
	type fire struct {
		deadline uint64
		seq      int
	}
	var fires []fire
	var now uint64
	seq := 0
	pending := make(map[ID]bool)
	var ids []ID
	for i := 0; i < 2000; i++ {
		switch r.IntN(4) {
		case 0, 1:
			delay := uint64(r.IntN(50) + 1)
			deadline := now + delay
			s := seq
			seq++
			var id ID
			id = q.Register(delay, func() {
				require.True(t, pending[id], "fired twice or after deregister")
				delete(pending, id)
				fires = append(fires, fire{deadline, s})
			})
			pending[id] = true
			ids = append(ids, id)
		case 2:
			if len(ids) > 0 {
				id := ids[r.IntN(len(ids))]
				assert.Equal(t, pending[id], q.Deregister(id))
				delete(pending, id)
			}
		case 3:
			now += uint64(r.IntN(10))
			q.Advance(now)
		}
	}
	q.Advance(now + 1000)
	assert.Empty(t, pending)
	for i := 1; i < len(fires); i++ {
		prev, cur := fires[i-1], fires[i]
		if cur.deadline < prev.deadline || (cur.deadline == prev.deadline && cur.seq < prev.seq) {
			t.Fatalf("out of order at %d: %+v then %+v", i, prev, cur)
		}
	}
}
