package minithread

import (
	"runtime"
)

// Thread is a thread control block. Each thread is backed by a goroutine
// that only runs while the thread holds the CPU.
type Thread struct {
	sys     *System
	proc    func()
	resume  chan struct{}
	release chan struct{}
	id      uint64
	gid     uint64
	level   int
	state   ThreadState
	stopped bool
}

// ID returns the thread's identity, unique and increasing within a System.
func (t *Thread) ID() uint64 {
	return t.id
}

// Level returns the thread's feedback level, 0 being the highest priority.
func (t *Thread) Level() int {
	return t.level
}

// State returns the thread's lifecycle state.
func (t *Thread) State() ThreadState {
	return t.state
}

func (s *System) newThread(id uint64, proc func()) *Thread {
	return &Thread{
		sys:     s,
		proc:    proc,
		resume:  make(chan struct{}, 1),
		release: make(chan struct{}),
		id:      id,
	}
}

// spawn creates the execution context: a goroutine parked until the thread
// is first switched to.
func (s *System) spawn(t *Thread) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-t.resume:
		case <-s.halt:
			return
		}
		if s.opts.ownershipChecks {
			t.gid = goroutineID()
		}
		defer func() {
			if r := recover(); r != nil {
				err := PanicError{Value: r, Source: "thread"}
				s.log.Err().
					Err(err).
					Uint64("thread", t.id).
					Log("minithread: thread panicked")
				if t == s.main {
					s.mainErr = err
				}
			}
			s.exit(t)
		}()
		s.SetInterruptLevel(Enabled)
		t.proc()
	}()
}

// Fork creates a thread that will run proc, at feedback level 0. The new
// thread is made ready, but does not run before Fork returns. Fork may be
// called before Run, or by interrupt handlers.
//
// Returns ErrOutOfMemory if the thread limit has been reached.
func (s *System) Fork(proc func()) (*Thread, error) {
	if proc == nil {
		return nil, ErrInvalidParameter
	}
	prev := s.DisableInterrupts()
	defer s.RestoreInterrupts(prev)
	return s.fork(proc)
}

func (s *System) fork(proc func()) (*Thread, error) {
	t, err := s.create(proc)
	if err != nil {
		return nil, err
	}
	t.state = ThreadReady
	s.ready[0].PushBack(t)
	s.log.Trace().
		Uint64("thread", t.id).
		Log("minithread: fork")
	return t, nil
}

// Create creates a thread that will run proc, at feedback level 0, without
// making it ready. It runs only once passed to Start.
//
// Returns ErrOutOfMemory if the thread limit has been reached.
func (s *System) Create(proc func()) (*Thread, error) {
	if proc == nil {
		return nil, ErrInvalidParameter
	}
	prev := s.DisableInterrupts()
	defer s.RestoreInterrupts(prev)
	t, err := s.create(proc)
	if err != nil {
		return nil, err
	}
	t.state = ThreadBlocked
	t.stopped = true
	return t, nil
}

// create allocates a thread and its execution context, reclaiming finished
// threads early if the limit has been reached. Interrupts must be disabled.
func (s *System) create(proc func()) (*Thread, error) {
	if s.atLimit() && len(s.finished) > 0 {
		batch := s.finished
		s.finished = nil
		s.reclaim(batch)
	}
	if s.atLimit() {
		return nil, ErrOutOfMemory
	}
	s.lastID++
	t := s.newThread(s.lastID, proc)
	s.live++
	s.stats.Forked++
	s.spawn(t)
	return t, nil
}

func (s *System) atLimit() bool {
	return s.opts.maxThreads > 0 && s.live >= s.opts.maxThreads
}

// Stop blocks the running thread until it is passed to Start, by another
// thread or an interrupt handler.
func (s *System) Stop() {
	s.checkOwner()
	if s.halted() {
		runtime.Goexit()
	}
	prev := s.DisableInterrupts()
	defer s.RestoreInterrupts(prev)
	s.current.stopped = true
	s.block()
}

// Start makes a thread blocked by Stop, or made by Create, ready. Threads
// in any other state, including those waiting on a Semaphore, are rejected
// with ErrInvalidParameter.
func (s *System) Start(t *Thread) error {
	if t == nil || t.sys != s {
		return ErrInvalidParameter
	}
	prev := s.DisableInterrupts()
	defer s.RestoreInterrupts(prev)
	if t.state != ThreadBlocked || !t.stopped {
		return ErrInvalidParameter
	}
	t.stopped = false
	s.wake(t)
	return nil
}

// Self returns the running thread.
func (s *System) Self() *Thread {
	return s.current
}

// ID returns the running thread's ID.
func (s *System) ID() uint64 {
	if s.current == nil {
		return 0
	}
	return s.current.id
}

// Yield moves the running thread to the back of its level and runs the next
// ready thread, which may be the caller.
func (s *System) Yield() {
	s.checkOwner()
	if s.halted() {
		runtime.Goexit()
	}
	prev := s.DisableInterrupts()
	cur := s.current
	cur.state = ThreadReady
	s.ready[cur.level].PushBack(cur)
	s.switchTo(cur, s.next())
	s.RestoreInterrupts(prev)
}

// Exit terminates the running thread. Deferred calls run first.
func (s *System) Exit() {
	runtime.Goexit()
}

// block switches away from the running thread, which the caller has
// already placed in some wait collection. Interrupts must be disabled.
func (s *System) block() {
	cur := s.current
	cur.state = ThreadBlocked
	s.switchTo(cur, s.next())
}

// wake makes a blocked thread ready. Interrupts must be disabled.
func (s *System) wake(t *Thread) {
	t.state = ThreadReady
	s.ready[t.level].PushBack(t)
}

// exit retires the thread running on this goroutine, and waits for it to be
// reclaimed.
func (s *System) exit(t *Thread) {
	if s.halted() {
		return
	}
	s.level = Disabled
	t.state = ThreadFinished
	s.stats.Exited++

	if t == s.main {
		close(s.mainDone)
		<-s.halt
		return
	}

	s.finished = append(s.finished, t)
	if len(s.finished) > s.opts.reclaimThreshold {
		batch := s.finished
		s.finished = nil
		if _, err := s.fork(func() { s.reclaim(batch) }); err != nil {
			s.reclaim(batch)
		}
	}

	next := s.next()
	s.dispatch(next)
	s.stats.ContextSwitches++
	next.resume <- struct{}{}

	select {
	case <-t.release:
	case <-s.halt:
	}
}

// reclaim releases the execution contexts of a batch of finished threads.
func (s *System) reclaim(batch []*Thread) {
	for _, t := range batch {
		close(t.release)
	}
	prev := s.DisableInterrupts()
	s.live -= len(batch)
	s.stats.Reclaimed += uint64(len(batch))
	s.RestoreInterrupts(prev)
	s.log.Debug().
		Int("threads", len(batch)).
		Log("minithread: reclaimed finished threads")
}

// next removes the next thread to run from the ready queues, idling until
// one is available. Interrupts must be disabled.
func (s *System) next() *Thread {
	for {
		if t := s.dequeue(); t != nil {
			return t
		}
		s.idle()
	}
}

// dequeue searches the ready queues, starting at a weighted-random level
// and wrapping around.
func (s *System) dequeue() *Thread {
	n := len(s.ready)
	start := s.startLevel()
	for i := 0; i < n; i++ {
		if t, ok := s.ready[(start+i)%n].PopFront(); ok {
			return t
		}
	}
	return nil
}

func (s *System) startLevel() int {
	var total int
	for _, w := range s.opts.weights {
		total += w
	}
	v := s.rand.IntN(total)
	for i, w := range s.opts.weights {
		if v < w {
			return i
		}
		v -= w
	}
	return 0
}

// dispatch makes t the running thread, with a fresh quantum for its level.
func (s *System) dispatch(t *Thread) {
	s.current = t
	t.state = ThreadRunning
	s.quantum = s.opts.quanta[t.level]
}

// switchTo hands the CPU from cur to next, parking cur's goroutine until it
// is switched back to. Interrupts must be disabled.
func (s *System) switchTo(cur, next *Thread) {
	s.dispatch(next)
	if next == cur {
		return
	}
	s.stats.ContextSwitches++
	next.resume <- struct{}{}
	select {
	case <-cur.resume:
	case <-s.halt:
		runtime.Goexit()
	}
}
