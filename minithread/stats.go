package minithread

// Stats is a snapshot of scheduler counters.
type Stats struct {
	// Ticks is the number of clock interrupts handled.
	Ticks uint64
	// ContextSwitches counts hand-offs of the CPU between distinct threads.
	ContextSwitches uint64
	// Preemptions counts quantum expiries that switched threads.
	Preemptions uint64
	// Idles counts waits for an interrupt with nothing ready.
	Idles uint64
	// Forked, Exited and Reclaimed count threads through their lifecycle.
	Forked    uint64
	Exited    uint64
	Reclaimed uint64

	// Live is the number of threads not yet reclaimed.
	Live int
	// Ready is the number of threads in the ready queues, per level.
	Ready []int
	// Finished is the number of threads awaiting reclamation.
	Finished int
}

// ReadyTotal sums Ready.
func (x Stats) ReadyTotal() (n int) {
	for _, v := range x.Ready {
		n += v
	}
	return n
}

// Stats returns a snapshot of the scheduler counters.
func (s *System) Stats() Stats {
	prev := s.DisableInterrupts()
	defer s.RestoreInterrupts(prev)
	v := s.stats
	v.Live = s.live
	v.Finished = len(s.finished)
	v.Ready = make([]int, len(s.ready))
	for i := range s.ready {
		v.Ready[i] = s.ready[i].Len()
	}
	return v
}
