package minithread

import (
	"time"

	"github.com/joeycumines/go-minithreads/alarm"
)

// RegisterAlarm arranges for fn to be called, as part of the clock
// interrupt, once delay ticks have elapsed. A zero delay calls fn before
// returning, and returns the zero ID. Callbacks run with interrupts disabled
// and must not block.
func (s *System) RegisterAlarm(delay uint64, fn func()) alarm.ID {
	if fn == nil {
		return 0
	}
	prev := s.DisableInterrupts()
	defer s.RestoreInterrupts(prev)
	return s.alarms.Register(delay, func() {
		s.safeExecute("alarm", fn)
	})
}

// DeregisterAlarm cancels an alarm, reporting whether it was still pending.
// Cancelling a fired or unknown alarm is a no-op.
func (s *System) DeregisterAlarm(id alarm.ID) bool {
	prev := s.DisableInterrupts()
	defer s.RestoreInterrupts(prev)
	return s.alarms.Deregister(id)
}

// SleepTicks blocks the running thread for at least n ticks.
func (s *System) SleepTicks(n uint64) {
	if n == 0 {
		return
	}
	sem := s.NewSemaphore(0)
	s.RegisterAlarm(n, sem.V)
	sem.P()
}

// SleepWithTimeout blocks the running thread for at least d, rounded up to
// a whole number of ticks.
func (s *System) SleepWithTimeout(d time.Duration) {
	s.SleepTicks(s.DurationToTicks(d))
}

// DurationToTicks converts d to ticks, rounding up.
func (s *System) DurationToTicks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	period := s.opts.clock.Period()
	return uint64((d + period - 1) / period)
}
