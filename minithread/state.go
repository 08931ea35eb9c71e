package minithread

import (
	"sync/atomic"
)

// SystemState represents the lifecycle of a System.
//
// State Machine:
//
//	StateAwake (0) → StateRunning (2)          [Run()]
//	StateRunning (2) → StateTerminating (3)    [main returned, or ctx done]
//	StateTerminating (3) → StateTerminated (1) [teardown complete]
//	StateTerminated (1) → (terminal)
type SystemState uint64

const (
	// StateAwake indicates the system has been created but not started.
	StateAwake SystemState = 0
	// StateTerminated indicates every thread has been halted.
	StateTerminated SystemState = 1
	// StateRunning indicates Run is in progress.
	StateRunning SystemState = 2
	// StateTerminating indicates teardown has started.
	StateTerminating SystemState = 3
)

// String returns a human-readable representation of the state.
func (s SystemState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine, readable from any goroutine.
type fastState struct {
	v atomic.Uint64
}

func (s *fastState) Load() SystemState {
	return SystemState(s.v.Load())
}

func (s *fastState) Store(state SystemState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically move from one state to another.
func (s *fastState) TryTransition(from, to SystemState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// ThreadState is the lifecycle state of a Thread, mirroring the queue it is
// a member of.
type ThreadState int

const (
	// ThreadReady means the thread is in a ready queue.
	ThreadReady ThreadState = iota
	// ThreadRunning means the thread holds the CPU.
	ThreadRunning
	// ThreadBlocked means the thread is in some wait collection.
	ThreadBlocked
	// ThreadFinished means the thread returned and awaits reclamation.
	ThreadFinished
)

func (s ThreadState) String() string {
	switch s {
	case ThreadReady:
		return "Ready"
	case ThreadRunning:
		return "Running"
	case ThreadBlocked:
		return "Blocked"
	case ThreadFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Level is the interrupt level of the (single, simulated) CPU.
type Level int

const (
	// Disabled defers delivery of interrupts until the level is restored.
	Disabled Level = iota
	// Enabled allows interrupts to be delivered at safe points.
	Enabled
)

func (l Level) String() string {
	switch l {
	case Disabled:
		return "Disabled"
	case Enabled:
		return "Enabled"
	default:
		return "Unknown"
	}
}
