package minithread

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrInvalidParameter is returned for nil or out-of-range arguments.
	ErrInvalidParameter = errors.New("minithread: invalid parameter")

	// ErrOutOfMemory is returned by Fork and Create when no further threads
	// may be allocated. Finished threads are reclaimed first, so callers may
	// retry once some thread has returned.
	ErrOutOfMemory = errors.New("minithread: out of memory")

	// ErrAlreadyRunning is returned when Run is called more than once.
	ErrAlreadyRunning = errors.New("minithread: system is already running")

	// ErrHalted is returned when the system has been torn down.
	ErrHalted = errors.New("minithread: system halted")
)

// PanicError wraps a value recovered from a panicking thread, alarm, or
// interrupt handler.
type PanicError struct {
	Value  any
	Source string
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("minithread: %s panicked: %v", e.Source, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
