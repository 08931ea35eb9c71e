package minimsg

import (
	"errors"
)

var (
	// ErrInvalidParameter indicates a nil port, a port of the wrong kind, a
	// port number out of range, or an oversized message.
	ErrInvalidParameter = errors.New("minimsg: invalid parameter")

	// ErrNoMorePorts indicates every bound port number is in use.
	ErrNoMorePorts = errors.New("minimsg: no more ports")

	// ErrPortDestroyed is returned by Receive on a port destroyed while (or
	// before) waiting.
	ErrPortDestroyed = errors.New("minimsg: port destroyed")
)
