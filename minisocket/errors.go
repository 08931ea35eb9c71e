package minisocket

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter indicates a nil socket, a port number out of
	// range, or an invalid buffer.
	ErrInvalidParameter = errors.New("minisocket: invalid parameter")

	// ErrPortInUse indicates a server port already has a socket.
	ErrPortInUse = errors.New("minisocket: port in use")

	// ErrNoMorePorts indicates every client port number is in use.
	ErrNoMorePorts = errors.New("minisocket: no more ports")

	// ErrNoServer indicates the handshake was never answered, or the server
	// was busy.
	ErrNoServer = errors.New("minisocket: no server")

	// ErrTimeout indicates a packet was never acknowledged. The socket is
	// closed, and must not be used further.
	ErrTimeout = errors.New("minisocket: timeout")

	// ErrSendError indicates a send on a socket that is closing, or whose
	// peer has closed.
	ErrSendError = errors.New("minisocket: send error")

	// ErrReceiveError indicates a receive on a socket that is closing, or
	// whose peer has closed with nothing left to read.
	ErrReceiveError = errors.New("minisocket: receive error")
)

// Error describes a failed socket operation.
type Error struct {
	Cause error
	Op    string
	Port  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("minisocket: %s port %d: %v", e.Op, e.Port, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func opError(op string, port int, cause error) error {
	return &Error{Op: op, Port: port, Cause: cause}
}
