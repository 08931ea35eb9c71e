package minisocket

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-minithreads/minithread"
	"github.com/joeycumines/go-minithreads/network"
	"github.com/joeycumines/logiface"
)

// Port number ranges.
const (
	MinServer = 0
	MaxServer = 32767
	MinClient = 32768
	MaxClient = 65535
)

// Stats counts socket events.
type Stats struct {
	// Retransmissions counts packets sent again after a timeout.
	Retransmissions uint64
	// Resets counts FINs sent in reply to packets for unknown ports.
	Resets uint64
	// Dropped counts arrived packets discarded, for any reason.
	Dropped uint64
}

// Sockets is the socket registry of a node.
//
// The registry is shared with the packet arrival handler, and is only
// mutated with interrupts disabled. All methods but Handle must be called by
// a running minithread.
type Sockets struct {
	sys        *minithread.System
	link       network.Link
	log        *logiface.Logger[logiface.Event]
	opts       *socketsOptions
	limiter    *catrate.Limiter
	ports      map[int]*Socket
	nextClient int
	stats      Stats
}

// New creates an empty registry, sending through link. The caller must
// arrange for Handle to receive arrived stream packets.
func New(sys *minithread.System, link network.Link, opts ...Option) (*Sockets, error) {
	if sys == nil || link == nil {
		return nil, ErrInvalidParameter
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	limiter, err := newLimiter(cfg.resetLimits)
	if err != nil {
		return nil, err
	}
	return &Sockets{
		sys:        sys,
		link:       link,
		log:        cfg.logger,
		opts:       cfg,
		limiter:    limiter,
		ports:      make(map[int]*Socket),
		nextClient: MinClient,
	}, nil
}

func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidParameter, r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// Stats returns a snapshot of the counters.
func (x *Sockets) Stats() Stats {
	prev := x.sys.DisableInterrupts()
	defer x.sys.RestoreInterrupts(prev)
	return x.stats
}

// ServerCreate listens on port, blocking until a client completes the
// handshake. A handshake that fails part way is abandoned, and the socket
// listens again.
//
// Returns ErrPortInUse if port already has a socket, or ErrReceiveError if
// the socket is closed while listening.
func (x *Sockets) ServerCreate(port int) (*Socket, error) {
	if port < MinServer || port > MaxServer {
		return nil, opError("server create", port, ErrInvalidParameter)
	}
	prev := x.sys.DisableInterrupts()
	if x.ports[port] != nil {
		x.sys.RestoreInterrupts(prev)
		return nil, opError("server create", port, ErrPortInUse)
	}
	s := x.newSocket(port, true)
	s.status = StatusListening
	x.ports[port] = s
	x.sys.RestoreInterrupts(prev)

	x.log.Debug().
		Int("port", port).
		Log("minisocket: listening")

	for {
		s.synArrived.P()

		prev = x.sys.DisableInterrupts()
		status := s.status
		x.sys.RestoreInterrupts(prev)
		if status >= StatusClosing {
			return nil, opError("server create", port, ErrReceiveError)
		}
		if status != StatusConnecting {
			continue
		}

		err := s.transmit(msgSYNACK, true, nil)

		prev = x.sys.DisableInterrupts()
		if err == nil && s.status == StatusConnecting {
			s.status = StatusConnected
		}
		status = s.status
		remote := s.remote
		if status == StatusConnecting {
			// the client gave up, or never acknowledged
			s.listen()
		}
		x.sys.RestoreInterrupts(prev)

		switch status {
		case StatusConnected:
			x.log.Debug().
				Int("port", port).
				Stringer("remote", remote).
				Log("minisocket: accepted connection")
			return s, nil
		case StatusConnecting:
			x.log.Debug().
				Err(err).
				Int("port", port).
				Stringer("remote", remote).
				Log("minisocket: handshake failed")
		default:
			return nil, opError("server create", port, ErrReceiveError)
		}
	}
}

// ClientCreate connects to the server socket listening on port at addr,
// allocating a client port number round robin.
//
// Returns ErrNoServer if the handshake is never answered, or the server is
// busy with another client.
func (x *Sockets) ClientCreate(addr network.Addr, port int) (*Socket, error) {
	if !addr.IsValid() || port < MinServer || port > MaxServer {
		return nil, opError("client create", port, ErrInvalidParameter)
	}
	prev := x.sys.DisableInterrupts()
	number, ok := x.allocClient()
	if !ok {
		x.sys.RestoreInterrupts(prev)
		return nil, opError("client create", port, ErrNoMorePorts)
	}
	s := x.newSocket(number, false)
	s.status = StatusConnecting
	s.remote = addr
	s.remotePort = port
	x.ports[number] = s
	x.sys.RestoreInterrupts(prev)

	if err := s.transmit(msgSYN, true, nil); err != nil {
		x.log.Debug().
			Err(err).
			Stringer("remote", addr).
			Int("port", port).
			Log("minisocket: connect failed")
		s.teardown(false)
		return nil, opError("client create", port, ErrNoServer)
	}

	prev = x.sys.DisableInterrupts()
	ok = s.status == StatusConnecting
	if ok {
		s.status = StatusConnected
	}
	ack := s.header(msgACK)
	x.sys.RestoreInterrupts(prev)
	if !ok {
		return nil, opError("client create", port, ErrNoServer)
	}

	if err := x.link.Send(addr, ack.marshal(), nil); err != nil {
		x.log.Debug().
			Err(err).
			Stringer("remote", addr).
			Log("minisocket: failed to send handshake ACK")
	}
	x.log.Debug().
		Int("port", number).
		Stringer("remote", addr).
		Int("remote_port", port).
		Log("minisocket: connected")
	return s, nil
}

// allocClient returns the next free client port number. Interrupts must be
// disabled.
func (x *Sockets) allocClient() (int, bool) {
	for range MaxClient - MinClient + 1 {
		number := x.nextClient
		x.nextClient++
		if x.nextClient > MaxClient {
			x.nextClient = MinClient
		}
		if x.ports[number] == nil {
			return number, true
		}
	}
	return 0, false
}

// listen returns a server socket to its initial state, after a failed
// handshake. Interrupts must be disabled.
func (s *Socket) listen() {
	s.status = StatusListening
	s.remote = network.Addr{}
	s.remotePort = 0
	s.seq = 0
	s.ack = 0
	s.remoteClosed = false
	s.queue.Clear()
	s.buf = nil
	s.synArrived.Initialize(0)
}
