package minisocket

import (
	"errors"

	"github.com/joeycumines/go-minithreads/internal/ring"
	"github.com/joeycumines/go-minithreads/minithread"
	"github.com/joeycumines/go-minithreads/network"
)

// Status is the connection state of a Socket.
type Status int

const (
	// StatusListening is a server socket waiting for a SYN.
	StatusListening Status = iota
	// StatusConnecting is a socket part way through the handshake.
	StatusConnecting
	// StatusConnected is an established connection.
	StatusConnected
	// StatusClosing is a socket being torn down.
	StatusClosing
	// StatusClosed is a socket that has been torn down.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusListening:
		return "listening"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	errAborted   = errors.New("minisocket: transmission aborted")
	errExhausted = errors.New("minisocket: retransmissions exhausted")
)

// waiter is one attempt to get a packet acknowledged. It is completed at
// most once, by an acknowledgement, the retransmission alarm, or teardown.
type waiter struct {
	expect msgType
	done   bool
	acked  bool
}

// Socket is one end of a reliable connection.
//
// Send and Receive are serialized by a per-socket mutex, a semaphore. State
// shared with the packet arrival handler is only accessed with interrupts
// disabled.
type Socket struct {
	m          *Sockets
	port       int
	server     bool
	status     Status
	remote     network.Addr
	remotePort int
	seq        uint32
	ack        uint32
	timeout    uint64

	mutex        *minithread.Semaphore
	mutexWaiters int
	wait         *waiter
	ackSem       *minithread.Semaphore
	synArrived   *minithread.Semaphore
	dataReady    *minithread.Semaphore
	queue        ring.Ring[[]byte]
	buf          []byte
	remoteClosed bool
}

func (x *Sockets) newSocket(port int, server bool) *Socket {
	return &Socket{
		m:          x,
		port:       port,
		server:     server,
		timeout:    x.opts.initialTimeout,
		mutex:      x.sys.NewSemaphore(1),
		ackSem:     x.sys.NewSemaphore(0),
		synArrived: x.sys.NewSemaphore(0),
		dataReady:  x.sys.NewSemaphore(0),
	}
}

// Port returns the local port number.
func (s *Socket) Port() int {
	return s.port
}

// Status returns the connection state.
func (s *Socket) Status() Status {
	return s.status
}

// Remote returns the peer's address and port number.
func (s *Socket) Remote() (network.Addr, int) {
	return s.remote, s.remotePort
}

// Sequence returns the sequence number of the last packet sent, and of the
// last packet received in order.
func (s *Socket) Sequence() (seq, ack uint32) {
	return s.seq, s.ack
}

// Send sends msg, fragmented into packets of the maximum payload size, each
// of which is retransmitted until acknowledged. It returns the number of
// bytes acknowledged.
//
// If a packet is never acknowledged, the socket is closed, and ErrTimeout
// returned. ErrSendError is returned if the socket is closing, or its peer
// has closed.
func (s *Socket) Send(msg []byte) (int, error) {
	if s == nil {
		return 0, opError("send", -1, ErrInvalidParameter)
	}
	if len(msg) == 0 {
		return 0, nil
	}
	if !s.lock() {
		return 0, opError("send", s.port, ErrSendError)
	}
	defer s.mutex.V()

	sys := s.m.sys
	var sent int
	for sent < len(msg) {
		prev := sys.DisableInterrupts()
		ok := s.status == StatusConnected && !s.remoteClosed
		sys.RestoreInterrupts(prev)
		if !ok {
			return sent, opError("send", s.port, ErrSendError)
		}
		n := min(len(msg)-sent, s.m.opts.maxPayload)
		switch err := s.transmit(msgACK, true, msg[sent:sent+n]); {
		case err == nil:
			sent += n
		case errors.Is(err, errExhausted):
			s.teardown(false)
			return sent, opError("send", s.port, ErrTimeout)
		default:
			return sent, opError("send", s.port, ErrSendError)
		}
	}
	return sent, nil
}

// Receive blocks until data is available, then copies as much as fits into
// buf. Data not copied is kept for the next call, so message boundaries are
// not preserved.
//
// Once the peer has closed, the remaining data may still be received, after
// which ErrReceiveError is returned.
func (s *Socket) Receive(buf []byte) (int, error) {
	if s == nil || len(buf) == 0 {
		return 0, opError("receive", -1, ErrInvalidParameter)
	}
	if !s.lock() {
		return 0, opError("receive", s.port, ErrReceiveError)
	}
	sys := s.m.sys
	for {
		prev := sys.DisableInterrupts()
		if p, ok := s.queue.PopFront(); ok {
			s.buf = append(s.buf, p...)
		}
		if len(s.buf) != 0 {
			n := copy(buf, s.buf)
			s.buf = s.buf[n:]
			if len(s.buf) == 0 {
				s.buf = nil
			}
			sys.RestoreInterrupts(prev)
			s.mutex.V()
			return n, nil
		}
		ok := s.status == StatusConnected && !s.remoteClosed
		sys.RestoreInterrupts(prev)

		s.mutex.V()
		if !ok {
			return 0, opError("receive", s.port, ErrReceiveError)
		}
		s.dataReady.P()
		if !s.lock() {
			return 0, opError("receive", s.port, ErrReceiveError)
		}
	}
}

// Close tears down the socket, sending a FIN to the peer, if connected.
// Threads blocked in Send or Receive fail. Close is idempotent.
func (s *Socket) Close() {
	if s == nil {
		return
	}
	s.teardown(true)
}

func (s *Socket) teardown(notify bool) {
	m := s.m
	prev := m.sys.DisableInterrupts()
	if s.status >= StatusClosing {
		m.sys.RestoreInterrupts(prev)
		return
	}
	notify = notify && s.remote.IsValid() && !s.remoteClosed &&
		(s.status == StatusConnected || s.status == StatusConnecting)
	fin := s.header(msgFIN)
	s.status = StatusClosing
	s.wakeAll()
	if m.ports[s.port] == s {
		delete(m.ports, s.port)
	}
	m.sys.RestoreInterrupts(prev)

	if notify {
		if err := m.link.Send(s.remote, fin.marshal(), nil); err != nil {
			m.log.Debug().
				Err(err).
				Int("port", s.port).
				Log("minisocket: failed to send FIN")
		}
	}

	prev = m.sys.DisableInterrupts()
	s.status = StatusClosed
	m.sys.RestoreInterrupts(prev)

	m.log.Debug().
		Int("port", s.port).
		Bool("notified", notify).
		Log("minisocket: socket closed")
}

// wakeAll releases every thread blocked on the socket. Interrupts must be
// disabled.
func (s *Socket) wakeAll() {
	s.complete(false)
	for n := s.mutexWaiters; n > 0; n-- {
		s.mutex.V()
	}
	for n := s.dataReady.Waiting(); n > 0; n-- {
		s.dataReady.V()
	}
	for n := s.synArrived.Waiting(); n > 0; n-- {
		s.synArrived.V()
	}
}

// complete finishes the current attempt to get a packet acknowledged, if
// there is one. Interrupts must be disabled.
func (s *Socket) complete(acked bool) {
	w := s.wait
	if w == nil || w.done {
		return
	}
	w.done = true
	w.acked = acked
	s.ackSem.V()
}

// lock acquires the socket mutex, failing if the socket is, or becomes,
// closing.
func (s *Socket) lock() bool {
	sys := s.m.sys
	prev := sys.DisableInterrupts()
	if s.status >= StatusClosing {
		sys.RestoreInterrupts(prev)
		return false
	}
	s.mutexWaiters++
	sys.RestoreInterrupts(prev)

	s.mutex.P()

	prev = sys.DisableInterrupts()
	s.mutexWaiters--
	closing := s.status >= StatusClosing
	sys.RestoreInterrupts(prev)
	if closing {
		s.mutex.V()
		return false
	}
	return true
}

// aborted reports whether retransmission should stop. Interrupts must be
// disabled.
func (s *Socket) aborted() bool {
	return s.status >= StatusClosing || s.remoteClosed
}

// header stamps a header with the current sequence numbers. Interrupts must
// be disabled.
func (s *Socket) header(kind msgType) header {
	return header{
		src:     s.m.link.LocalAddr(),
		srcPort: uint16(s.port),
		dst:     s.remote,
		dstPort: uint16(s.remotePort),
		kind:    kind,
		seq:     s.seq,
		ack:     s.ack,
	}
}

func (s *Socket) isPeer(h *header) bool {
	return s.remote == h.src && s.remotePort == int(h.srcPort)
}
