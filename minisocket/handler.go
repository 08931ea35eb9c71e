package minisocket

import (
	"net/netip"

	"github.com/joeycumines/go-minithreads/network"
)

// Handle is the packet arrival handler, for ProtocolStream packets.
func (x *Sockets) Handle(pkt network.Packet) {
	var h header
	if err := h.unmarshal(pkt.Data); err != nil {
		x.drop(pkt.From, "malformed packet")
		return
	}
	// a sender listening on every interface can't name its own address
	if !h.src.Addr().IsValid() || h.src.Addr().IsUnspecified() {
		h.src = netip.AddrPortFrom(pkt.From.Addr(), h.src.Port())
	}
	payload := pkt.Data[HeaderLen:]

	s := x.ports[int(h.dstPort)]
	if s == nil || s.status >= StatusClosing {
		if h.kind != msgFIN {
			x.reset(&h)
		}
		return
	}

	if h.kind == msgSYN {
		x.handleSYN(s, &h)
		return
	}
	if !s.isPeer(&h) {
		x.drop(h.src, "packet from unexpected peer")
		return
	}
	switch h.kind {
	case msgSYNACK:
		x.handleSYNACK(s, &h)
	case msgACK:
		x.handleACK(s, &h, payload)
	case msgFIN:
		x.handleFIN(s)
	}
}

func (x *Sockets) handleSYN(s *Socket, h *header) {
	switch {
	case !s.server:
		x.drop(h.src, "SYN for client socket")
	case s.status == StatusListening:
		s.remote = h.src
		s.remotePort = int(h.srcPort)
		s.ack = h.seq
		s.remoteClosed = false
		s.status = StatusConnecting
		s.synArrived.V()
	case s.isPeer(h):
		// retransmitted, the SYN-ACK will be too
	default:
		x.log.Debug().
			Int("port", s.port).
			Stringer("remote", h.src).
			Log("minisocket: server busy")
		x.reset(h)
	}
}

func (x *Sockets) handleSYNACK(s *Socket, h *header) {
	if s.server {
		x.drop(h.src, "SYN-ACK for server socket")
		return
	}
	if w := s.wait; w != nil && !w.done && w.expect == msgSYNACK && h.ack == s.seq {
		s.ack = h.seq
		s.complete(true)
		return
	}
	if s.status == StatusConnected {
		// the handshake ACK was lost
		x.reply(s)
		return
	}
	x.drop(h.src, "stale SYN-ACK")
}

func (x *Sockets) handleACK(s *Socket, h *header, payload []byte) {
	if w := s.wait; w != nil && !w.done && w.expect == msgACK && h.ack == s.seq {
		s.complete(true)
	}
	if len(payload) == 0 {
		return
	}
	if s.status != StatusConnected && s.status != StatusConnecting {
		x.drop(h.src, "data before handshake")
		return
	}
	if h.seq == s.ack+1 {
		s.ack = h.seq
		s.queue.PushBack(payload)
		s.dataReady.V()
	} else {
		x.drop(h.src, "out of order data")
	}
	x.reply(s)
}

func (x *Sockets) handleFIN(s *Socket) {
	if s.remoteClosed {
		return
	}
	s.remoteClosed = true
	s.complete(false)
	for n := s.dataReady.Waiting(); n > 0; n-- {
		s.dataReady.V()
	}
	x.log.Debug().
		Int("port", s.port).
		Stringer("remote", s.remote).
		Log("minisocket: peer closed")
}

// reply sends a bare ACK, stamped with the socket's current sequence numbers.
func (x *Sockets) reply(s *Socket) {
	hdr := s.header(msgACK)
	x.sendAsync(s.remote, &hdr)
}

// reset replies FIN to a packet that no socket will accept.
func (x *Sockets) reset(h *header) {
	if _, ok := x.limiter.Allow(h.src); !ok {
		x.drop(h.src, "reset rate limited")
		return
	}
	x.stats.Resets++
	fin := header{
		src:     x.link.LocalAddr(),
		srcPort: h.dstPort,
		dst:     h.src,
		dstPort: h.srcPort,
		kind:    msgFIN,
		ack:     h.seq,
	}
	x.sendAsync(h.src, &fin)
}

// sendAsync sends from a new minithread, as the link may block.
func (x *Sockets) sendAsync(dst network.Addr, hdr *header) {
	b := hdr.marshal()
	if _, err := x.sys.Fork(func() {
		if err := x.link.Send(dst, b, nil); err != nil {
			x.log.Debug().
				Err(err).
				Stringer("dst", dst).
				Stringer("kind", hdr.kind).
				Log("minisocket: send failed")
		}
	}); err != nil {
		x.log.Warning().
			Err(err).
			Log("minisocket: failed to fork sender")
	}
}

func (x *Sockets) drop(from network.Addr, reason string) {
	x.stats.Dropped++
	x.log.Debug().
		Limit().
		Stringer("from", from).
		Str("reason", reason).
		Log("minisocket: dropping packet")
}
