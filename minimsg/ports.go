package minimsg

import (
	"net/netip"

	"github.com/joeycumines/go-minithreads/internal/ring"
	"github.com/joeycumines/go-minithreads/minithread"
	"github.com/joeycumines/go-minithreads/network"
	"github.com/joeycumines/logiface"
)

// Port number ranges.
const (
	MinUnbound = 0
	MaxUnbound = 32767
	MinBound   = 32768
	MaxBound   = 65535
)

// MaxMessageSize is the largest payload Send accepts.
const MaxMessageSize = 4096

// Port is either an unbound (listening) port, or a bound port, addressing
// an unbound port on some node.
type Port struct {
	number int
	bound  bool

	remote     network.Addr
	remotePort int

	queue     ring.Ring[message]
	arrived   *minithread.Semaphore
	destroyed bool
}

type message struct {
	hdr     header
	payload []byte
}

// Number returns the port number.
func (p *Port) Number() int {
	return p.number
}

// Bound reports whether p is a bound port.
func (p *Port) Bound() bool {
	return p.bound
}

// Remote returns the address and unbound port number a bound port sends to.
func (p *Port) Remote() (network.Addr, int) {
	return p.remote, p.remotePort
}

// Ports is the port registry of a node.
//
// The registry is shared with the packet arrival handler, and is only
// mutated with interrupts disabled. All methods but Handle must be called by
// a running minithread.
type Ports struct {
	sys       *minithread.System
	link      network.Link
	log       *logiface.Logger[logiface.Event]
	unbound   map[int]*Port
	bound     map[int]*Port
	nextBound int
}

// New creates an empty registry, sending through link. The caller must
// arrange for Handle to receive arrived datagram packets.
func New(sys *minithread.System, link network.Link, opts ...Option) (*Ports, error) {
	if sys == nil || link == nil {
		return nil, ErrInvalidParameter
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Ports{
		sys:       sys,
		link:      link,
		log:       cfg.logger,
		unbound:   make(map[int]*Port),
		bound:     make(map[int]*Port),
		nextBound: MinBound,
	}, nil
}

// CreateUnbound returns the unbound port with the given number, creating it
// if necessary. Repeated calls return the same port.
func (x *Ports) CreateUnbound(number int) (*Port, error) {
	if number < MinUnbound || number > MaxUnbound {
		return nil, ErrInvalidParameter
	}
	prev := x.sys.DisableInterrupts()
	defer x.sys.RestoreInterrupts(prev)
	if p := x.unbound[number]; p != nil {
		return p, nil
	}
	p := &Port{
		number:  number,
		arrived: x.sys.NewSemaphore(0),
	}
	x.unbound[number] = p
	return p, nil
}

// CreateBound allocates a bound port, addressing the unbound port
// remotePort at addr. Numbers are assigned round robin, skipping those in
// use.
func (x *Ports) CreateBound(addr network.Addr, remotePort int) (*Port, error) {
	if !addr.IsValid() || remotePort < MinUnbound || remotePort > MaxUnbound {
		return nil, ErrInvalidParameter
	}
	prev := x.sys.DisableInterrupts()
	defer x.sys.RestoreInterrupts(prev)
	for range MaxBound - MinBound + 1 {
		number := x.nextBound
		x.nextBound++
		if x.nextBound > MaxBound {
			x.nextBound = MinBound
		}
		if _, ok := x.bound[number]; ok {
			continue
		}
		p := &Port{
			number:     number,
			bound:      true,
			remote:     addr,
			remotePort: remotePort,
		}
		x.bound[number] = p
		return p, nil
	}
	return nil, ErrNoMorePorts
}

// Destroy deregisters p, making its number available. Threads blocked in
// Receive on an unbound port fail with ErrPortDestroyed, and its queued
// messages are discarded.
func (x *Ports) Destroy(p *Port) {
	if p == nil {
		return
	}
	prev := x.sys.DisableInterrupts()
	defer x.sys.RestoreInterrupts(prev)
	if p.bound {
		if x.bound[p.number] == p {
			delete(x.bound, p.number)
		}
		return
	}
	if x.unbound[p.number] == p {
		delete(x.unbound, p.number)
	}
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.queue.Clear()
	for n := p.arrived.Waiting(); n > 0; n-- {
		p.arrived.V()
	}
}

// Send sends msg from the unbound port local to the unbound port addressed
// by the bound port dst, returning len(msg). Returns -1 and an error if the
// arguments are invalid, or the link fails.
func (x *Ports) Send(local, dst *Port, msg []byte) (int, error) {
	if local == nil || local.bound || dst == nil || !dst.bound || len(msg) > MaxMessageSize {
		return -1, ErrInvalidParameter
	}
	hdr := header{
		src:     x.link.LocalAddr(),
		srcPort: uint16(local.number),
		dst:     dst.remote,
		dstPort: uint16(dst.remotePort),
	}
	if err := x.link.Send(dst.remote, hdr.marshal(), msg); err != nil {
		x.log.Debug().
			Err(err).
			Stringer("dst", dst.remote).
			Int("port", dst.remotePort).
			Log("minimsg: send failed")
		return -1, err
	}
	return len(msg), nil
}

// Receive blocks until a message arrives at the unbound port local,
// copying as much of it as fits into buf. Any excess is discarded. The
// returned port is a new bound port addressing the sender's unbound port,
// which the caller should Destroy when done replying.
func (x *Ports) Receive(local *Port, buf []byte) (int, *Port, error) {
	if local == nil || local.bound {
		return -1, nil, ErrInvalidParameter
	}
	for {
		if local.destroyed {
			return -1, nil, ErrPortDestroyed
		}
		local.arrived.P()

		prev := x.sys.DisableInterrupts()
		msg, ok := local.queue.PopFront()
		destroyed := local.destroyed
		x.sys.RestoreInterrupts(prev)

		if destroyed {
			return -1, nil, ErrPortDestroyed
		}
		if !ok {
			continue
		}
		if int(msg.hdr.dstPort) != local.number || !x.isLocal(msg.hdr.dst) {
			x.log.Debug().
				Limit().
				Stringer("dst", msg.hdr.dst).
				Int("port", int(msg.hdr.dstPort)).
				Log("minimsg: dropping misaddressed message")
			continue
		}
		reply, err := x.CreateBound(msg.hdr.src, int(msg.hdr.srcPort))
		if err != nil {
			return -1, nil, err
		}
		return copy(buf, msg.payload), reply, nil
	}
}

// Handle is the packet arrival handler, for ProtocolDatagram packets.
func (x *Ports) Handle(pkt network.Packet) {
	var hdr header
	if err := hdr.unmarshal(pkt.Data); err != nil {
		x.log.Debug().
			Limit().
			Stringer("from", pkt.From).
			Log("minimsg: dropping malformed packet")
		return
	}
	p := x.unbound[int(hdr.dstPort)]
	if p == nil {
		x.log.Debug().
			Limit().
			Stringer("from", pkt.From).
			Int("port", int(hdr.dstPort)).
			Log("minimsg: no such port")
		return
	}
	// a sender listening on every interface can't name its own address
	if !hdr.src.Addr().IsValid() || hdr.src.Addr().IsUnspecified() {
		hdr.src = netip.AddrPortFrom(pkt.From.Addr(), hdr.src.Port())
	}
	p.queue.PushBack(message{hdr: hdr, payload: pkt.Data[HeaderLen:]})
	p.arrived.V()
}

func (x *Ports) isLocal(dst network.Addr) bool {
	local := x.link.LocalAddr()
	if local.Addr().IsUnspecified() {
		return dst.Port() == local.Port()
	}
	return dst == local
}
