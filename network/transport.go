package network

import (
	"errors"
)

// MaxPacketSize is the largest packet, header plus payload, a Transport
// will carry.
const MaxPacketSize = 8192

var (
	// ErrClosed is returned by operations on a closed Transport.
	ErrClosed = errors.New("network: transport closed")

	// ErrPacketTooLarge is returned when a header plus payload exceeds
	// MaxPacketSize.
	ErrPacketTooLarge = errors.New("network: packet too large")
)

// Packet is an arrived packet.
type Packet struct {
	// From is the node that sent the packet, which for routed packets is
	// the node that originated it.
	From Addr
	// Data is the header and payload, as sent.
	Data []byte
}

// Handler processes an arrived packet. Handlers are invoked as interrupt
// handlers, so must not block.
type Handler func(pkt Packet)

// Transport is an unreliable packet transport: packets may be lost,
// duplicated, or reordered, but are never corrupted.
//
// Send and Broadcast may be called from any goroutine, and must not block
// for long. Arrived packets are received from Packets, which is closed after
// Close.
type Transport interface {
	// LocalAddr is this node's address.
	LocalAddr() Addr
	// Send transmits a packet to dst.
	Send(dst Addr, hdr, payload []byte) error
	// Broadcast transmits a packet to every reachable node other than this
	// one.
	Broadcast(hdr, payload []byte) error
	// Packets receives arrived packets.
	Packets() <-chan Packet
	// Close releases the transport.
	Close() error
}

// Link is what the messaging layers send through. Unlike Transport.Send,
// Link.Send may block the calling minithread, e.g. to discover a route, so
// it must only be called by a running minithread.
type Link interface {
	LocalAddr() Addr
	Send(dst Addr, hdr, payload []byte) error
}

// Direct is a Link that sends point to point, straight over a Transport.
type Direct struct {
	Transport Transport
}

var _ Link = Direct{}

// LocalAddr implements Link.
func (x Direct) LocalAddr() Addr {
	return x.Transport.LocalAddr()
}

// Send implements Link.
func (x Direct) Send(dst Addr, hdr, payload []byte) error {
	return x.Transport.Send(dst, hdr, payload)
}

func joinPacket(hdr, payload []byte) ([]byte, error) {
	if len(hdr)+len(payload) > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}
	b := make([]byte, 0, len(hdr)+len(payload))
	b = append(b, hdr...)
	return append(b, payload...), nil
}
