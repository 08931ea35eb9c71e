package network

import (
	"github.com/joeycumines/logiface"
)

// Protocol is the first byte of every packet handed to a Mux.
type Protocol byte

const (
	// ProtocolDatagram identifies minimsg packets.
	ProtocolDatagram Protocol = iota
	// ProtocolStream identifies minisocket packets.
	ProtocolStream
)

func (p Protocol) String() string {
	switch p {
	case ProtocolDatagram:
		return "datagram"
	case ProtocolStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Mux dispatches packets to a Handler per Protocol. Packets for protocols
// with no handler are dropped. The zero value is ready to use, but handlers
// must all be registered before the first Dispatch.
type Mux struct {
	handlers [256]Handler
	log      *logiface.Logger[logiface.Event]
}

// NewMux returns a Mux that logs dropped packets to log, which may be nil.
func NewMux(log *logiface.Logger[logiface.Event]) *Mux {
	return &Mux{log: log}
}

// Handle registers h for packets of protocol p, replacing any existing
// handler.
func (x *Mux) Handle(p Protocol, h Handler) {
	x.handlers[p] = h
}

// Dispatch is a Handler that passes pkt to the handler for its protocol.
func (x *Mux) Dispatch(pkt Packet) {
	if len(pkt.Data) == 0 {
		return
	}
	p := Protocol(pkt.Data[0])
	if h := x.handlers[p]; h != nil {
		h(pkt)
		return
	}
	x.log.Debug().
		Limit().
		Stringer("from", pkt.From).
		Int("protocol", int(p)).
		Log("network: no handler for protocol")
}
