package miniroute

import (
	"encoding/binary"
	"errors"

	"github.com/joeycumines/go-minithreads/network"
)

type packetKind byte

const (
	kindData packetKind = iota
	kindDiscovery
	kindReply
)

func (k packetKind) String() string {
	switch k {
	case kindData:
		return "data"
	case kindDiscovery:
		return "discovery"
	case kindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// fixedHeaderLen is the size of a routing header with an empty path.
const fixedHeaderLen = 1 + network.AddrLen + 4 + 4 + 2

var errMalformedHeader = errors.New("miniroute: malformed header")

// routingHeader precedes every packet a Router sends. For data and replies,
// path is the full route, starting at the origin. For discoveries, it is the
// route taken so far.
type routingHeader struct {
	kind packetKind
	dst  network.Addr
	id   uint32
	ttl  uint32
	path []network.Addr
}

func (h *routingHeader) size() int {
	return fixedHeaderLen + len(h.path)*network.AddrLen
}

func (h *routingHeader) marshal() []byte {
	b := make([]byte, 0, h.size())
	b = append(b, byte(h.kind))
	b = network.AppendAddr(b, h.dst)
	b = binary.BigEndian.AppendUint32(b, h.id)
	b = binary.BigEndian.AppendUint32(b, h.ttl)
	b = binary.BigEndian.AppendUint16(b, uint16(len(h.path)))
	for _, addr := range h.path {
		b = network.AppendAddr(b, addr)
	}
	return b
}

func (h *routingHeader) unmarshal(b []byte) error {
	if len(b) < fixedHeaderLen {
		return errMalformedHeader
	}
	h.kind = packetKind(b[0])
	if h.kind > kindReply {
		return errMalformedHeader
	}
	var err error
	if h.dst, err = network.ReadAddr(b[1:]); err != nil {
		return err
	}
	b = b[1+network.AddrLen:]
	h.id = binary.BigEndian.Uint32(b)
	h.ttl = binary.BigEndian.Uint32(b[4:])
	n := int(binary.BigEndian.Uint16(b[8:]))
	b = b[10:]
	if n == 0 || len(b) < n*network.AddrLen {
		return errMalformedHeader
	}
	h.path = make([]network.Addr, n)
	for i := range h.path {
		if h.path[i], err = network.ReadAddr(b); err != nil {
			return err
		}
		b = b[network.AddrLen:]
	}
	return nil
}
