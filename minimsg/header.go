package minimsg

import (
	"encoding/binary"
	"errors"

	"github.com/joeycumines/go-minithreads/network"
)

// HeaderLen is the encoded size of a datagram header.
const HeaderLen = 1 + 2*(network.AddrLen+2)

var errMalformedHeader = errors.New("minimsg: malformed header")

// header precedes every datagram's payload.
type header struct {
	src     network.Addr
	srcPort uint16
	dst     network.Addr
	dstPort uint16
}

func (h *header) marshal() []byte {
	b := make([]byte, 0, HeaderLen)
	b = append(b, byte(network.ProtocolDatagram))
	b = network.AppendAddr(b, h.src)
	b = binary.BigEndian.AppendUint16(b, h.srcPort)
	b = network.AppendAddr(b, h.dst)
	return binary.BigEndian.AppendUint16(b, h.dstPort)
}

func (h *header) unmarshal(b []byte) error {
	if len(b) < HeaderLen || network.Protocol(b[0]) != network.ProtocolDatagram {
		return errMalformedHeader
	}
	b = b[1:]
	var err error
	if h.src, err = network.ReadAddr(b); err != nil {
		return err
	}
	b = b[network.AddrLen:]
	h.srcPort = binary.BigEndian.Uint16(b)
	b = b[2:]
	if h.dst, err = network.ReadAddr(b); err != nil {
		return err
	}
	b = b[network.AddrLen:]
	h.dstPort = binary.BigEndian.Uint16(b)
	return nil
}
