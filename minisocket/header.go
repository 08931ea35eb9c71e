package minisocket

import (
	"encoding/binary"
	"errors"

	"github.com/joeycumines/go-minithreads/network"
)

type msgType byte

const (
	msgSYN msgType = iota + 1
	msgSYNACK
	// msgACK acknowledges, and carries data if it has a payload
	msgACK
	msgFIN
)

func (m msgType) String() string {
	switch m {
	case msgSYN:
		return "SYN"
	case msgSYNACK:
		return "SYN-ACK"
	case msgACK:
		return "ACK"
	case msgFIN:
		return "FIN"
	default:
		return "unknown"
	}
}

// HeaderLen is the encoded size of a stream header.
const HeaderLen = 1 + 2*(network.AddrLen+2) + 1 + 4 + 4

var errMalformedHeader = errors.New("minisocket: malformed header")

type header struct {
	src     network.Addr
	srcPort uint16
	dst     network.Addr
	dstPort uint16
	kind    msgType
	seq     uint32
	ack     uint32
}

func (h *header) marshal() []byte {
	b := make([]byte, 0, HeaderLen)
	b = append(b, byte(network.ProtocolStream))
	b = network.AppendAddr(b, h.src)
	b = binary.BigEndian.AppendUint16(b, h.srcPort)
	b = network.AppendAddr(b, h.dst)
	b = binary.BigEndian.AppendUint16(b, h.dstPort)
	b = append(b, byte(h.kind))
	b = binary.BigEndian.AppendUint32(b, h.seq)
	return binary.BigEndian.AppendUint32(b, h.ack)
}

func (h *header) unmarshal(b []byte) error {
	if len(b) < HeaderLen || network.Protocol(b[0]) != network.ProtocolStream {
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
	b = b[2:]
	h.kind = msgType(b[0])
	if h.kind < msgSYN || h.kind > msgFIN {
		return errMalformedHeader
	}
	h.seq = binary.BigEndian.Uint32(b[1:])
	h.ack = binary.BigEndian.Uint32(b[5:])
	return nil
}
