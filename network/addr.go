package network

import (
	"encoding/binary"
	"errors"
	"net/netip"
)

// Addr identifies a node: an IP address and a UDP port.
type Addr = netip.AddrPort

// AddrLen is the encoded size of an Addr.
const AddrLen = 18

// ErrShortBuffer indicates a header that was truncated.
var ErrShortBuffer = errors.New("network: short buffer")

// PutAddr encodes a into the first AddrLen bytes of b, as a 16 byte address
// (IPv4 addresses are mapped) followed by the port, big endian. The zero
// Addr encodes as all zeros.
func PutAddr(b []byte, a Addr) {
	_ = b[AddrLen-1]
	if !a.IsValid() {
		clear(b[:AddrLen])
		return
	}
	ip := a.Addr().As16()
	copy(b, ip[:])
	binary.BigEndian.PutUint16(b[16:], a.Port())
}

// AppendAddr appends the encoding of a to b.
func AppendAddr(b []byte, a Addr) []byte {
	var buf [AddrLen]byte
	PutAddr(buf[:], a)
	return append(b, buf[:]...)
}

// ReadAddr decodes an Addr encoded by PutAddr. IPv4-mapped addresses are
// unmapped, so the result compares equal to the encoded value.
func ReadAddr(b []byte) (Addr, error) {
	if len(b) < AddrLen {
		return Addr{}, ErrShortBuffer
	}
	var ip [16]byte
	copy(ip[:], b)
	port := binary.BigEndian.Uint16(b[16:])
	if ip == ([16]byte{}) && port == 0 {
		return Addr{}, nil
	}
	return netip.AddrPortFrom(netip.AddrFrom16(ip).Unmap(), port), nil
}
