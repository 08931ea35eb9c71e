// Package minisocket implements reliable, connection oriented byte streams
// over an unreliable Link.
//
// A server socket, numbered 0 to 32767, accepts a single client. A client
// socket is numbered from 32768 to 65535, round robin. Connections are
// established by a SYN, SYN-ACK, ACK handshake. Every data packet carries a
// sequence number, and is retransmitted, with a timeout that doubles on each
// attempt, until it is acknowledged, or the timeout exceeds a ceiling.
// Receivers accept only the next packet in sequence, so delivery is in
// order, with no reassembly of reordered packets.
//
// Closing a socket sends a FIN, which fails the peer's further sends. Data
// the peer has already received may still be read.
package minisocket
