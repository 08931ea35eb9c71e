// Package minimsg implements unreliable datagram messaging between ports.
//
// An unbound port is a listening endpoint, numbered 0 to 32767, that
// queues arrived messages. A bound port is a sender's handle on an unbound
// port of some (possibly the same) node, numbered 32768 to 65535, assigned
// round robin. Receive returns, with each message, a bound port addressed
// to the sender's unbound port, for replies.
package minimsg
