// Package network provides the raw packet transports consumed by the
// messaging layers, and the plumbing that turns packet arrivals into
// minithread interrupts.
//
// A Transport sends and broadcasts packets, each a header followed by a
// payload, and exposes arrivals as a channel. UDPTransport uses real
// sockets. SimNetwork connects any number of in-process nodes, with optional
// loss, delay, and topology, which is what the tests use.
//
// Pump drains a Transport's arrivals, in batches, into interrupt handlers.
// Mux dispatches each arrived packet to a protocol handler, by the first
// byte of the packet. A Link is what the upper layers send through, either
// directly (Direct) or via a router.
package network
