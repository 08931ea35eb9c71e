// Package miniroute implements on-demand source routing over an unreliable
// broadcast medium.
//
// A Router is a network.Link. Sending to a destination with no fresh cached
// route floods a discovery request. The destination answers along the
// reverse of the path the request took, and that path is cached for later
// sends. Concurrent senders to the same destination share one discovery.
// Every data packet carries its full hop list, so intermediate nodes forward
// without any state of their own.
package miniroute
