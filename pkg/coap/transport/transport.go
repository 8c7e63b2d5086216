// Package transport provides the minimal send/receive abstraction the
// endpoint is built against: it depends on this interface, not a
// concrete socket, so tests can substitute a fake and the real binding
// can be swapped for IPv4, IPv6, or a multicast-joined group without
// touching pkg/coap/endpoint.
package transport

import "net"

// Transport is the datagram substrate an Endpoint runs on. The endpoint
// calls Send from its dispatcher goroutine while Recv runs concurrently
// on its reader goroutine, so methods must be safe for concurrent use;
// Recv is expected to block until a datagram arrives or Close unblocks
// it with an error. multicast reports whether the datagram was
// addressed to a joined multicast group rather than this host's unicast
// address, which the not-found and malformed-datagram drop policies
// both key off of.
type Transport interface {
	Send(buf []byte, dst *net.UDPAddr) error
	Recv(buf []byte) (n int, src *net.UDPAddr, multicast bool, err error)
	LocalAddr() *net.UDPAddr
	Close() error
}
