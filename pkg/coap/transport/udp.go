package transport

import (
	"errors"
	"net"
	"sync"

	"golang.org/x/net/ipv6"
)

// DefaultPort is the CoAP UDP port (RFC 7252 §12.8), used when Listen
// is given a nil address.
const DefaultPort = 5683

// multicastHopLimit is a conservative default hop limit for multicast
// sends, well within a single administrative domain.
const multicastHopLimit = 64

// UDPTransport binds a single UDP socket, optionally joined to one or
// more IPv6 multicast groups, and implements Transport. Listen binds a
// local address for server-style use; Dial connects directly
// to a single peer for client-style use.
type UDPTransport struct {
	mu       sync.Mutex
	conn     *net.UDPConn
	pktConn6 *ipv6.PacketConn
	closed   bool
}

// Listen binds a UDP socket to addr for server-style use: receiving
// from and sending to arbitrary peers. addr may be nil to bind to the
// wildcard address on DefaultPort.
func Listen(addr *net.UDPAddr) (*UDPTransport, error) {
	if addr == nil {
		addr = &net.UDPAddr{IP: net.IPv6unspecified, Port: DefaultPort}
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, ErrBindFailed
	}
	pc := ipv6.NewPacketConn(conn)
	// Ask the kernel to report the packet's destination address on each
	// read, the only way to tell a unicast receive from one addressed
	// to a joined multicast group (needed by the not-found/parse-error
	// branches that behave differently for multicast).
	_ = pc.SetControlMessage(ipv6.FlagDst, true)
	return &UDPTransport{conn: conn, pktConn6: pc}, nil
}

// Dial creates a UDP socket pre-connected to dst, for client-style use
// where every Send/Recv targets a single peer.
func Dial(dst *net.UDPAddr) (*UDPTransport, error) {
	if dst == nil {
		return nil, ErrInvalidAddress
	}
	conn, err := net.DialUDP("udp", nil, dst)
	if err != nil {
		return nil, ErrBindFailed
	}
	return &UDPTransport{conn: conn, pktConn6: ipv6.NewPacketConn(conn)}, nil
}

// JoinMulticastGroup joins the socket to group on the named interface
// (empty selects the system default) and disables loopback, so a node
// does not receive its own multicast sends.
func (t *UDPTransport) JoinMulticastGroup(ifaceName string, group net.IP) error {
	var ifi *net.Interface
	if ifaceName != "" {
		found, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return ErrMulticastJoin
		}
		ifi = found
	}

	if err := t.pktConn6.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return ErrMulticastJoin
	}
	if err := t.pktConn6.SetMulticastHopLimit(multicastHopLimit); err != nil {
		return ErrMulticastJoin
	}
	if err := t.pktConn6.SetMulticastLoopback(false); err != nil {
		return ErrMulticastJoin
	}
	return nil
}

// Send implements Transport. dst is nil when the transport was created
// with Dial and every datagram goes to the pre-connected peer.
func (t *UDPTransport) Send(buf []byte, dst *net.UDPAddr) error {
	if dst == nil {
		_, err := t.conn.Write(buf)
		return err
	}
	_, err := t.conn.WriteToUDP(buf, dst)
	return err
}

// Recv implements Transport, blocking until a datagram arrives.
func (t *UDPTransport) Recv(buf []byte) (int, *net.UDPAddr, bool, error) {
	n, cm, src, err := t.pktConn6.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, false, ErrClosed
		}
		return 0, nil, false, err
	}
	udpSrc, _ := src.(*net.UDPAddr)
	multicast := cm != nil && cm.Dst != nil && cm.Dst.IsMulticast()
	return n, udpSrc, multicast, nil
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	if addr, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr
	}
	return nil
}

// Close closes the underlying socket. Safe to call more than once.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
