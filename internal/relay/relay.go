// Package relay builds a connected (inbound, outbound) socket pair
// ready for sockmap enrollment, either by dialing the target directly
// or by tunnelling through a SOCKS5 proxy. Both variants implement the
// same Strategy contract; the acceptor and supervisor don't need to
// know which one they're driving.
package relay

import (
	"context"
	"net"
)

// Strategy produces a fully-connected outbound leg for an accepted
// inbound connection. On failure it is responsible for closing
// whatever sockets it opened, including inbound.
type Strategy interface {
	Build(ctx context.Context, inbound *net.TCPConn) (*Pair, error)
}

// Pair is the transient record for one accepted relay: both legs, their
// raw file descriptors (for sockmap enrollment) and addresses (for
// flow-key construction).
type Pair struct {
	Inbound  *net.TCPConn
	Outbound net.Conn

	InboundFD  int
	OutboundFD int

	InboundPeerAddr   net.Addr
	OutboundLocalAddr net.Addr
}

// Close tears down both legs. Safe to call more than once.
func (p *Pair) Close() {
	p.Inbound.Close()
	p.Outbound.Close()
}
