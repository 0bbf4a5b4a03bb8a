package relay

import (
	"fmt"
	"net"
	"syscall"
)

// newPair extracts the raw file descriptors of both legs without
// duplicating them (an os.File dup would leave the Go runtime's
// netpoller registration and the kernel socket-map's enrollment
// pointed at different descriptors for the same socket).
func newPair(inbound *net.TCPConn, outbound net.Conn) (*Pair, error) {
	inboundFD, err := rawFD(inbound)
	if err != nil {
		inbound.Close()
		outbound.Close()
		return nil, fmt.Errorf("relay: inbound fd: %w", err)
	}

	outboundFD, err := rawFD(outbound)
	if err != nil {
		inbound.Close()
		outbound.Close()
		return nil, fmt.Errorf("relay: outbound fd: %w", err)
	}

	return &Pair{
		Inbound:           inbound,
		Outbound:          outbound,
		InboundFD:         inboundFD,
		OutboundFD:        outboundFD,
		InboundPeerAddr:   inbound.RemoteAddr(),
		OutboundLocalAddr: outbound.LocalAddr(),
	}, nil
}

func rawFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("connection of type %T does not expose a raw fd", conn)
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var fd int
	if err := raw.Control(func(fdVal uintptr) { fd = int(fdVal) }); err != nil {
		return 0, err
	}
	return fd, nil
}
