package relay

import (
	"context"
	"fmt"
	"net"
)

// Direct dials the configured target with no intermediate proxy.
type Direct struct {
	Target string
	Dialer net.Dialer
}

// NewDirect returns a Strategy that dials target directly.
func NewDirect(target string) *Direct {
	return &Direct{Target: target}
}

func (d *Direct) Build(ctx context.Context, inbound *net.TCPConn) (*Pair, error) {
	outbound, err := d.Dialer.DialContext(ctx, "tcp", d.Target)
	if err != nil {
		inbound.Close()
		return nil, fmt.Errorf("relay: connect target %s: %w", d.Target, err)
	}
	return newPair(inbound, outbound)
}
