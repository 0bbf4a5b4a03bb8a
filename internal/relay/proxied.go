package relay

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// Proxied tunnels to the target through an intermediate SOCKS5 proxy
// (RFC 1928), using username/password authentication (RFC 1929) when
// credentials are configured.
type Proxied struct {
	Target    string
	ProxyAddr string
	User      string
	Pass      string
}

// NewProxied returns a Strategy that reaches target via a SOCKS5 proxy
// at proxyAddr. If user is empty, no-auth is used.
func NewProxied(target, proxyAddr, user, pass string) *Proxied {
	return &Proxied{Target: target, ProxyAddr: proxyAddr, User: user, Pass: pass}
}

func (p *Proxied) Build(ctx context.Context, inbound *net.TCPConn) (*Pair, error) {
	var auth *proxy.Auth
	if p.User != "" {
		auth = &proxy.Auth{User: p.User, Password: p.Pass}
	}

	dialer, err := proxy.SOCKS5("tcp", p.ProxyAddr, auth, &net.Dialer{})
	if err != nil {
		inbound.Close()
		return nil, fmt.Errorf("relay: build socks5 dialer for %s: %w", p.ProxyAddr, err)
	}

	// Dial returns the raw transport connection (a *net.TCPConn), which
	// exposes the fd and CloseWrite the supervisor needs; the socks
	// dialer's DialContext returns a wrapper that exposes neither.
	outbound, err := dialer.Dial("tcp", p.Target)
	if err != nil {
		// the socks5 dialer closes its own connection on a handshake
		// failure; inbound is ours to close.
		inbound.Close()
		return nil, fmt.Errorf("relay: socks5 handshake to %s via %s: %w", p.Target, p.ProxyAddr, err)
	}

	return newPair(inbound, outbound)
}
