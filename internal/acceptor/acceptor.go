// Package acceptor binds the relay's listening endpoint and dispatches
// each accepted connection to a Handler on its own goroutine.
package acceptor

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler takes ownership of an accepted connection: enrollment,
// supervised copy and teardown all happen inside Handle.
type Handler interface {
	Handle(ctx context.Context, conn *net.TCPConn)
}

// Acceptor runs the accept loop for one listening endpoint.
type Acceptor struct {
	Listener  *net.TCPListener
	Handler   Handler
	Keepalive time.Duration // 0 disables keepalive tuning
	Logger    *logrus.Entry
}

// Bind resolves and listens on addr.
func Bind(addr string) (*net.TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenTCP("tcp", tcpAddr)
}

// Run accepts connections until the listener is closed or ctx is
// cancelled. Accept errors are logged and do not terminate the loop;
// listener closure terminates it cleanly.
func (a *Acceptor) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.Listener.Close()
	}()

	for {
		conn, err := a.Listener.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			a.Logger.WithError(err).Warn("accept")
			continue
		}

		if a.Keepalive > 0 {
			conn.SetKeepAlive(true)
			conn.SetKeepAlivePeriod(a.Keepalive)
		}

		a.Logger.WithField("peer", conn.RemoteAddr()).Info("accepted connection")
		go a.Handler.Handle(ctx, conn)
	}
}
