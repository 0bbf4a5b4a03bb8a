package relay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

// testSocks5Server is a minimal RFC 1928/1929 SOCKS5 CONNECT server,
// just enough to exercise Proxied end to end in tests.
type testSocks5Server struct {
	ln          net.Listener
	user, pass  string
	requireAuth bool
}

func startTestSocks5Server(t *testing.T, user, pass string) *testSocks5Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	s := &testSocks5Server{ln: ln, user: user, pass: pass, requireAuth: user != ""}
	go s.serve()
	return s
}

func (s *testSocks5Server) Addr() string { return s.ln.Addr().String() }
func (s *testSocks5Server) Close()       { s.ln.Close() }

func (s *testSocks5Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *testSocks5Server) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return
	}
	methods := make([]byte, int(hdr[1]))
	if _, err := io.ReadFull(r, methods); err != nil {
		return
	}

	method := byte(0x00)
	if s.requireAuth {
		method = 0x02
	}
	if _, err := conn.Write([]byte{0x05, method}); err != nil {
		return
	}

	if s.requireAuth {
		authHdr := make([]byte, 2)
		if _, err := io.ReadFull(r, authHdr); err != nil {
			return
		}
		uname := make([]byte, int(authHdr[1]))
		if _, err := io.ReadFull(r, uname); err != nil {
			return
		}
		plen := make([]byte, 1)
		if _, err := io.ReadFull(r, plen); err != nil {
			return
		}
		passwd := make([]byte, int(plen[0]))
		if _, err := io.ReadFull(r, passwd); err != nil {
			return
		}
		if string(uname) != s.user || string(passwd) != s.pass {
			conn.Write([]byte{0x01, 0x01})
			return
		}
		conn.Write([]byte{0x01, 0x00})
	}

	reqHdr := make([]byte, 4)
	if _, err := io.ReadFull(r, reqHdr); err != nil {
		return
	}

	var host string
	switch reqHdr[3] {
	case 0x01:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(r, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	case 0x03:
		l := make([]byte, 1)
		if _, err := io.ReadFull(r, l); err != nil {
			return
		}
		name := make([]byte, int(l[0]))
		if _, err := io.ReadFull(r, name); err != nil {
			return
		}
		host = string(name)
	default:
		return
	}
	portB := make([]byte, 2)
	if _, err := io.ReadFull(r, portB); err != nil {
		return
	}
	target := fmt.Sprintf("%s:%d", host, binary.BigEndian.Uint16(portB))

	upstream, err := net.DialTimeout("tcp", target, 5*time.Second)
	if err != nil {
		conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer upstream.Close()

	conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, r); done <- struct{}{} }()
	go func() { io.Copy(conn, upstream); done <- struct{}{} }()
	<-done
}
