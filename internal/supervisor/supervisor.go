// Package supervisor owns a Connection Pair for its entire lifetime:
// it enrolls both directions into the kernel data plane (or falls back
// to userspace copy), runs the bidirectional copy, and removes each
// Flow Key at the earliest moment its half-direction ends — the
// design's central correctness property, since a stale lookup-map
// entry could mis-redirect a new connection that reuses the same
// ephemeral port.
package supervisor

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ihciah/socks5-forwarder/internal/flowkey"
	"github.com/ihciah/socks5-forwarder/internal/metrics"
	"github.com/ihciah/socks5-forwarder/internal/relay"
	"github.com/ihciah/socks5-forwarder/internal/sockmap"
)

// halfCloser is implemented by *net.TCPConn and by the net.Conn that
// golang.org/x/net/proxy returns (itself backed by *net.TCPConn).
type halfCloser interface {
	CloseWrite() error
}

// Supervisor implements acceptor.Handler by driving a Strategy and a
// sockmap.Controller together for each accepted connection.
type Supervisor struct {
	Strategy   relay.Strategy
	Controller *sockmap.Controller
	Logger     *logrus.Logger
	Metrics    *metrics.Recorder
}

// New builds a Supervisor. rec may be nil to disable metrics.
func New(strategy relay.Strategy, controller *sockmap.Controller, logger *logrus.Logger, rec *metrics.Recorder) *Supervisor {
	return &Supervisor{Strategy: strategy, Controller: controller, Logger: logger, Metrics: rec}
}

// Handle builds the pair, enrolls it if possible, relays bytes, and
// tears the pair down. It never returns an error: all failures are
// logged and the connection is simply dropped or falls back.
func (s *Supervisor) Handle(ctx context.Context, inbound *net.TCPConn) {
	log := s.Logger.WithField("peer", inbound.RemoteAddr())

	pair, err := s.Strategy.Build(ctx, inbound)
	if err != nil {
		log.WithError(err).Warn("failed to establish relay")
		return
	}
	defer pair.Close()

	if s.Metrics != nil {
		s.Metrics.ActiveConnections.Inc()
		defer s.Metrics.ActiveConnections.Dec()
	}

	keyIn, keyOut, enrolled := s.enroll(log, pair)
	if s.Metrics != nil {
		if enrolled {
			s.Metrics.EnrollmentsTotal.Inc()
		} else {
			s.Metrics.FallbackConnections.Inc()
		}
	}

	s.copy(log, pair, keyIn, keyOut)
}

// enroll installs both directions of an IPv4 pair into the kernel data
// plane. Any failure — non-IPv4 addresses, or a kernel-side add
// failure such as capacity exhaustion — leaves both keys unset and the
// caller proceeds with plain userspace copy (I4, I5).
func (s *Supervisor) enroll(log *logrus.Entry, pair *relay.Pair) (keyIn, keyOut *flowkey.Key, ok bool) {
	inAddr, inOK := pair.InboundPeerAddr.(*net.TCPAddr)
	outAddr, outOK := pair.OutboundLocalAddr.(*net.TCPAddr)
	if !inOK || !outOK || inAddr.IP.To4() == nil || outAddr.IP.To4() == nil {
		return nil, nil, false
	}

	kIn, err := flowkey.Remote(inAddr.IP, uint16(inAddr.Port))
	if err != nil {
		log.WithError(err).Warn("enrollment key build failed")
		return nil, nil, false
	}
	kOut, err := flowkey.Local(outAddr.IP, uint16(outAddr.Port))
	if err != nil {
		log.WithError(err).Warn("enrollment key build failed")
		return nil, nil, false
	}

	if err := s.Controller.Add(pair.OutboundFD, kIn); err != nil {
		if errors.Is(err, sockmap.ErrInconsistentState) {
			log.WithError(err).Fatal("enrollment rollback violated socket-map/lookup-map consistency")
		}
		log.WithError(err).Warn("enrollment failed, continuing in userspace fallback")
		if s.Metrics != nil {
			s.Metrics.EnrollmentFailures.Inc()
		}
		return nil, nil, false
	}
	if err := s.Controller.Add(pair.InboundFD, kOut); err != nil {
		if errors.Is(err, sockmap.ErrInconsistentState) {
			log.WithError(err).Fatal("enrollment rollback violated socket-map/lookup-map consistency")
		}
		log.WithError(err).Warn("enrollment failed, continuing in userspace fallback")
		if s.Metrics != nil {
			s.Metrics.EnrollmentFailures.Inc()
		}
		if delErr := s.Controller.Delete(kIn); delErr != nil {
			s.fatalIfInconsistent(log, delErr)
		}
		return nil, nil, false
	}

	if s.Metrics != nil {
		s.Metrics.SlotsInUse.Set(float64(s.Controller.InUse()))
	}
	log.WithField("keyIn", kIn).WithField("keyOut", kOut).Debug("enrolled connection pair")
	return &kIn, &kOut, true
}

// copy runs both copy directions concurrently and deletes each key on
// its direction's first half-close, per the state machine:
// Enrolled -> HalfClosed{in|out} triggers the paired delete.
func (s *Supervisor) copy(log *logrus.Entry, pair *relay.Pair, keyIn, keyOut *flowkey.Key) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		io.Copy(pair.Outbound, pair.Inbound)
		shutdownWrite(pair.Outbound)
		s.disenroll(log, keyIn)
	}()

	go func() {
		defer wg.Done()
		io.Copy(pair.Inbound, pair.Outbound)
		shutdownWrite(pair.Inbound)
		s.disenroll(log, keyOut)
	}()

	wg.Wait()
	log.Info("relay finished")
}

func (s *Supervisor) disenroll(log *logrus.Entry, key *flowkey.Key) {
	if key == nil {
		return
	}
	if err := s.Controller.Delete(*key); err != nil {
		s.fatalIfInconsistent(log, err)
	}
	if s.Metrics != nil {
		s.Metrics.SlotsInUse.Set(float64(s.Controller.InUse()))
	}
}

// fatalIfInconsistent enforces the spec's error-handling taxonomy: a
// map delete failure that would leave I1 violated (a released slot
// whose kernel-side entries weren't both removed) is fatal for the
// process; any other delete failure is merely logged.
func (s *Supervisor) fatalIfInconsistent(log *logrus.Entry, err error) {
	if errors.Is(err, sockmap.ErrInconsistentState) {
		log.WithError(err).Fatal("map delete violated socket-map/lookup-map consistency")
		return
	}
	log.WithError(err).Error("map delete failed")
}

func shutdownWrite(conn net.Conn) {
	if hc, ok := conn.(halfCloser); ok {
		hc.CloseWrite()
	}
}
