// Command relay runs a TCP relay that forwards accepted connections to
// a fixed target, directly or through a SOCKS5 proxy, and enrolls each
// direction into an eBPF sockmap so the kernel forwards payload bytes
// without crossing into userspace after the initial handshake.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/ihciah/socks5-forwarder/internal/acceptor"
	"github.com/ihciah/socks5-forwarder/internal/metrics"
	"github.com/ihciah/socks5-forwarder/internal/probe"
	"github.com/ihciah/socks5-forwarder/internal/relay"
	"github.com/ihciah/socks5-forwarder/internal/sockmap"
	"github.com/ihciah/socks5-forwarder/internal/supervisor"
)

type options struct {
	listen      string
	target      string
	proxyAddr   string
	proxyUser   string
	proxyPass   string
	metricsAddr string
	logLevel    string
	keepalive   time.Duration
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Kernel-bypass TCP relay backed by an eBPF sockmap",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.listen, "listen", "127.0.0.1:8000", "local address to accept connections on")
	flags.StringVar(&opts.target, "target", "", "address to forward connections to (required)")
	flags.StringVar(&opts.proxyAddr, "proxy-addr", "", "SOCKS5 proxy address; when set, connections are tunnelled through it")
	flags.StringVar(&opts.proxyUser, "proxy-user", "", "SOCKS5 username, if the proxy requires authentication")
	flags.StringVar(&opts.proxyPass, "proxy-pass", "", "SOCKS5 password, if the proxy requires authentication")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on; disabled when empty")
	flags.StringVar(&opts.logLevel, "log-level", "info", "logrus level: trace, debug, info, warn, error")
	flags.DurationVar(&opts.keepalive, "keepalive", 0, "TCP keepalive period for accepted connections; 0 leaves the listener's default keepalive settings unchanged")
	cmd.MarkFlagRequired("target")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	log := logrus.New()
	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("relay: invalid --log-level: %w", err)
	}
	log.SetLevel(level)

	if unix.Geteuid() != 0 {
		return fmt.Errorf("relay: loading the eBPF probe requires root (CAP_BPF/CAP_NET_ADMIN); got euid %d", unix.Geteuid())
	}

	p, err := probe.Load()
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer p.Close()

	controller := sockmap.NewController(p.SockMap(), p.IdxMap())

	var strategy relay.Strategy
	if opts.proxyAddr != "" {
		strategy = relay.NewProxied(opts.target, opts.proxyAddr, opts.proxyUser, opts.proxyPass)
	} else {
		strategy = relay.NewDirect(opts.target)
	}

	var rec *metrics.Recorder
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		rec = metrics.New(reg)
		serveMetrics(ctx, log, opts.metricsAddr, reg)
	}

	sup := supervisor.New(strategy, controller, log, rec)

	ln, err := acceptor.Bind(opts.listen)
	if err != nil {
		return fmt.Errorf("relay: bind %s: %w", opts.listen, err)
	}

	a := &acceptor.Acceptor{
		Listener:  ln,
		Handler:   sup,
		Keepalive: opts.keepalive,
		Logger:    log.WithField("component", "acceptor"),
	}

	log.WithFields(logrus.Fields{
		"listen": opts.listen,
		"target": opts.target,
		"proxy":  opts.proxyAddr != "",
	}).Info("relay started")

	return a.Run(ctx)
}

func serveMetrics(ctx context.Context, log *logrus.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).Warn("metrics listener failed, continuing without metrics")
		return
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
}
