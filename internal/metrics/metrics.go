// Package metrics exposes the relay's kernel-bypass bookkeeping as
// prometheus gauges and counters: slot usage, enrollment outcomes and
// active connection counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is the set of metrics the supervisor updates.
// The zero value is not usable; build one with New.
type Recorder struct {
	SlotsInUse          prometheus.Gauge
	ActiveConnections   prometheus.Gauge
	EnrollmentsTotal    prometheus.Counter
	EnrollmentFailures  prometheus.Counter
	FallbackConnections prometheus.Counter
}

// New creates and registers a Recorder against reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		SlotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sockmap_slots_in_use",
			Help: "Number of socket-map slots currently allocated.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Number of connection pairs currently being relayed.",
		}),
		EnrollmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_enrollments_total",
			Help: "Connection pairs successfully enrolled into the kernel data plane.",
		}),
		EnrollmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_enrollment_failures_total",
			Help: "Kernel map Add calls that failed (e.g. capacity exhaustion), as opposed to connections skipped for being non-IPv4.",
		}),
		FallbackConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_fallback_connections_total",
			Help: "Connections relayed entirely in userspace (non-IPv4 addresses or a kernel map Add failure).",
		}),
	}
	reg.MustRegister(
		r.SlotsInUse,
		r.ActiveConnections,
		r.EnrollmentsTotal,
		r.EnrollmentFailures,
		r.FallbackConnections,
	)
	return r
}
