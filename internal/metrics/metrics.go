// Package metrics exposes internal instrumentation for a flashing
// session: bytes transferred, chunks acknowledged, and per-session
// duration. It is internal telemetry, distinct from the CLI's own
// progress rendering.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors a session reports to. Callers that
// do not want Prometheus exposition can construct one with a private
// registerer and never serve it.
type Registry struct {
	BytesTransferred prometheus.Counter
	ChunksAcked      prometheus.Counter
	SessionDuration  prometheus.Histogram
	TransferErrors   *prometheus.CounterVec
}

// NewRegistry creates and registers the collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to expose on the default /metrics path.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		BytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lthor",
			Name:      "bytes_transferred_total",
			Help:      "Total body bytes acknowledged by the device across all sessions.",
		}),
		ChunksAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lthor",
			Name:      "chunks_acked_total",
			Help:      "Total data-response acknowledgements received.",
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lthor",
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of a flashing run, from the start of orchestration to reboot or the first failure.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		TransferErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lthor",
			Name:      "transfer_errors_total",
			Help:      "Transfer failures by error kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(r.BytesTransferred, r.ChunksAcked, r.SessionDuration, r.TransferErrors)
	return r
}

// Noop returns a Registry backed by a private, never-served registry,
// for callers that want metrics calls to be safe no-ops.
func Noop() *Registry {
	return NewRegistry(prometheus.NewRegistry())
}
