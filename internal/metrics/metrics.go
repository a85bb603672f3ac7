package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	verifications  *prometheus.CounterVec
	tokensNotFound prometheus.Counter
	probes         prometheus.Counter
	probeFailures  prometheus.Counter
	unresolved     prometheus.Counter
	mints          prometheus.Counter
	errors         prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "certiblock_verifications_total",
				Help: "Total number of ownership verifications by outcome",
			}, []string{"outcome"}),
			tokensNotFound: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "certiblock_tokens_not_found_total",
				Help: "Total number of lookups for tokens that were never minted",
			}),
			probes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "certiblock_gateway_probes_total",
				Help: "Total number of gateway reachability probes",
			}),
			probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "certiblock_gateway_probe_failures_total",
				Help: "Total number of gateway probes that failed",
			}),
			unresolved: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "certiblock_unresolved_images_total",
				Help: "Total number of resolutions that exhausted every strategy without an image",
			}),
			mints: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "certiblock_mints_total",
				Help: "Total number of confirmed certificate mints",
			}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "certiblock_errors_total",
				Help: "Total number of unexpected errors encountered",
			}),
		}
		prometheus.MustRegister(
			metrics.verifications,
			metrics.tokensNotFound,
			metrics.probes,
			metrics.probeFailures,
			metrics.unresolved,
			metrics.mints,
			metrics.errors,
		)
	})
	return metrics
}

// Verification counts one verification; outcome is "verified", "mismatch", "info" or "not_found".
func (m *Metrics) Verification(outcome string) {
	if m != nil {
		m.verifications.WithLabelValues(outcome).Inc()
	}
}

// TokenNotFound increments the nonexistent token counter.
func (m *Metrics) TokenNotFound() {
	if m != nil {
		m.tokensNotFound.Inc()
	}
}

// Probe records one gateway probe and whether it succeeded.
func (m *Metrics) Probe(ok bool) {
	if m == nil {
		return
	}
	m.probes.Inc()
	if !ok {
		m.probeFailures.Inc()
	}
}

// Unresolved increments the exhausted image resolution counter.
func (m *Metrics) Unresolved() {
	if m != nil {
		m.unresolved.Inc()
	}
}

// Minted increments the confirmed mint counter.
func (m *Metrics) Minted() {
	if m != nil {
		m.mints.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
