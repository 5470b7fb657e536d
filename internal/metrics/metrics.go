// Package metrics holds the Prometheus instruments of tenantgate. Recorder
// implements app.Recorder, so the services report into it directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neomorfeo/tenantgate/internal/app"
	"github.com/neomorfeo/tenantgate/internal/domain"
)

const namespace = "tenantgate"

// Recorder owns the collectors.
type Recorder struct {
	queuePasses  *prometheus.CounterVec
	provisioning *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	entitlements *prometheus.CounterVec
	authFailures *prometheus.CounterVec
	registerer   prometheus.Registerer
	gatherer     prometheus.Gatherer
}

var _ app.Recorder = (*Recorder)(nil)

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		queuePasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_passes_total",
			Help:      "Provisioning queue passes by outcome (completed, skipped, error).",
		}, []string{"outcome"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_attempts_total",
			Help:      "Tenant provisioning attempts by outcome (success, failure).",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items in the provisioning queue at the start of the last pass.",
		}),
		entitlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_transitions_total",
			Help:      "Entitlement status changes by destination status.",
		}, []string{"status"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected dashboard credentials by scheme.",
		}, []string{"scheme"}),
		registerer: reg,
		gatherer:   reg,
	}
	reg.MustRegister(
		r.queuePasses,
		r.provisioning,
		r.queueDepth,
		r.entitlements,
		r.authFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{Registry: r.registerer})
}

func (r *Recorder) QueuePass(outcome string) { r.queuePasses.WithLabelValues(outcome).Inc() }

func (r *Recorder) ProvisioningAttempt(outcome string) {
	r.provisioning.WithLabelValues(outcome).Inc()
}

func (r *Recorder) QueueDepth(n int) { r.queueDepth.Set(float64(n)) }

func (r *Recorder) EntitlementTransition(to domain.EntitlementStatus) {
	r.entitlements.WithLabelValues(string(to)).Inc()
}

func (r *Recorder) AuthFailure(scheme string) { r.authFailures.WithLabelValues(scheme).Inc() }

// Gatherer exposes the registry.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.gatherer }
