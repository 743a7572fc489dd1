// Package metrics exposes prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the pipeline's prometheus collectors on a private
// registry so tests can run independent instances.
type Metrics struct {
	registry *prometheus.Registry

	SubmissionsAccepted prometheus.Counter
	BatchesDispatched   prometheus.Counter
	BatchesDemoted      prometheus.Counter
	SubmissionsDemoted  prometheus.Counter
	ToolkitErrors       prometheus.Counter
	AcksResolved        *prometheus.CounterVec
	OfflineMode         prometheus.Gauge
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		SubmissionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taxwire_submissions_accepted_total",
			Help: "Submissions durably appended to the writing batch.",
		}),
		BatchesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taxwire_batches_dispatched_total",
			Help: "Batches successfully transmitted to the filing service.",
		}),
		BatchesDemoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taxwire_batches_demoted_total",
			Help: "Failed multi-submission batches decomposed into error batches.",
		}),
		SubmissionsDemoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taxwire_submissions_demoted_total",
			Help: "Submissions copied into single-submission error batches.",
		}),
		ToolkitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taxwire_toolkit_errors_total",
			Help: "Submissions permanently failed with a toolkit error.",
		}),
		AcksResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taxwire_acknowledgements_resolved_total",
			Help: "Acknowledgements resolved to a terminal status.",
		}, []string{"status"}),
		OfflineMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taxwire_offline_mode",
			Help: "1 while dispatch is suspended by the offline mode gate.",
		}),
	}
	registry.MustRegister(
		m.SubmissionsAccepted,
		m.BatchesDispatched,
		m.BatchesDemoted,
		m.SubmissionsDemoted,
		m.ToolkitErrors,
		m.AcksResolved,
		m.OfflineMode,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
