// Package metrics exposes the gateway's Prometheus collectors: HTTP request
// counts, epoch/consensus gauges, and rate-limit counters, grounded on
// github.com/prometheus/client_golang's standard promauto idiom — no
// production metrics.go survived retrieval from the pack's example repos,
// only test files asserting against package-level collector vars
// (prysmaticlabs-prysm/beacon-chain/core/state/metrics_test.go), so this
// follows the library's own canonical construction pattern rather than a
// specific file.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the gateway registers. A *Registry is
// constructed once at startup and threaded into the HTTP server and the
// checkpoint batcher that record against it.
type Registry struct {
	registerer prometheus.Registerer

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	CurrentBlockHeight prometheus.Gauge
	CurrentEpochID     prometheus.Gauge
	EpochTransitions   *prometheus.CounterVec

	ConsensusResultsTotal  *prometheus.CounterVec
	ConsensusApprovalRatio prometheus.Histogram

	SubmissionsTotal         *prometheus.CounterVec
	RateLimitRejectionsTotal *prometheus.CounterVec

	TransparencyAppendsTotal  *prometheus.CounterVec
	TransparencyFallbackTotal prometheus.Counter
	CheckpointsBuiltTotal     prometheus.Counter
	CheckpointEventCount      prometheus.Histogram
}

// NewRegistry builds and registers every collector against reg. pkg/appctx
// passes a fresh prometheus.NewRegistry() rather than the global
// DefaultRegisterer, and tests build an isolated Registry per case the same
// way.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		registerer: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total HTTP requests handled, by route, method, and status class.",
		}, []string{"route", "method", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		CurrentBlockHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_chain_block_height",
			Help: "Most recently observed chain block height.",
		}),
		CurrentEpochID: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_current_epoch_id",
			Help: "epoch_id derived from the most recently observed block height.",
		}),
		EpochTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_epoch_transitions_total",
			Help: "Epoch state machine transitions, by resulting state.",
		}, []string{"state"}),

		ConsensusResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_consensus_results_total",
			Help: "Finalized consensus outcomes, by decision.",
		}, []string{"decision"}),
		ConsensusApprovalRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_consensus_approval_ratio",
			Help:    "Approval ratio of finalized consensus results.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),

		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_submissions_total",
			Help: "Lead submissions accepted, by miner role outcome.",
		}, []string{"outcome"}),
		RateLimitRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Submissions rejected at the rate limiter, by reason.",
		}, []string{"reason"}),

		TransparencyAppendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_transparency_appends_total",
			Help: "Transparency log append attempts, by event type and result.",
		}, []string{"event_type", "result"}),
		TransparencyFallbackTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_transparency_fallback_writes_total",
			Help: "Events written to the local fallback file after a durable-mirror write failure.",
		}),
		CheckpointsBuiltTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_checkpoints_built_total",
			Help: "Checkpoints built from the enclave's buffered events.",
		}),
		CheckpointEventCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_checkpoint_event_count",
			Help:    "Number of events covered by each built checkpoint.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus exposition format, for mounting at the configured metrics
// address (spec.md §6.1's MetricsAddr).
func (r *Registry) Handler() http.Handler {
	if gatherer, ok := r.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
