// Package metrics holds the Prometheus collectors exported by Cadence. Collectors
// are registered against the default registry, which is served by Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cadence"

var (
	MediaObjectTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "transitions_total",
		Help:      "Media object state transitions, by object kind and destination state.",
	}, []string{"kind", "state"})

	IngestTroubles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "troubles_total",
		Help:      "Troubles encountered during ingestion, by trouble kind.",
	}, []string{"kind"})

	IngestStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "step_duration_seconds",
		Help:      "Duration of each ingestion step, by the state the step starts from.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"state"})

	IngestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "in_flight",
		Help:      "Media objects currently being driven through the state machine.",
	})

	StrandedPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "stranded_promotions_total",
		Help:      "Media objects found stranded in INGESTED and promoted by the sweep.",
	})

	PostProcessResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "postprocess",
		Name:      "results_total",
		Help:      "Best-effort post-processing results, by object kind and result.",
	}, []string{"kind", "result"})

	StreamResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "responses_total",
		Help:      "Streaming responses, by HTTP status code.",
	}, []string{"status"})

	StreamBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "bytes_total",
		Help:      "Bytes of media written to streaming clients.",
	})

	BatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "created_total",
		Help:      "Upload batches created.",
	})

	MediaSlotsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "slots_granted_total",
		Help:      "Media slots granted, by object kind.",
	}, []string{"kind"})
)

// Handler returns the HTTP handler which exposes all registered collectors
func Handler() http.Handler {
	return promhttp.Handler()
}
