// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kenning"

var (
	// contextsComputed counts context computations.
	// Labels: complexity
	contextsComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "contexts_total",
		Help:      "Total computed contexts by complexity tier",
	}, []string{"complexity"})

	computeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "compute_seconds",
		Help:      "Context computation latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// handoffs counts ingested handoffs.
	// Labels: result (accepted, rejected), field (first invalid field, empty when accepted)
	handoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "handoff",
		Name:      "records_total",
		Help:      "Handoff records by validation result",
	}, []string{"result", "field"})

	feedbackSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "strategy",
		Name:      "signals_total",
		Help:      "Feedback signals recorded",
	}, []string{"signal"})

	nodesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "knowledge",
		Name:      "nodes_created_total",
		Help:      "Knowledge nodes created by type",
	}, []string{"type"})

	persistRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persist",
		Name:      "retries_total",
		Help:      "Persistence retries by operation",
	}, []string{"op"})

	nodeCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "knowledge",
		Name:      "nodes",
		Help:      "Current number of knowledge nodes",
	})

	ruleCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "strategy",
		Name:      "rules",
		Help:      "Current number of strategy rules by confidence",
	}, []string{"confidence"})
)

// ContextComputed records one computed context.
func ContextComputed(complexity string, took time.Duration) {
	contextsComputed.WithLabelValues(complexity).Inc()
	computeLatency.Observe(took.Seconds())
}

// HandoffAccepted records an accepted handoff.
func HandoffAccepted() {
	handoffs.WithLabelValues("accepted", "").Inc()
}

// HandoffRejected records a rejected handoff and the field that failed.
func HandoffRejected(field string) {
	handoffs.WithLabelValues("rejected", field).Inc()
}

// FeedbackSignal records one occurrence of a feedback signal.
func FeedbackSignal(signal string) {
	feedbackSignals.WithLabelValues(signal).Inc()
}

// NodeCreated records a knowledge node creation.
func NodeCreated(nodeType string) {
	nodesCreated.WithLabelValues(nodeType).Inc()
}

// PersistRetry records one persistence retry. It matches persist.Options.OnRetry.
func PersistRetry(op string, _ error) {
	persistRetries.WithLabelValues(op).Inc()
}

// SetNodeCount sets the knowledge node gauge.
func SetNodeCount(n int) {
	nodeCount.Set(float64(n))
}

// SetRuleCounts replaces the rule gauge with counts keyed by confidence.
func SetRuleCounts(byConfidence map[string]int) {
	ruleCount.Reset()
	for c, n := range byConfidence {
		ruleCount.WithLabelValues(c).Set(float64(n))
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
