// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "assessment_ingest"

	// Job outcomes
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var jobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "number of ingestion jobs partitioned by outcome",
	},
	[]string{"outcome"},
)

var jobDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "time spent processing one upload",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	},
)

var attemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_attempts_total",
		Help:      "number of provider attempts partitioned by provider and winning ladder step",
	},
	[]string{"provider", "step"},
)

var confidence = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "result_confidence_pct",
		Help:      "confidence of persisted extraction results",
		Buckets:   []float64{0, 20, 40, 60, 70, 80, 90, 100},
	},
)

var messagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_messages_total",
		Help:      "number of queue messages handled partitioned by queue and outcome",
	},
	[]string{"queue", "outcome"},
)

var tokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_tokens_total",
		Help:      "tokens consumed partitioned by provider and direction",
	},
	[]string{"provider", "direction"},
)

func init() {
	prometheus.MustRegister(jobsTotal, jobDuration, attemptsTotal, confidence, messagesTotal, tokensTotal)
}

// ObserveJob records one finished ingestion job.
func ObserveJob(outcome string, seconds float64) {
	jobsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
	if outcome != OutcomeSkipped {
		jobDuration.Observe(seconds)
	}
}

// ObserveAttempt records one provider attempt and its token usage.
func ObserveAttempt(provider, step string, tokensIn, tokensOut int64) {
	if step == "" {
		step = "none"
	}
	attemptsTotal.With(prometheus.Labels{"provider": provider, "step": step}).Inc()
	if tokensIn > 0 {
		tokensTotal.With(prometheus.Labels{"provider": provider, "direction": "in"}).Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		tokensTotal.With(prometheus.Labels{"provider": provider, "direction": "out"}).Add(float64(tokensOut))
	}
}

// ObserveConfidence records the confidence of a persisted result.
func ObserveConfidence(pct int) {
	confidence.Observe(float64(pct))
}

// ObserveMessage records one queue message handled by a consumer.
func ObserveMessage(queue, outcome string) {
	messagesTotal.With(prometheus.Labels{"queue": queue, "outcome": outcome}).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
