package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "campus_analytics"

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	// PipelineRuns counts recipe executions by outcome; status is "ok" or an error kind.
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "pipeline_runs_total", Help: "Number of recipe executions by recipe and status."},
		[]string{"recipe", "status"},
	)
	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Recipe execution time, cache hits excluded.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"recipe"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_lookups_total", Help: "Result cache lookups by recipe and outcome (hit, miss, error)."},
		[]string{"recipe", "outcome"},
	)
	ReportsExported = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reports_exported_total", Help: "Number of reports uploaded to object storage."},
		[]string{"recipe"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(PipelineRuns)
	reg.MustRegister(PipelineDuration)
	reg.MustRegister(CacheLookups)
	reg.MustRegister(ReportsExported)
}

// ObservePipeline records one execution of recipe that started at start.
func ObservePipeline(recipe, status string, start time.Time) {
	PipelineRuns.WithLabelValues(recipe, status).Inc()
	PipelineDuration.WithLabelValues(recipe).Observe(time.Since(start).Seconds())
}
