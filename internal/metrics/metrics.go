package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeReasoning labels jobs finalised by the reasoning step.
	OutcomeReasoning = "reasoning"
	// OutcomeFallback labels jobs finalised by the fallback analyzer.
	OutcomeFallback = "fallback"
	// OutcomeFailed labels jobs that produced no result at all.
	OutcomeFailed = "failed"
)

var (
	messagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "messages_routed_total",
			Help:      "Inbound messages handled, partitioned by routed action.",
		},
		[]string{"action"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "jobs_total",
			Help:      "Triage jobs executed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	jobDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "triage_engine",
			Name:      "job_seconds",
			Help:      "Triage job latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120},
		},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "tool_calls_total",
			Help:      "Tool dispatcher invocations, partitioned by tool and result.",
		},
		[]string{"tool", "result"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "context_cache_lookups_total",
			Help:      "Context cache lookups, partitioned by hit/miss.",
		},
		[]string{"result"},
	)

	poolRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "triage_engine",
			Name:      "pool_rejections_total",
			Help:      "Submissions rejected because the per-key queue was full.",
		},
	)
)

// Register attaches triage-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		messagesRouted,
		jobsTotal,
		jobDurationSeconds,
		toolCallsTotal,
		cacheLookups,
		poolRejections,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRoutedMessage counts one routed inbound message.
func ObserveRoutedMessage(action string) {
	messagesRouted.WithLabelValues(action).Inc()
}

// ObserveJob records a completed triage job with its duration and outcome.
func ObserveJob(duration time.Duration, outcome string) {
	jobsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	jobDurationSeconds.Observe(duration.Seconds())
}

// ObserveToolCall counts one dispatcher invocation.
func ObserveToolCall(tool, result string) {
	toolCallsTotal.WithLabelValues(tool, result).Inc()
}

// ObserveCacheLookup counts a context-cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// ObservePoolRejection counts a busy-rejected submission.
func ObservePoolRejection() {
	poolRejections.Inc()
}
