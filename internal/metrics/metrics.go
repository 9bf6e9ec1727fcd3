// Package metrics holds the Prometheus instruments of the lease service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ojs_lease"

var (
	JobsAcquired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_acquired_total",
		Help:      "Jobs leased to workers.",
	}, []string{"topic"})

	ContentionLosses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contention_losses_total",
		Help:      "Candidates lost to a concurrent writer during acquisition.",
	}, []string{"topic"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_completed_total",
		Help:      "Jobs completed by their lease holder.",
	}, []string{"topic"})

	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_failed_total",
		Help:      "Failures reported by lease holders.",
	}, []string{"topic"})

	JobsBpmnErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_bpmn_errors_total",
		Help:      "Business errors reported by lease holders.",
	}, []string{"topic"})

	JobsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dead_lettered_total",
		Help:      "Jobs moved to the dead letter store.",
	}, []string{"topic"})

	JobsRevived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_revived_total",
		Help:      "Dead letter jobs revived into the active store.",
	}, []string{"topic"})

	LeasesReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leases_reaped_total",
		Help:      "Expired leases cleared by the reaper.",
	})

	AcquireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "acquire_duration_seconds",
		Help:      "Latency of acquireAndLock calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})

	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Build and backend information; always 1.",
	}, []string{"version", "backend"})
)

// Init records the server info metric.
func Init(version, backend string) {
	ServerInfo.WithLabelValues(version, backend).Set(1)
}

// ObserveAcquire records the latency of one acquisition on topic.
func ObserveAcquire(topic string, start time.Time) {
	AcquireDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
