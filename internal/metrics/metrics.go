package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels operations that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels operations that failed (transport, validation or panic).
	OutcomeError = "error"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evebox_review",
			Name:      "jobs_total",
			Help:      "Mutating jobs settled by the submission queue, partitioned by job name and outcome.",
		},
		[]string{"job", "outcome"},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evebox_review",
			Name:      "job_seconds",
			Help:      "Time from submission to settlement of a queued job.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"job"},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "evebox_review",
			Name:      "queue_pending_jobs",
			Help:      "Jobs waiting for admission.",
		},
	)

	queueRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "evebox_review",
			Name:      "queue_running_jobs",
			Help:      "Jobs currently running against the backend.",
		},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evebox_review",
			Name:      "backend_requests_total",
			Help:      "Requests issued to the EveBox API, partitioned by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	requestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evebox_review",
			Name:      "backend_request_seconds",
			Help:      "EveBox API request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	sweepGroupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evebox_review",
			Name:      "sweep_alert_groups_total",
			Help:      "Alert groups acted on by auto-archive sweeps, partitioned by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evebox_review",
			Name:      "sweeps_total",
			Help:      "Auto-archive sweeps run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches evebox-review collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		jobsTotal,
		jobDurationSeconds,
		queuePending,
		queueRunning,
		requestsTotal,
		requestDurationSeconds,
		sweepGroupsTotal,
		sweepsTotal,
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

// ObserveJob records a settled job.
func ObserveJob(job string, duration time.Duration, outcome string) {
	jobsTotal.WithLabelValues(job, normaliseOutcome(outcome)).Inc()
	jobDurationSeconds.WithLabelValues(job).Observe(nonNegative(duration).Seconds())
}

// SetQueueDepth publishes the queue's pending and running counts.
func SetQueueDepth(pending, running int) {
	queuePending.Set(float64(pending))
	queueRunning.Set(float64(running))
}

// ObserveRequest records one backend request.
func ObserveRequest(method string, duration time.Duration, outcome string) {
	requestsTotal.WithLabelValues(method, normaliseOutcome(outcome)).Inc()
	requestDurationSeconds.WithLabelValues(method).Observe(nonNegative(duration).Seconds())
}

// ObserveSweepGroup records the outcome of one rule action on an alert group.
func ObserveSweepGroup(action, outcome string) {
	sweepGroupsTotal.WithLabelValues(action, normaliseOutcome(outcome)).Inc()
}

// ObserveSweep records a completed sweep.
func ObserveSweep(outcome string) {
	sweepsTotal.WithLabelValues(normaliseOutcome(outcome)).Inc()
}

func normaliseOutcome(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return OutcomeError
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
