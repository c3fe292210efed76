package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	JobResultSuccess = "success"
	JobResultFailure = "failure"
	JobResultSkipped = "skipped"
)

// JobMetrics records maintenance job runs.
type JobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "maintenance_job_runs_total",
		Help: "Maintenance job runs by job and result.",
	}, []string{"job", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "maintenance_job_duration_seconds",
		Help:    "Duration of maintenance jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	reg.MustRegister(runs, duration)
	return &JobMetrics{runs: runs, duration: duration}
}

// ObserveRun records one job execution. Skipped runs carry no duration.
func (j *JobMetrics) ObserveRun(job, result string, elapsed time.Duration) {
	if j == nil || j.runs == nil {
		return
	}
	job = normalizeLabel(job)
	j.runs.WithLabelValues(job, normalizeLabel(result)).Inc()
	if result != JobResultSkipped {
		j.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	}
}
